// Package reconcile turns raw extracted facility records into the final
// records stored in the aggregate dataset, and carries forward records for
// facilities that could not be processed in the current run.
package reconcile

import (
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/fwextensions/sf-pools/internal/domain"
	"github.com/fwextensions/sf-pools/internal/registry"
	"github.com/fwextensions/sf-pools/internal/taxonomy"
)

// DateLayout is the calendar date format used in the dataset
const DateLayout = "2006-01-02"

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Pacific is the civil timezone of every time in the dataset
var Pacific = loadPacific()

func loadPacific() *time.Location {
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		return time.UTC
	}
	return loc
}

// Resolver maps free-text facility names to registry ids
type Resolver interface {
	Resolve(text string) (string, bool)
	Lookup(id string) (registry.Entry, bool)
}

// Hints are per-run facts about the document a record was extracted from
type Hints struct {
	FacilityID      string
	DocumentURL     string
	FacilityPageURL string
}

// Reconciler builds reconciled facility records
type Reconciler struct {
	resolver Resolver
	metadata map[string]registry.Metadata
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithClock overrides the clock used for default lastUpdated dates
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a Reconciler. metadata is curated per-facility data keyed by id.
func New(resolver Resolver, metadata map[string]registry.Metadata, opts ...Option) *Reconciler {
	r := &Reconciler{
		resolver: resolver,
		metadata: metadata,
		now:      time.Now,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile never fails: an unmatched name yields a record flagged for review,
// and missing metadata leaves the extracted values in place.
func (r *Reconciler) Reconcile(raw domain.ExtractedFacility, hints Hints) domain.Facility {
	b := newBuilder(raw, r.now().In(Pacific).Format(DateLayout))

	if id, ok := r.resolver.Resolve(raw.PoolName); ok {
		entry, _ := r.resolver.Lookup(id)
		b.identify(entry)
		if hints.FacilityID != "" && hints.FacilityID != id {
			r.logger.Warn("document names a different facility than expected",
				"expected", hints.FacilityID, "resolved", id, "name", raw.PoolName)
		}
	} else {
		b.needsReview()
		r.logger.Warn("facility needs review", "name", raw.PoolName, "document", hints.DocumentURL)
	}

	if m, ok := r.metadata[b.f.ID]; ok && b.f.ID != "" {
		b.overlayMetadata(m)
	}
	b.overlaySource(hints)
	b.programs(raw.Programs)

	return b.build()
}

// builder assembles a Facility in stages. Every optional field is defaulted
// from the raw record up front, so each stage only ever overrides.
type builder struct {
	f domain.Facility
}

func newBuilder(raw domain.ExtractedFacility, today string) *builder {
	name := strings.TrimSpace(raw.PoolName)
	lastUpdated := raw.LastUpdated
	if !datePattern.MatchString(lastUpdated) {
		lastUpdated = today
	}
	return &builder{f: domain.Facility{
		Name:              raw.PoolName,
		ShortName:         titleCase(name),
		DisplayName:       titleCase(name),
		Address:           strings.TrimSpace(raw.Address),
		SourceDocumentURL: raw.SourceURL,
		LastUpdated:       lastUpdated,
		Season:            strings.TrimSpace(raw.Season),
		StartDate:         validDate(raw.StartDate),
		EndDate:           validDate(raw.EndDate),
		LaneCount:         raw.LaneCount,
		Programs:          []domain.Program{},
	}}
}

func (b *builder) identify(e registry.Entry) {
	b.f.ID = e.ID
	b.f.NeedsReview = false
	if e.DisplayName != "" {
		b.f.DisplayName = e.DisplayName
	}
	if e.ShortName != "" {
		b.f.ShortName = e.ShortName
	}
}

func (b *builder) needsReview() {
	b.f.ID = ""
	b.f.NeedsReview = true
}

func (b *builder) overlayMetadata(m registry.Metadata) {
	if m.Address != "" {
		b.f.Address = m.Address
	}
	if m.FacilityPageURL != "" {
		b.f.FacilityPageURL = m.FacilityPageURL
	}
}

func (b *builder) overlaySource(h Hints) {
	b.f.SourceFacility = h.FacilityID
	if h.DocumentURL != "" {
		b.f.SourceDocumentURL = h.DocumentURL
	}
	if b.f.FacilityPageURL == "" {
		b.f.FacilityPageURL = h.FacilityPageURL
	}
}

func (b *builder) programs(raw []domain.ExtractedProgram) {
	for _, p := range raw {
		b.f.Programs = append(b.f.Programs, domain.Program{
			Category:         taxonomy.Label(p.ProgramName),
			CategoryOriginal: p.ProgramName,
			DayOfWeek:        p.DayOfWeek,
			StartTime:        p.StartTime,
			EndTime:          p.EndTime,
			Lanes:            p.Lanes,
			Notes:            strings.TrimSpace(p.Notes),
		})
	}
}

func (b *builder) build() domain.Facility {
	return b.f
}

func validDate(s string) string {
	if datePattern.MatchString(s) {
		return s
	}
	return ""
}

func titleCase(s string) string {
	return cases.Title(language.English).String(strings.Join(strings.Fields(s), " "))
}
