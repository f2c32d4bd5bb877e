// Package pipeline runs discovery, download, extraction and reconciliation
// for every registered facility and publishes the resulting dataset.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fwextensions/sf-pools/internal/changelog"
	"github.com/fwextensions/sf-pools/internal/dataset"
	"github.com/fwextensions/sf-pools/internal/discovery"
	"github.com/fwextensions/sf-pools/internal/domain"
	"github.com/fwextensions/sf-pools/internal/extractor"
	"github.com/fwextensions/sf-pools/internal/fetcher"
	"github.com/fwextensions/sf-pools/internal/metrics"
	"github.com/fwextensions/sf-pools/internal/notify"
	"github.com/fwextensions/sf-pools/internal/reconcile"
	"github.com/fwextensions/sf-pools/internal/registry"
	"github.com/fwextensions/sf-pools/internal/store"
)

// ErrLargeChange is returned when a run's severity should block promotion
var ErrLargeChange = errors.New("large change detected")

var errNoDocument = errors.New("no document discovered")

// Downloader fetches one facility document, skipping unchanged content
type Downloader interface {
	Download(ctx context.Context, id, documentURL string, prev *domain.ManifestEntry) (*fetcher.Result, error)
}

// Deps are the collaborators of a Pipeline. Extractor, Publisher and
// Notifier may be nil.
type Deps struct {
	Registry   *registry.Registry
	Discoverer discovery.Discoverer
	Downloader Downloader
	Extractor  extractor.Extractor
	Store      *store.Store
	Reconciler *reconcile.Reconciler
	Dataset    *dataset.Store
	Publisher  dataset.Publisher
	Notifier   notify.Notifier
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Options control a Pipeline's behavior
type Options struct {
	SourcesPath       string
	ManifestPath      string
	DocumentsDir      string
	ForceExtract      bool
	FailOnLargeChange bool
	Thresholds        changelog.Thresholds
	// ChangelogBaseURL, if set, is linked from notifications
	ChangelogBaseURL string
}

// Pipeline orchestrates a run. Facilities are processed one at a time.
type Pipeline struct {
	Deps
	opts Options
	now  func() time.Time
}

// New creates a Pipeline
func New(deps Deps, opts Options) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewLogNotifier(deps.Logger)
	}
	if opts.Thresholds == (changelog.Thresholds{}) {
		opts.Thresholds = changelog.DefaultThresholds()
	}
	return &Pipeline{Deps: deps, opts: opts, now: time.Now}
}

// FetchReport summarizes a download pass
type FetchReport struct {
	Downloaded []string
	Unchanged  []string
	Failed     []string
	NoDocument []string
}

// Report summarizes an extract pass
type Report struct {
	RunID            string
	Processed        []string
	Preserved        []string
	Failed           []string
	NeedsReview      []string
	AggregateWritten bool
	Changelog        *changelog.Changelog
	ChangelogFile    string
}

// Discover finds the current document for every facility and saves the
// result for Fetch. Structural drift halts here.
func (p *Pipeline) Discover(ctx context.Context) ([]domain.DiscoveredSource, error) {
	sources, err := p.Discoverer.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover: %w", err)
	}
	if err := discovery.SaveSources(p.opts.SourcesPath, sources); err != nil {
		return nil, err
	}

	found := 0
	for _, s := range sources {
		if s.DocumentURL != "" {
			found++
		}
	}
	p.Logger.Info("discovery complete", "facilities", len(sources), "documents", found)
	return sources, nil
}

// Fetch downloads every discovered document. A failed download is logged and
// marked on the facility's manifest entry, so Extract leaves that facility to
// preservation instead of re-reading its last document.
func (p *Pipeline) Fetch(ctx context.Context) (*FetchReport, error) {
	sources, err := p.loadSources()
	if err != nil {
		return nil, err
	}
	manifest, err := fetcher.LoadManifest(p.opts.ManifestPath)
	if err != nil {
		return nil, err
	}

	report := &FetchReport{}
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if src.DocumentURL == "" {
			report.NoDocument = append(report.NoDocument, src.FacilityID)
			continue
		}

		var prev *domain.ManifestEntry
		if e, ok := manifest.Get(src.FacilityID); ok {
			prev = &e
		}

		res, err := p.Downloader.Download(ctx, src.FacilityID, src.DocumentURL, prev)
		if err != nil {
			p.Logger.Warn("download failed", "facility", src.FacilityID, "url", src.DocumentURL, "error", err)
			report.Failed = append(report.Failed, src.FacilityID)
			if prev != nil {
				prev.LastError = err.Error()
				manifest.Set(src.FacilityID, *prev)
			}
			continue
		}

		res.Entry.LastError = ""
		manifest.Set(src.FacilityID, res.Entry)
		if res.Unchanged {
			p.Logger.Debug("document unchanged", "facility", src.FacilityID)
			report.Unchanged = append(report.Unchanged, src.FacilityID)
		} else {
			p.Logger.Info("document downloaded", "facility", src.FacilityID, "hash", res.Entry.ContentHash)
			report.Downloaded = append(report.Downloaded, src.FacilityID)
		}
	}

	if err := manifest.Save(); err != nil {
		return nil, err
	}
	return report, nil
}

// Extract turns downloaded documents into the aggregate dataset, carries
// forward facilities that could not be processed, and records the changes.
func (p *Pipeline) Extract(ctx context.Context) (*Report, error) {
	start := p.now()
	run, err := p.Store.StartRun(start.UTC())
	if err != nil {
		return nil, err
	}
	report, err := p.extract(ctx, run.ID)

	finished := p.now().UTC()
	run.FinishedAt = &finished
	result := "ok"
	switch {
	case errors.Is(err, ErrLargeChange):
		result = "blocked"
	case err != nil:
		result = "failed"
	}
	if report != nil {
		run.Processed = len(report.Processed)
		run.Preserved = len(report.Preserved)
		run.Failed = len(report.Failed)
		run.ChangelogFile = report.ChangelogFile
		if report.Changelog != nil {
			run.Severity = string(report.Changelog.Severity)
		}
		p.Metrics.SetFacilities(run.Processed, run.Preserved, run.Failed)
	}
	if ferr := p.Store.FinishRun(run); ferr != nil {
		p.Logger.Error("record run failed", "run", run.ID, "error", ferr)
	}
	p.Metrics.ObserveRun(start, result)

	return report, err
}

func (p *Pipeline) extract(ctx context.Context, runID string) (*Report, error) {
	previous, hadPrevious, err := p.Dataset.LoadAggregate()
	if err != nil {
		return nil, err
	}
	sources, err := p.loadSources()
	if err != nil {
		return nil, err
	}
	manifest, err := fetcher.LoadManifest(p.opts.ManifestPath)
	if err != nil {
		return nil, err
	}
	cache, err := p.Store.LoadExtractionCache()
	if err != nil {
		return nil, err
	}

	report := &Report{RunID: runID}
	var fresh []domain.Facility
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records, err := p.processFacility(ctx, src, manifest, cache)
		if err != nil {
			p.Logger.Warn("facility not processed", "facility", src.FacilityID, "error", err)
			report.Failed = append(report.Failed, src.FacilityID)
			continue
		}
		for _, r := range records {
			if r.NeedsReview {
				report.NeedsReview = append(report.NeedsReview, r.Name)
			}
		}
		fresh = append(fresh, records...)
		report.Processed = append(report.Processed, src.FacilityID)
	}

	if err := p.Store.SaveExtractionCache(cache); err != nil {
		p.Logger.Error("save extraction cache failed", "error", err)
	}

	p.warnDuplicates(fresh)
	merged, preserved := reconcile.Preserve(previous, fresh)
	reconcile.Order(merged, p.Registry.Position)
	report.Preserved = preserved
	if len(preserved) > 0 {
		p.Logger.Warn("facilities preserved from previous run", "facilities", strings.Join(preserved, ","))
	}

	cl := changelog.Diff(previous, merged, p.opts.Thresholds)
	cl.Timestamp = p.now().UTC()
	cl.RunID = runID
	report.Changelog = &cl
	p.Metrics.ObserveChanges(cl.Summary.ProgramsAdded, cl.Summary.ProgramsRemoved, cl.Summary.ProgramsModified, cl.Severity.Rank())

	data, written, err := p.Dataset.WriteAggregate(merged)
	if err != nil {
		return report, err
	}
	report.AggregateWritten = written
	if written {
		p.publish(ctx, dataset.AggregateFile, data)
	}

	if cl.Empty() {
		p.Logger.Info("no changes detected")
	} else {
		name, clData, err := p.Dataset.WriteChangelog(cl, p.now().In(reconcile.Pacific))
		if err != nil {
			return report, err
		}
		report.ChangelogFile = name
		p.publish(ctx, dataset.ChangelogDir+"/"+name, clData)
		p.Logger.Info("changelog written", "file", name, "severity", cl.Severity, "changes", cl.Summary.TotalChanges)

		if err := p.Notifier.Notify(ctx, notify.FromChangelog(cl, p.changelogLink(name))); err != nil {
			p.Logger.Warn("notification failed", "error", err)
		}
	}

	if p.opts.FailOnLargeChange && hadPrevious && cl.Severity.Large() {
		return report, fmt.Errorf("%w: severity %s (%d changes)", ErrLargeChange, cl.Severity, cl.Summary.TotalChanges)
	}
	return report, nil
}

// processFacility extracts and reconciles one facility's current document.
// Only a document fetched from the currently discovered URL counts.
func (p *Pipeline) processFacility(ctx context.Context, src domain.DiscoveredSource, manifest *fetcher.Manifest, cache *store.ExtractionCache) ([]domain.Facility, error) {
	if src.DocumentURL == "" {
		return nil, errNoDocument
	}
	entry, ok := manifest.Get(src.FacilityID)
	if !ok {
		return nil, fmt.Errorf("no downloaded document")
	}
	if entry.LastError != "" {
		return nil, fmt.Errorf("last download failed: %s", entry.LastError)
	}
	if entry.DocumentURL != src.DocumentURL {
		return nil, fmt.Errorf("document %s not downloaded, run fetch first", src.DocumentURL)
	}
	doc, err := os.ReadFile(filepath.Join(p.opts.DocumentsDir, entry.Filename))
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	hash := fetcher.Hash(doc)

	raw, hit := cache.Get(src.FacilityID, hash)
	if hit && !p.opts.ForceExtract {
		p.Metrics.CacheHit()
		p.Logger.Debug("extraction cache hit", "facility", src.FacilityID)
	} else {
		p.Metrics.CacheMiss()
		if p.Extractor == nil {
			return nil, fmt.Errorf("no extractor configured")
		}
		started := time.Now()
		raw, err = p.Extractor.Extract(ctx, doc, extractor.Hints{
			SourceURL:       entry.DocumentURL,
			FacilityPageURL: src.FacilityPageURL,
		})
		p.Metrics.ObserveExtraction(started)
		if err != nil {
			return nil, fmt.Errorf("extract: %w", err)
		}
		cache.Put(src.FacilityID, hash, raw, p.now().UTC())
		p.Logger.Info("extracted", "facility", src.FacilityID, "facilities", len(raw))
	}

	hints := reconcile.Hints{
		FacilityID:      src.FacilityID,
		DocumentURL:     entry.DocumentURL,
		FacilityPageURL: src.FacilityPageURL,
	}
	records := make([]domain.Facility, 0, len(raw))
	for _, r := range raw {
		records = append(records, p.Reconciler.Reconcile(r, hints))
	}
	return records, nil
}

// Run chains Discover, Fetch and Extract
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	if _, err := p.Discover(ctx); err != nil {
		return nil, err
	}
	fr, err := p.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	p.Logger.Info("fetch complete",
		"downloaded", len(fr.Downloaded), "unchanged", len(fr.Unchanged),
		"failed", len(fr.Failed), "no_document", len(fr.NoDocument))
	return p.Extract(ctx)
}

func (p *Pipeline) loadSources() ([]domain.DiscoveredSource, error) {
	sources, err := discovery.LoadSources(p.opts.SourcesPath)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no discovered sources in %s, run discover first", p.opts.SourcesPath)
	}
	return sources, nil
}

func (p *Pipeline) warnDuplicates(records []domain.Facility) {
	seen := make(map[string]bool, len(records))
	for _, r := range records {
		if r.ID == "" {
			continue
		}
		if seen[r.ID] {
			p.Logger.Warn("duplicate facility in run, keeping the first", "facility", r.ID, "name", r.Name)
		}
		seen[r.ID] = true
	}
}

func (p *Pipeline) publish(ctx context.Context, key string, data []byte) {
	if p.Publisher == nil {
		return
	}
	if err := p.Publisher.Publish(ctx, key, data); err != nil {
		p.Logger.Warn("publish failed", "key", key, "error", err)
	}
}

func (p *Pipeline) changelogLink(name string) string {
	if p.opts.ChangelogBaseURL == "" {
		return ""
	}
	return strings.TrimRight(p.opts.ChangelogBaseURL, "/") + "/" + name
}
