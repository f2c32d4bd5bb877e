// Package registry holds the hand-curated table of pool identities and the
// logic that resolves free-text facility names to canonical ids.
package registry

import (
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed facilities.yaml
var defaultFacilities []byte

// DefaultThreshold is the minimum token-set similarity accepted by the fuzzy fallback
const DefaultThreshold = 0.5

// Entry is one physical facility
type Entry struct {
	ID              string   `yaml:"id"`
	DisplayName     string   `yaml:"displayName"`
	ShortName       string   `yaml:"shortName"`
	Address         string   `yaml:"address"`
	FacilityPageURL string   `yaml:"facilityPageUrl"`
	Aliases         []string `yaml:"aliases"`
}

// Metadata is the curated per-facility data that overrides extracted guesses
type Metadata struct {
	Address         string
	FacilityPageURL string
}

type file struct {
	Facilities []Entry `yaml:"facilities"`
}

type alias struct {
	entry    int
	raw      string
	norm     string
	stripped string
	tokens   map[string]struct{}
}

// Registry resolves names to facility ids. It is read-only after construction.
type Registry struct {
	entries   []Entry
	byID      map[string]int
	aliases   []alias
	exact     map[string]int
	stripped  map[string]int
	threshold float64
	logger    *slog.Logger
}

// Option configures a Registry
type Option func(*Registry)

// WithThreshold overrides the fuzzy match acceptance threshold
func WithThreshold(t float64) Option {
	return func(r *Registry) {
		if t > 0 && t <= 1 {
			r.threshold = t
		}
	}
}

// WithLogger sets the logger used for unresolved-name warnings
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Default returns the registry built from the embedded facility table
func Default(opts ...Option) (*Registry, error) {
	return Parse(defaultFacilities, opts...)
}

// Load reads a facility table from a YAML file
func Load(path string, opts ...Option) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	return Parse(data, opts...)
}

// Parse builds a registry from YAML bytes
func Parse(data []byte, opts ...Option) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	return New(f.Facilities, opts...)
}

// New builds a registry from entries in declaration order.
// Display and short names join the alias set. Two facilities may not share
// a normalized alias, or an alias that is identical once filler words are stripped.
func New(entries []Entry, opts ...Option) (*Registry, error) {
	r := &Registry{
		entries:   entries,
		byID:      make(map[string]int, len(entries)),
		exact:     make(map[string]int),
		stripped:  make(map[string]int),
		threshold: DefaultThreshold,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}

	for i, e := range entries {
		if e.ID == "" {
			return nil, fmt.Errorf("registry entry %d: empty id", i)
		}
		if _, dup := r.byID[e.ID]; dup {
			return nil, fmt.Errorf("registry: duplicate id %q", e.ID)
		}
		r.byID[e.ID] = i

		names := append([]string{e.DisplayName, e.ShortName}, e.Aliases...)
		for _, name := range names {
			norm := Normalize(name)
			if norm == "" {
				continue
			}
			if owner, ok := r.exact[norm]; ok {
				if owner != i {
					return nil, fmt.Errorf("registry: alias %q claimed by %q and %q", name, entries[owner].ID, e.ID)
				}
				continue
			}
			r.exact[norm] = i

			s := stripFiller(norm)
			if s != "" {
				if owner, ok := r.stripped[s]; ok && owner != i {
					return nil, fmt.Errorf("registry: alias %q is ambiguous between %q and %q", name, entries[owner].ID, e.ID)
				}
				r.stripped[s] = i
			}
			r.aliases = append(r.aliases, alias{
				entry:    i,
				raw:      name,
				norm:     norm,
				stripped: s,
				tokens:   keyTokens(norm),
			})
		}
	}

	return r, nil
}

// Resolve maps free text to a facility id.
// Exact alias match wins, then a match with filler words stripped, then the
// best token-set similarity at or above the threshold.
func (r *Registry) Resolve(text string) (string, bool) {
	norm := Normalize(text)
	if norm == "" {
		return "", false
	}

	if i, ok := r.exact[norm]; ok {
		return r.entries[i].ID, true
	}

	if s := stripFiller(norm); s != "" {
		if i, ok := r.exact[s]; ok {
			return r.entries[i].ID, true
		}
		if i, ok := r.stripped[s]; ok {
			return r.entries[i].ID, true
		}
	}

	tokens := keyTokens(norm)
	best, bestScore := -1, 0.0
	for _, a := range r.aliases {
		score := jaccard(tokens, a.tokens)
		// strict comparison keeps the first alias in declaration order on ties
		if score > bestScore {
			best, bestScore = a.entry, score
		}
	}
	if best >= 0 && bestScore >= r.threshold {
		r.logger.Debug("facility name resolved by similarity",
			"name", text, "id", r.entries[best].ID, "score", bestScore)
		return r.entries[best].ID, true
	}

	r.logger.Warn("unresolved facility name, consider adding an alias", "name", text)
	return "", false
}

// Validate reports whether id is a registered facility
func (r *Registry) Validate(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// AllIDs returns every facility id in declaration order
func (r *Registry) AllIDs() []string {
	ids := make([]string, len(r.entries))
	for i, e := range r.entries {
		ids[i] = e.ID
	}
	return ids
}

// Lookup returns the entry for id
func (r *Registry) Lookup(id string) (Entry, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Entry{}, false
	}
	return r.entries[i], true
}

// Position returns the declaration index of id, or -1
func (r *Registry) Position(id string) int {
	if i, ok := r.byID[id]; ok {
		return i
	}
	return -1
}

// Metadata returns the curated static metadata keyed by id
func (r *Registry) Metadata() map[string]Metadata {
	m := make(map[string]Metadata, len(r.entries))
	for _, e := range r.entries {
		m[e.ID] = Metadata{Address: e.Address, FacilityPageURL: e.FacilityPageURL}
	}
	return m
}

// Len returns the number of facilities
func (r *Registry) Len() int {
	return len(r.entries)
}

// DisplayName returns the curated display name for id, or id itself
func (r *Registry) DisplayName(id string) string {
	if e, ok := r.Lookup(id); ok {
		return e.DisplayName
	}
	return strings.TrimSpace(id)
}
