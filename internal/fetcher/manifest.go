package fetcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/fwextensions/sf-pools/internal/domain"
	"github.com/fwextensions/sf-pools/internal/fileutil"
)

// Manifest tracks the last successful download per facility.
// It is loaded once at the start of a run and saved once at the end.
type Manifest struct {
	path    string
	entries map[string]domain.ManifestEntry
}

// LoadManifest reads the manifest at path; a missing file yields an empty manifest
func LoadManifest(path string) (*Manifest, error) {
	m := &Manifest{path: path, entries: make(map[string]domain.ManifestEntry)}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if err := json.Unmarshal(data, &m.entries); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.entries == nil {
		m.entries = make(map[string]domain.ManifestEntry)
	}
	return m, nil
}

// Get returns the entry for id
func (m *Manifest) Get(id string) (domain.ManifestEntry, bool) {
	e, ok := m.entries[id]
	return e, ok
}

// Set replaces the entry for id
func (m *Manifest) Set(id string, e domain.ManifestEntry) {
	m.entries[id] = e
}

// Len returns the number of entries
func (m *Manifest) Len() int {
	return len(m.entries)
}

// Save writes the manifest atomically
func (m *Manifest) Save() error {
	data, err := json.MarshalIndent(m.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := fileutil.WriteAtomic(m.path, append(data, '\n')); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
