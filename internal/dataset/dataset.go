// Package dataset reads and writes the published artifacts: the aggregate
// facility file and the append-only changelog history.
package dataset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fwextensions/sf-pools/internal/changelog"
	"github.com/fwextensions/sf-pools/internal/domain"
	"github.com/fwextensions/sf-pools/internal/fileutil"
)

const (
	// AggregateFile is the aggregate's file name inside the data dir
	AggregateFile = "pools.json"
	// ChangelogDir holds one file per run with changes
	ChangelogDir = "changelogs"
)

// ErrNotFound is returned for a changelog that does not exist
var ErrNotFound = errors.New("not found")

// Store handles the files under a data directory
type Store struct {
	dir string
}

// New creates a Store rooted at dir
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the data directory
func (s *Store) Dir() string {
	return s.dir
}

// AggregatePath returns the path of the aggregate file
func (s *Store) AggregatePath() string {
	return filepath.Join(s.dir, AggregateFile)
}

// LoadAggregate reads the current aggregate. exists is false when no
// aggregate has been written yet.
func (s *Store) LoadAggregate() (records []domain.Facility, exists bool, err error) {
	data, err := os.ReadFile(s.AggregatePath())
	if errors.Is(err, fs.ErrNotExist) {
		return []domain.Facility{}, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read aggregate: %w", err)
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, true, fmt.Errorf("parse aggregate: %w", err)
	}
	if records == nil {
		records = []domain.Facility{}
	}
	return records, true, nil
}

// MarshalAggregate renders records the way they are stored on disk
func MarshalAggregate(records []domain.Facility) ([]byte, error) {
	if records == nil {
		records = []domain.Facility{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal aggregate: %w", err)
	}
	return append(data, '\n'), nil
}

// WriteAggregate replaces the aggregate atomically. Nothing is written
// when the content is byte-identical; written reports which happened.
func (s *Store) WriteAggregate(records []domain.Facility) (data []byte, written bool, err error) {
	data, err = MarshalAggregate(records)
	if err != nil {
		return nil, false, err
	}

	current, err := os.ReadFile(s.AggregatePath())
	if err == nil && bytes.Equal(current, data) {
		return data, false, nil
	}

	if err := fileutil.WriteAtomic(s.AggregatePath(), data); err != nil {
		return nil, false, fmt.Errorf("write aggregate: %w", err)
	}
	return data, true, nil
}

// WriteChangelog stores cl under the date of at and returns the file name.
// A second changelog on the same day gets a time suffix. Existing files are
// never replaced.
func (s *Store) WriteChangelog(cl changelog.Changelog, at time.Time) (string, []byte, error) {
	data, err := json.MarshalIndent(cl, "", "  ")
	if err != nil {
		return "", nil, fmt.Errorf("marshal changelog: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Join(s.dir, ChangelogDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("create changelog dir: %w", err)
	}

	for i := 0; ; i++ {
		name := changelogName(at, i)

		f, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", nil, fmt.Errorf("create changelog: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return "", nil, fmt.Errorf("write changelog: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", nil, fmt.Errorf("write changelog: %w", err)
		}
		return name, data, nil
	}
}

// ListChangelogs returns changelog file names, newest first
func (s *Store) ListChangelogs() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, ChangelogDir))
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list changelogs: %w", err)
	}

	names := []string{}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool {
		return strings.TrimSuffix(names[i], ".json") > strings.TrimSuffix(names[j], ".json")
	})
	return names, nil
}

// ReadChangelog loads one changelog by file name
func (s *Store) ReadChangelog(name string) (*changelog.Changelog, error) {
	if !validName(name) {
		return nil, ErrNotFound
	}
	if !strings.HasSuffix(name, ".json") {
		name += ".json"
	}

	data, err := os.ReadFile(filepath.Join(s.dir, ChangelogDir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read changelog: %w", err)
	}

	var cl changelog.Changelog
	if err := json.Unmarshal(data, &cl); err != nil {
		return nil, fmt.Errorf("parse changelog %s: %w", name, err)
	}
	return &cl, nil
}

// changelogName returns the i-th candidate file name for a changelog at t
func changelogName(t time.Time, i int) string {
	date := t.Format("2006-01-02")
	switch i {
	case 0:
		return date + ".json"
	case 1:
		return date + "-" + t.Format("150405") + ".json"
	default:
		return fmt.Sprintf("%s-%s-%d.json", date, t.Format("150405"), i)
	}
}

func validName(name string) bool {
	return name != "" && !strings.ContainsAny(name, `/\`) && !strings.Contains(name, "..")
}
