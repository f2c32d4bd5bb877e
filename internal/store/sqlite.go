package store

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/fwextensions/sf-pools/internal/domain"
)

//go:embed schema.sql
var schema string

// Store handles database operations
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Initialize schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// CachedExtraction is the last extraction result for a facility's document
type CachedExtraction struct {
	ContentHash string
	Facilities  []domain.ExtractedFacility
	ExtractedAt time.Time
}

// ExtractionCache holds cached extractions in memory for the length of a run
type ExtractionCache struct {
	entries map[string]CachedExtraction
	dirty   map[string]bool
}

// Get returns the cached extraction for id if it was made from contentHash
func (c *ExtractionCache) Get(id, contentHash string) ([]domain.ExtractedFacility, bool) {
	e, ok := c.entries[id]
	if !ok || e.ContentHash != contentHash {
		return nil, false
	}
	return e.Facilities, true
}

// Put records a fresh extraction for id
func (c *ExtractionCache) Put(id, contentHash string, facilities []domain.ExtractedFacility, at time.Time) {
	c.entries[id] = CachedExtraction{ContentHash: contentHash, Facilities: facilities, ExtractedAt: at}
	c.dirty[id] = true
}

// Len returns the number of cached facilities
func (c *ExtractionCache) Len() int {
	return len(c.entries)
}

// LoadExtractionCache reads every cached extraction
func (s *Store) LoadExtractionCache() (*ExtractionCache, error) {
	rows, err := s.db.Query("SELECT facility_id, content_hash, payload, extracted_at FROM extractions")
	if err != nil {
		return nil, fmt.Errorf("load extractions: %w", err)
	}
	defer rows.Close()

	cache := &ExtractionCache{
		entries: make(map[string]CachedExtraction),
		dirty:   make(map[string]bool),
	}
	for rows.Next() {
		var id, payload string
		var e CachedExtraction
		if err := rows.Scan(&id, &e.ContentHash, &payload, &e.ExtractedAt); err != nil {
			return nil, fmt.Errorf("scan extraction: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &e.Facilities); err != nil {
			// a corrupt row is just a cache miss
			continue
		}
		cache.entries[id] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load extractions: %w", err)
	}

	return cache, nil
}

// SaveExtractionCache writes entries changed since load in one transaction
func (s *Store) SaveExtractionCache(c *ExtractionCache) error {
	if len(c.dirty) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for id := range c.dirty {
		e := c.entries[id]
		payload, err := json.Marshal(e.Facilities)
		if err != nil {
			return fmt.Errorf("marshal extraction %s: %w", id, err)
		}
		_, err = tx.Exec(
			"INSERT OR REPLACE INTO extractions (facility_id, content_hash, payload, extracted_at) VALUES (?, ?, ?, ?)",
			id, e.ContentHash, string(payload), e.ExtractedAt,
		)
		if err != nil {
			return fmt.Errorf("save extraction %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	c.dirty = make(map[string]bool)
	return nil
}

// StartRun records the start of a pipeline run and returns it
func (s *Store) StartRun(startedAt time.Time) (*domain.RunRecord, error) {
	run := &domain.RunRecord{
		ID:        uuid.New().String(),
		StartedAt: startedAt,
	}

	_, err := s.db.Exec(
		"INSERT INTO runs (id, started_at) VALUES (?, ?)",
		run.ID, run.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}

	return run, nil
}

// FinishRun stores the outcome of a run
func (s *Store) FinishRun(run *domain.RunRecord) error {
	_, err := s.db.Exec(`
		UPDATE runs
		SET finished_at = ?, processed = ?, preserved = ?, failed = ?, severity = ?, changelog_file = ?
		WHERE id = ?
	`, run.FinishedAt, run.Processed, run.Preserved, run.Failed, run.Severity, run.ChangelogFile, run.ID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs first
func (s *Store) ListRuns(limit int) ([]domain.RunRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, processed, preserved, failed, severity, changelog_file
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.RunRecord
	for rows.Next() {
		var r domain.RunRecord
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.StartedAt, &finished, &r.Processed, &r.Preserved, &r.Failed, &r.Severity, &r.ChangelogFile); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}

	return runs, rows.Err()
}
