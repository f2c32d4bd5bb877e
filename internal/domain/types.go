package domain

import "time"

// Weekdays lists the accepted dayOfWeek values in calendar order
var Weekdays = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// DiscoveredSource is the document found for a facility in one discovery run
type DiscoveredSource struct {
	FacilityID      string `json:"facilityId"`
	FacilityPageURL string `json:"facilityPageUrl,omitempty"`
	DocumentURL     string `json:"documentUrl,omitempty"`
}

// ManifestEntry records the last successful download of a facility's document
type ManifestEntry struct {
	DocumentURL    string    `json:"documentUrl"`
	ContentHash    string    `json:"contentHash"`
	Filename       string    `json:"filename"`
	LastDownloaded time.Time `json:"lastDownloaded"`
	ETag           string    `json:"etag,omitempty"`
	LastModified   string    `json:"lastModified,omitempty"`
	// LastError is set when the latest download attempt failed; the entry
	// then still describes the last good document
	LastError      string    `json:"lastError,omitempty"`
}

// ExtractedProgram is one schedule row as returned by the extraction service
type ExtractedProgram struct {
	ProgramName string `json:"programName"`
	DayOfWeek   string `json:"dayOfWeek"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	Lanes       *int   `json:"lanes,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// ExtractedFacility is the raw, unreconciled facility record for one document
type ExtractedFacility struct {
	PoolName    string             `json:"poolName"`
	Address     string             `json:"address,omitempty"`
	SourceURL   string             `json:"sourceUrl,omitempty"`
	Season      string             `json:"season,omitempty"`
	StartDate   string             `json:"startDate,omitempty"`
	EndDate     string             `json:"endDate,omitempty"`
	LastUpdated string             `json:"lastUpdated,omitempty"`
	LaneCount   *int               `json:"laneCount,omitempty"`
	Programs    []ExtractedProgram `json:"programs"`
}

// Program is a reconciled schedule entry.
// Category holds the canonical category, or a display-formatted fallback
// when the label could not be classified. CategoryOriginal is verbatim.
type Program struct {
	Category         string `json:"category"`
	CategoryOriginal string `json:"categoryOriginal"`
	DayOfWeek        string `json:"dayOfWeek"`
	StartTime        string `json:"startTime"`
	EndTime          string `json:"endTime"`
	Lanes            *int   `json:"lanes,omitempty"`
	Notes            string `json:"notes,omitempty"`
}

// Facility is the reconciled record stored in the aggregate dataset.
// ID is empty when the source name did not resolve; NeedsReview is set then.
// SourceFacility is the registry facility whose document produced the record.
type Facility struct {
	ID                string    `json:"id"`
	NeedsReview       bool      `json:"needsReview,omitempty"`
	SourceFacility    string    `json:"sourceFacility,omitempty"`
	Name              string    `json:"name"`
	ShortName         string    `json:"shortName"`
	DisplayName       string    `json:"displayName"`
	Address           string    `json:"address,omitempty"`
	SourceDocumentURL string    `json:"sourceDocumentUrl,omitempty"`
	FacilityPageURL   string    `json:"facilityPageUrl,omitempty"`
	LastUpdated       string    `json:"lastUpdated"`
	Season            string    `json:"season,omitempty"`
	StartDate         string    `json:"startDate,omitempty"`
	EndDate           string    `json:"endDate,omitempty"`
	LaneCount         *int      `json:"laneCount,omitempty"`
	Programs          []Program `json:"programs"`
}

// RunRecord summarizes one pipeline run in the run ledger
type RunRecord struct {
	ID            string     `json:"id"`
	StartedAt     time.Time  `json:"startedAt"`
	FinishedAt    *time.Time `json:"finishedAt,omitempty"`
	Processed     int        `json:"processed"`
	Preserved     int        `json:"preserved"`
	Failed        int        `json:"failed"`
	Severity      string     `json:"severity"`
	ChangelogFile string     `json:"changelogFile,omitempty"`
}
