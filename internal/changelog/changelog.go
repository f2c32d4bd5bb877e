// Package changelog computes the structural difference between two versions
// of the aggregate dataset and classifies how large it is.
package changelog

import (
	"fmt"
	"math"
	"time"

	"github.com/fwextensions/sf-pools/internal/domain"
)

// Severity classifies the magnitude of a run's changes
type Severity string

const (
	SeverityNone      Severity = "none"
	SeverityMinor     Severity = "minor"
	SeverityModerate  Severity = "moderate"
	SeverityMajor     Severity = "major"
	SeverityWholesale Severity = "wholesale"
)

// Rank orders severities from none (0) to wholesale (4)
func (s Severity) Rank() int {
	switch s {
	case SeverityMinor:
		return 1
	case SeverityModerate:
		return 2
	case SeverityMajor:
		return 3
	case SeverityWholesale:
		return 4
	default:
		return 0
	}
}

// Large reports whether s should block automated promotion
func (s Severity) Large() bool {
	return s.Rank() >= SeverityMajor.Rank()
}

// Thresholds tune severity classification and the anomaly warning
type Thresholds struct {
	MinorMaxChanges    int
	MajorChanges       int
	WholesaleChanges   int
	MajorPercent       float64
	WholesalePercent   float64
	AnomalyPercent     float64
	AnomalyMinPrevious int
}

// DefaultThresholds returns the thresholds used when none are configured
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinorMaxChanges:    10,
		MajorChanges:       50,
		WholesaleChanges:   100,
		MajorPercent:       0.2,
		WholesalePercent:   0.5,
		AnomalyPercent:     0.2,
		AnomalyMinPrevious: 10,
	}
}

// ProgramChange describes one added, removed or modified program
type ProgramChange struct {
	Category  string `json:"category"`
	DayOfWeek string `json:"dayOfWeek"`
	Time      string `json:"time,omitempty"`
	OldTime   string `json:"oldTime,omitempty"`
	NewTime   string `json:"newTime,omitempty"`
}

// FacilityChange collects the program changes for one facility
type FacilityChange struct {
	ID               string          `json:"id,omitempty"`
	Name             string          `json:"name"`
	NewFacility      bool            `json:"newFacility,omitempty"`
	ProgramsAdded    int             `json:"programsAdded"`
	ProgramsRemoved  int             `json:"programsRemoved"`
	ProgramsModified int             `json:"programsModified"`
	Added            []ProgramChange `json:"added,omitempty"`
	Removed          []ProgramChange `json:"removed,omitempty"`
	Modified         []ProgramChange `json:"modified,omitempty"`
}

// Total returns the number of program-level changes
func (c FacilityChange) Total() int {
	return c.ProgramsAdded + c.ProgramsRemoved + c.ProgramsModified
}

// Summary holds dataset-wide totals
type Summary struct {
	FacilitiesChanged int     `json:"facilitiesChanged"`
	ProgramsAdded     int     `json:"programsAdded"`
	ProgramsRemoved   int     `json:"programsRemoved"`
	ProgramsModified  int     `json:"programsModified"`
	TotalChanges      int     `json:"totalChanges"`
	PreviousTotal     int     `json:"previousTotal"`
	CurrentTotal      int     `json:"currentTotal"`
	ChangePercent     float64 `json:"changePercent"`
}

// Changelog is the persisted record of one run's changes
type Changelog struct {
	Timestamp time.Time        `json:"timestamp"`
	RunID     string           `json:"runId,omitempty"`
	Severity  Severity         `json:"severity"`
	Summary   Summary          `json:"summary"`
	Changes   []FacilityChange `json:"changes"`
	Warnings  []string         `json:"warnings"`
}

// Empty reports whether there is nothing worth persisting
func (c Changelog) Empty() bool {
	return len(c.Changes) == 0 && len(c.Warnings) == 0
}

// TimeRange renders a program's time span as "9:00a–11:00a"
func TimeRange(start, end string) string {
	return start + "–" + end
}

// Diff compares two aggregates. Facilities are matched by id, or by name
// for records without one.
func Diff(previous, current []domain.Facility, th Thresholds) Changelog {
	cl := Changelog{
		Changes:  []FacilityChange{},
		Warnings: []string{},
	}

	prevByKey := make(map[string]domain.Facility, len(previous))
	for _, f := range previous {
		k := facilityKey(f)
		if _, dup := prevByKey[k]; !dup {
			prevByKey[k] = f
		}
		cl.Summary.PreviousTotal += len(f.Programs)
	}

	seen := make(map[string]bool, len(current))
	for _, f := range current {
		k := facilityKey(f)
		cl.Summary.CurrentTotal += len(f.Programs)
		if seen[k] {
			continue
		}
		seen[k] = true

		var change FacilityChange
		if prev, ok := prevByKey[k]; ok {
			change = diffPrograms(prev.Programs, f.Programs)
		} else {
			change = newFacility(f.Programs)
		}
		if change.Total() == 0 {
			continue
		}
		change.ID = f.ID
		change.Name = facilityName(f)
		cl.Changes = append(cl.Changes, change)

		cl.Summary.FacilitiesChanged++
		cl.Summary.ProgramsAdded += change.ProgramsAdded
		cl.Summary.ProgramsRemoved += change.ProgramsRemoved
		cl.Summary.ProgramsModified += change.ProgramsModified
	}

	for _, f := range previous {
		k := facilityKey(f)
		if !seen[k] {
			seen[k] = true
			cl.Warnings = append(cl.Warnings, fmt.Sprintf("entity removed: %s", facilityName(f)))
		}
	}

	cl.Summary.TotalChanges = cl.Summary.ProgramsAdded + cl.Summary.ProgramsRemoved + cl.Summary.ProgramsModified
	cl.Summary.ChangePercent = changePercent(cl.Summary.PreviousTotal, cl.Summary.CurrentTotal)
	cl.Severity = Classify(cl.Summary.TotalChanges, cl.Summary.ChangePercent, th)

	if cl.Summary.ChangePercent > th.AnomalyPercent && cl.Summary.PreviousTotal > th.AnomalyMinPrevious {
		cl.Warnings = append(cl.Warnings, fmt.Sprintf(
			"large change detected: program count went from %d to %d (%.0f%%)",
			cl.Summary.PreviousTotal, cl.Summary.CurrentTotal, cl.Summary.ChangePercent*100))
	}

	return cl
}

// Classify maps a change count and overall program-count delta to a severity
func Classify(changes int, percent float64, th Thresholds) Severity {
	switch {
	case changes == 0:
		return SeverityNone
	case changes > th.WholesaleChanges || percent > th.WholesalePercent:
		return SeverityWholesale
	case changes > th.MajorChanges || percent > th.MajorPercent:
		return SeverityMajor
	case changes > th.MinorMaxChanges:
		return SeverityModerate
	default:
		return SeverityMinor
	}
}

// changePercent is zero without a previous dataset to compare against
func changePercent(previous, current int) float64 {
	if previous == 0 {
		return 0
	}
	return math.Abs(float64(current-previous)) / float64(previous)
}

func diffPrograms(previous, current []domain.Program) FacilityChange {
	var change FacilityChange
	consumed := make([]bool, len(previous))

	exact := make(map[string][]int)
	for i, p := range previous {
		k := exactKey(p)
		exact[k] = append(exact[k], i)
	}

	var unmatched []domain.Program
	for _, p := range current {
		k := exactKey(p)
		if idx := exact[k]; len(idx) > 0 {
			consumed[idx[0]] = true
			exact[k] = idx[1:]
			continue
		}
		unmatched = append(unmatched, p)
	}

	for _, p := range unmatched {
		if i := findSlot(previous, consumed, p); i >= 0 {
			consumed[i] = true
			change.Modified = append(change.Modified, ProgramChange{
				Category:  p.Category,
				DayOfWeek: p.DayOfWeek,
				OldTime:   TimeRange(previous[i].StartTime, previous[i].EndTime),
				NewTime:   TimeRange(p.StartTime, p.EndTime),
			})
			continue
		}
		change.Added = append(change.Added, programChange(p))
	}

	for i, p := range previous {
		if !consumed[i] {
			change.Removed = append(change.Removed, programChange(p))
		}
	}

	change.ProgramsAdded = len(change.Added)
	change.ProgramsRemoved = len(change.Removed)
	change.ProgramsModified = len(change.Modified)
	return change
}

func newFacility(programs []domain.Program) FacilityChange {
	change := FacilityChange{NewFacility: true}
	for _, p := range programs {
		change.Added = append(change.Added, programChange(p))
	}
	change.ProgramsAdded = len(change.Added)
	return change
}

// findSlot returns the first unconsumed previous program in the same
// category on the same day, or -1
func findSlot(previous []domain.Program, consumed []bool, p domain.Program) int {
	k := slotKey(p)
	for i, prev := range previous {
		if !consumed[i] && slotKey(prev) == k {
			return i
		}
	}
	return -1
}

func programChange(p domain.Program) ProgramChange {
	return ProgramChange{
		Category:  p.Category,
		DayOfWeek: p.DayOfWeek,
		Time:      TimeRange(p.StartTime, p.EndTime),
	}
}

func exactKey(p domain.Program) string {
	return p.Category + "|" + p.DayOfWeek + "|" + p.StartTime + "|" + p.EndTime
}

func slotKey(p domain.Program) string {
	return p.Category + "|" + p.DayOfWeek
}

func facilityKey(f domain.Facility) string {
	if f.ID != "" {
		return "id:" + f.ID
	}
	return "name:" + f.Name
}

func facilityName(f domain.Facility) string {
	if f.DisplayName != "" {
		return f.DisplayName
	}
	if f.Name != "" {
		return f.Name
	}
	return f.ID
}
