package changelog

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fwextensions/sf-pools/internal/domain"
)

func prog(category, day, start, end string) domain.Program {
	return domain.Program{Category: category, CategoryOriginal: category, DayOfWeek: day, StartTime: start, EndTime: end}
}

func pool(id string, programs ...domain.Program) domain.Facility {
	return domain.Facility{ID: id, Name: id, DisplayName: id, Programs: programs}
}

func TestDiffModifiedTime(t *testing.T) {
	previous := []domain.Facility{pool("balboa", prog("Lap Swim", "Monday", "9:00a", "11:00a"))}
	current := []domain.Facility{pool("balboa", prog("Lap Swim", "Monday", "9:00a", "11:30a"))}

	cl := Diff(previous, current, DefaultThresholds())

	require.Len(t, cl.Changes, 1)
	c := cl.Changes[0]
	assert.Equal(t, "balboa", c.ID)
	assert.Equal(t, 1, c.ProgramsModified)
	assert.Equal(t, 0, c.ProgramsAdded)
	assert.Equal(t, 0, c.ProgramsRemoved)
	require.Len(t, c.Modified, 1)
	assert.Equal(t, "9:00a–11:00a", c.Modified[0].OldTime)
	assert.Equal(t, "9:00a–11:30a", c.Modified[0].NewTime)
	assert.Equal(t, SeverityMinor, cl.Severity)
	assert.Empty(t, cl.Warnings)
	assert.False(t, cl.Empty())
}

func TestDiffIdenticalIsEmpty(t *testing.T) {
	data := []domain.Facility{
		pool("balboa", prog("Lap Swim", "Monday", "9:00a", "11:00a"), prog("Lap Swim", "Monday", "9:00a", "11:00a")),
		pool("rossi", prog("Family Swim", "Sunday", "1:00p", "3:00p")),
	}

	cl := Diff(data, data, DefaultThresholds())

	assert.True(t, cl.Empty())
	assert.Equal(t, SeverityNone, cl.Severity)
	assert.Equal(t, 3, cl.Summary.PreviousTotal)
	assert.Equal(t, 3, cl.Summary.CurrentTotal)
}

func TestDiffAddedRemovedAndDuplicates(t *testing.T) {
	lap := prog("Lap Swim", "Monday", "9:00a", "11:00a")
	previous := []domain.Facility{pool("balboa", lap, lap, prog("Family Swim", "Tuesday", "1:00p", "2:00p"))}
	current := []domain.Facility{pool("balboa", lap, prog("Water Polo", "Friday", "6:00p", "8:00p"))}

	cl := Diff(previous, current, DefaultThresholds())

	require.Len(t, cl.Changes, 1)
	c := cl.Changes[0]
	assert.Equal(t, 1, c.ProgramsAdded)
	assert.Equal(t, 2, c.ProgramsRemoved)
	assert.Equal(t, 0, c.ProgramsModified)
	assert.Equal(t, "6:00p–8:00p", c.Added[0].Time)
	assert.Equal(t, "Lap Swim", c.Removed[0].Category, "the second lap swim copy was consumed only once")
}

func TestDiffNewAndRemovedFacilities(t *testing.T) {
	previous := []domain.Facility{pool("coffman", prog("Lap Swim", "Monday", "9:00a", "10:00a"))}
	current := []domain.Facility{pool("sava", prog("Lap Swim", "Monday", "9:00a", "10:00a"), prog("Family Swim", "Monday", "1:00p", "2:00p"))}

	cl := Diff(previous, current, DefaultThresholds())

	require.Len(t, cl.Changes, 1)
	assert.True(t, cl.Changes[0].NewFacility)
	assert.Equal(t, 2, cl.Changes[0].ProgramsAdded)
	assert.Equal(t, []string{"entity removed: coffman"}, cl.Warnings)
	assert.Equal(t, 2, cl.Summary.TotalChanges)
}

func TestDiffNeedsReviewMatchedByName(t *testing.T) {
	previous := []domain.Facility{{Name: "Mystery Pool", NeedsReview: true, Programs: []domain.Program{prog("Lap Swim", "Monday", "9:00a", "10:00a")}}}
	current := []domain.Facility{{Name: "Mystery Pool", NeedsReview: true, Programs: []domain.Program{prog("Lap Swim", "Monday", "9:00a", "10:00a")}}}

	assert.True(t, Diff(previous, current, DefaultThresholds()).Empty())
}

func TestDiffAnomalyWarning(t *testing.T) {
	var before, after []domain.Program
	for i := 0; i < 20; i++ {
		p := prog(fmt.Sprintf("Program %d", i), "Monday", "9:00a", "10:00a")
		before = append(before, p)
		if i < 15 {
			after = append(after, p)
		}
	}

	cl := Diff([]domain.Facility{pool("balboa", before...)}, []domain.Facility{pool("balboa", after...)}, DefaultThresholds())

	assert.Equal(t, 5, cl.Summary.TotalChanges)
	assert.InDelta(t, 0.25, cl.Summary.ChangePercent, 1e-9)
	assert.Equal(t, SeverityMajor, cl.Severity, "a 25% program-count swing is major even with few changes")
	require.Len(t, cl.Warnings, 1)
	assert.Contains(t, cl.Warnings[0], "large change detected")
}

func TestDiffFirstRunHasNoPercentage(t *testing.T) {
	cl := Diff(nil, []domain.Facility{pool("balboa", prog("Lap Swim", "Monday", "9:00a", "10:00a"))}, DefaultThresholds())

	assert.Zero(t, cl.Summary.ChangePercent)
	assert.Equal(t, SeverityMinor, cl.Severity)
	assert.Empty(t, cl.Warnings)
}

func TestConservation(t *testing.T) {
	lap := prog("Lap Swim", "Monday", "9:00a", "11:00a")
	lapLate := prog("Lap Swim", "Monday", "6:00p", "8:00p")
	family := prog("Family Swim", "Saturday", "1:00p", "3:00p")
	masters := prog("Masters Swim", "Tuesday", "6:00a", "7:00a")

	cases := []struct {
		name     string
		previous []domain.Program
		current  []domain.Program
	}{
		{"growth", []domain.Program{lap}, []domain.Program{lap, family, masters}},
		{"shrink", []domain.Program{lap, lapLate, family, masters}, []domain.Program{family}},
		{"reshuffle", []domain.Program{lap, lap, family}, []domain.Program{lapLate, masters, masters, masters}},
		{"all gone", []domain.Program{lap, family}, nil},
		{"from nothing", nil, []domain.Program{lap, lap}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cl := Diff([]domain.Facility{pool("balboa", tc.previous...)}, []domain.Facility{pool("balboa", tc.current...)}, DefaultThresholds())
			var added, removed int
			for _, c := range cl.Changes {
				added += c.ProgramsAdded
				removed += c.ProgramsRemoved
			}
			assert.Equal(t, len(tc.current)-len(tc.previous), added-removed)
		})
	}
}

func TestSeverityMonotonicInChangeCount(t *testing.T) {
	const size = 150
	var previous []domain.Program
	for i := 0; i < size; i++ {
		previous = append(previous, prog(fmt.Sprintf("Program %d", i), "Monday", "9:00a", "10:00a"))
	}

	last := SeverityNone
	for k := 0; k <= size; k++ {
		current := make([]domain.Program, size)
		copy(current, previous)
		for i := 0; i < k; i++ {
			current[i].EndTime = "10:30a"
		}

		cl := Diff([]domain.Facility{pool("balboa", previous...)}, []domain.Facility{pool("balboa", current...)}, DefaultThresholds())
		require.Equal(t, k, cl.Summary.TotalChanges)
		require.GreaterOrEqual(t, cl.Severity.Rank(), last.Rank(), "k=%d", k)
		last = cl.Severity
	}
	assert.Equal(t, SeverityWholesale, last)
}

func TestClassify(t *testing.T) {
	th := DefaultThresholds()
	cases := []struct {
		changes int
		percent float64
		want    Severity
	}{
		{0, 0, SeverityNone},
		{1, 0, SeverityMinor},
		{10, 0, SeverityMinor},
		{11, 0, SeverityModerate},
		{50, 0, SeverityModerate},
		{51, 0, SeverityMajor},
		{100, 0, SeverityMajor},
		{101, 0, SeverityWholesale},
		{3, 0.21, SeverityMajor},
		{3, 0.51, SeverityWholesale},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.changes, tc.percent, th), "%d changes at %.2f", tc.changes, tc.percent)
	}

	assert.True(t, SeverityMajor.Large())
	assert.True(t, SeverityWholesale.Large())
	assert.False(t, SeverityModerate.Large())
}
