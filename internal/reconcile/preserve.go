package reconcile

import (
	"sort"

	"github.com/fwextensions/sf-pools/internal/domain"
	"github.com/fwextensions/sf-pools/internal/registry"
)

// Preserve merges freshly reconciled records with the previous aggregate.
// A previous record whose id has no fresh record is copied verbatim, so a
// facility that failed to download or extract keeps its last good schedule.
// Fresh records keep the first occurrence per id.
//
// Records without an id are matched by normalized name. A previous one is
// carried forward unless a fresh record shares its name or the facility
// document it came from was processed this run. preserved lists ids, or the
// name for records without one.
func Preserve(previous, fresh []domain.Facility) (merged []domain.Facility, preserved []string) {
	seen := make(map[string]bool, len(fresh))
	names := make(map[string]bool)
	processed := make(map[string]bool, len(fresh))
	for _, f := range fresh {
		if f.SourceFacility != "" {
			processed[f.SourceFacility] = true
		}
		if f.ID == "" {
			names[registry.Normalize(f.Name)] = true
			merged = append(merged, f)
			continue
		}
		processed[f.ID] = true
		if seen[f.ID] {
			continue
		}
		seen[f.ID] = true
		merged = append(merged, f)
	}

	for _, p := range previous {
		if p.ID == "" {
			key := registry.Normalize(p.Name)
			if names[key] || processed[p.SourceFacility] {
				continue
			}
			names[key] = true
			merged = append(merged, p)
			preserved = append(preserved, p.Name)
			continue
		}
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		merged = append(merged, p)
		preserved = append(preserved, p.ID)
	}

	return merged, preserved
}

// Order sorts records by registry position, then unregistered ids, then
// records needing review by name. position returns -1 for unknown ids.
func Order(records []domain.Facility, position func(id string) int) {
	rank := func(f domain.Facility) (int, int) {
		switch {
		case f.ID == "":
			return 2, 0
		case position(f.ID) < 0:
			return 1, 0
		default:
			return 0, position(f.ID)
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		gi, pi := rank(records[i])
		gj, pj := rank(records[j])
		if gi != gj {
			return gi < gj
		}
		if gi == 0 {
			return pi < pj
		}
		if gi == 1 {
			return records[i].ID < records[j].ID
		}
		return records[i].Name < records[j].Name
	})
}
