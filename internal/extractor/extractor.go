// Package extractor turns schedule documents into raw facility records using
// an external structured-extraction service, and validates what comes back.
package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/fwextensions/sf-pools/internal/domain"
)

// ErrSchemaValidation marks a response that parsed but broke the schema
var ErrSchemaValidation = errors.New("schema validation failed")

// Hints are optional context passed along with the document
type Hints struct {
	SourceURL       string
	FacilityPageURL string
}

// Extractor is the extraction capability
type Extractor interface {
	Extract(ctx context.Context, doc []byte, hints Hints) ([]domain.ExtractedFacility, error)
}

var (
	timePattern = regexp.MustCompile(`^(0?[1-9]|1[0-2]):[0-5]\d[ap]$`)
	datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// ValidTime reports whether s is a wall-clock time like "9:00a"
func ValidTime(s string) bool {
	return timePattern.MatchString(s)
}

func validDay(s string) bool {
	for _, d := range domain.Weekdays {
		if s == d {
			return true
		}
	}
	return false
}

// ParseResponse decodes a model reply into facility records and validates them.
// Markdown code fences are tolerated, as is a single object instead of an array.
func ParseResponse(resp string) ([]domain.ExtractedFacility, error) {
	// Clean up response - remove markdown code blocks if present
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	resp = strings.TrimSpace(resp)

	var facilities []domain.ExtractedFacility
	if strings.HasPrefix(resp, "{") {
		var one domain.ExtractedFacility
		if err := json.Unmarshal([]byte(resp), &one); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
		facilities = []domain.ExtractedFacility{one}
	} else if err := json.Unmarshal([]byte(resp), &facilities); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}

	if err := Validate(facilities); err != nil {
		return nil, err
	}
	return facilities, nil
}

// Validate checks extracted facilities against the extraction schema
func Validate(facilities []domain.ExtractedFacility) error {
	if len(facilities) == 0 {
		return fmt.Errorf("%w: no facilities", ErrSchemaValidation)
	}
	for i, f := range facilities {
		if strings.TrimSpace(f.PoolName) == "" {
			return fmt.Errorf("%w: facility %d: missing poolName", ErrSchemaValidation, i)
		}
		if f.Programs == nil {
			return fmt.Errorf("%w: facility %q: missing programs", ErrSchemaValidation, f.PoolName)
		}
		for _, d := range []string{f.StartDate, f.EndDate, f.LastUpdated} {
			if d != "" && !datePattern.MatchString(d) {
				return fmt.Errorf("%w: facility %q: bad date %q", ErrSchemaValidation, f.PoolName, d)
			}
		}
		for j, p := range f.Programs {
			switch {
			case strings.TrimSpace(p.ProgramName) == "":
				return fmt.Errorf("%w: facility %q program %d: missing programName", ErrSchemaValidation, f.PoolName, j)
			case !validDay(p.DayOfWeek):
				return fmt.Errorf("%w: facility %q program %d: bad dayOfWeek %q", ErrSchemaValidation, f.PoolName, j, p.DayOfWeek)
			case !ValidTime(p.StartTime):
				return fmt.Errorf("%w: facility %q program %d: bad startTime %q", ErrSchemaValidation, f.PoolName, j, p.StartTime)
			case !ValidTime(p.EndTime):
				return fmt.Errorf("%w: facility %q program %d: bad endTime %q", ErrSchemaValidation, f.PoolName, j, p.EndTime)
			}
		}
	}
	return nil
}
