package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/momiji-lab/kokoro/backend/internal/entries"
)

const dayLayout = "2006-01-02"

var (
	// ErrEmptyInput indicates that no entries fall inside the requested
	// range. Callers surface this instead of producing an empty file.
	ErrEmptyInput = errors.New("export: no entries in range")
	// ErrInvalidRange indicates a start date after the end date or a
	// malformed date.
	ErrInvalidRange = errors.New("export: invalid date range")
)

// Document is the exported payload. Entries keep their full shape so the
// file can be re-imported or archived as-is.
type Document struct {
	ExportedAt time.Time       `json:"exported_at"`
	StartDate  string          `json:"start_date"`
	EndDate    string          `json:"end_date"`
	Entries    []entries.Entry `json:"entries"`
}

// Result carries the serialized document together with the download
// filename the client should use.
type Result struct {
	Filename string
	Payload  []byte
}

// Range is a day-granular window, inclusive of both endpoints.
type Range struct {
	start time.Time
	end   time.Time
}

// ParseRange validates a pair of YYYY-MM-DD day strings.
func ParseRange(startDay, endDay string) (Range, error) {
	start, err := time.ParseInLocation(dayLayout, startDay, time.UTC)
	if err != nil {
		return Range{}, fmt.Errorf("%w: start %q", ErrInvalidRange, startDay)
	}
	end, err := time.ParseInLocation(dayLayout, endDay, time.UTC)
	if err != nil {
		return Range{}, fmt.Errorf("%w: end %q", ErrInvalidRange, endDay)
	}
	if start.After(end) {
		return Range{}, fmt.Errorf("%w: %s after %s", ErrInvalidRange, startDay, endDay)
	}
	return Range{start: start, end: end}, nil
}

// Contains reports whether the moment falls inside the window. The end
// day is inclusive through its final nanosecond.
func (r Range) Contains(moment time.Time) bool {
	day := moment.UTC().Truncate(24 * time.Hour)
	return !day.Before(r.start) && !day.After(r.end)
}

// Build filters the snapshot to the range and serializes the export
// document. Entries keep the snapshot's ordering. An empty selection is
// ErrEmptyInput rather than an empty document.
func Build(snapshot []entries.Entry, window Range, now time.Time) (Result, error) {
	selected := make([]entries.Entry, 0, len(snapshot))
	for _, entry := range snapshot {
		if window.Contains(entry.Date) {
			selected = append(selected, entry)
		}
	}
	if len(selected) == 0 {
		return Result{}, ErrEmptyInput
	}

	document := Document{
		ExportedAt: now.UTC(),
		StartDate:  window.start.Format(dayLayout),
		EndDate:    window.end.Format(dayLayout),
		Entries:    selected,
	}
	payload, err := json.MarshalIndent(document, "", "  ")
	if err != nil {
		return Result{}, fmt.Errorf("encode export document: %w", err)
	}

	return Result{
		Filename: fmt.Sprintf("diary-export_%s_%s.json", document.StartDate, document.EndDate),
		Payload:  payload,
	}, nil
}
