package export

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/momiji-lab/kokoro/backend/internal/entries"
)

func exportEntry(id, day string) entries.Entry {
	date, err := time.ParseInLocation("2006-01-02", day, time.UTC)
	if err != nil {
		panic(err)
	}
	return entries.Entry{ID: id, UserID: "user-1", Date: date.Add(9 * time.Hour), Content: "entry " + id}
}

func TestBuildFiltersInclusiveRange(testContext *testing.T) {
	snapshot := []entries.Entry{
		exportEntry("a", "2024-01-01"),
		exportEntry("b", "2024-01-15"),
		exportEntry("c", "2024-02-01"),
	}

	window, err := ParseRange("2024-01-01", "2024-01-31")
	if err != nil {
		testContext.Fatalf("parse range failed: %v", err)
	}

	result, err := Build(snapshot, window, time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		testContext.Fatalf("build failed: %v", err)
	}

	var document Document
	if err := json.Unmarshal(result.Payload, &document); err != nil {
		testContext.Fatalf("payload is not valid json: %v", err)
	}
	if len(document.Entries) != 2 {
		testContext.Fatalf("expected two entries in range, got %d", len(document.Entries))
	}
	if document.Entries[0].ID != "a" || document.Entries[1].ID != "b" {
		testContext.Fatalf("unexpected selection: %+v", document.Entries)
	}
}

func TestBuildFilename(testContext *testing.T) {
	window, err := ParseRange("2024-01-01", "2024-01-31")
	if err != nil {
		testContext.Fatalf("parse range failed: %v", err)
	}

	result, err := Build([]entries.Entry{exportEntry("a", "2024-01-10")}, window, time.Now())
	if err != nil {
		testContext.Fatalf("build failed: %v", err)
	}
	if result.Filename != "diary-export_2024-01-01_2024-01-31.json" {
		testContext.Fatalf("unexpected filename: %q", result.Filename)
	}
}

func TestBuildEmptySelection(testContext *testing.T) {
	window, err := ParseRange("2025-01-01", "2025-01-31")
	if err != nil {
		testContext.Fatalf("parse range failed: %v", err)
	}

	if _, err := Build([]entries.Entry{exportEntry("a", "2024-01-10")}, window, time.Now()); !errors.Is(err, ErrEmptyInput) {
		testContext.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}

func TestParseRangeRejectsInvertedWindow(testContext *testing.T) {
	if _, err := ParseRange("2024-02-01", "2024-01-01"); !errors.Is(err, ErrInvalidRange) {
		testContext.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

func TestParseRangeRejectsMalformedDay(testContext *testing.T) {
	if _, err := ParseRange("January 1st", "2024-01-31"); !errors.Is(err, ErrInvalidRange) {
		testContext.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

func TestRangeEndpointsAreInclusive(testContext *testing.T) {
	window, err := ParseRange("2024-01-01", "2024-01-31")
	if err != nil {
		testContext.Fatalf("parse range failed: %v", err)
	}

	if !window.Contains(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		testContext.Fatalf("start day must be included")
	}
	if !window.Contains(time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC)) {
		testContext.Fatalf("end day must be included to its last second")
	}
	if window.Contains(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)) {
		testContext.Fatalf("the day after the end must be excluded")
	}
}
