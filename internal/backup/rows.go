package backup

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/momiji-lab/kokoro/backend/internal/entries"
)

// The backup document is a single fixed-width table: one header row, one
// data row per entry. Column order is part of the format and must not
// change without a migration of existing documents.
const (
	columnEntryID = iota
	columnUserID
	columnDate
	columnContent
	columnTags
	columnMood
	columnLocation
	columnFeedback
	columnCount
)

var headerRow = []string{"id", "userId", "date", "content", "tags", "mood", "location", "aiFeedbackContent"}

// ErrRowRejected indicates a backup row failed schema validation and was
// excluded from the import. Decoding fails closed: a row is either fully
// reconstructed or discarded, never coerced.
var ErrRowRejected = errors.New("backup: row rejected")

// encodeRows serializes entries as the backup table, header first.
func encodeRows(collection []entries.Entry) [][]string {
	rows := make([][]string, 0, len(collection)+1)
	rows = append(rows, headerRow)
	for _, entry := range collection {
		feedbackContent := ""
		if entry.Feedback != nil {
			feedbackContent = entry.Feedback.Content
		}
		rows = append(rows, []string{
			entry.ID,
			entry.UserID,
			entry.Date.UTC().Format(time.RFC3339),
			entry.Content,
			strings.Join(entry.Tags, ","),
			string(entry.Mood),
			entry.Location,
			feedbackContent,
		})
	}
	return rows
}

// decodeRow reconstructs an entry from one data row. Imported feedback is
// rebuilt as a fresh record: the table stores only the feedback text, so
// the identifier and timestamp are reissued at import time.
func decodeRow(row []string, importedAt time.Time) (entries.Entry, error) {
	rawCell := func(index int) string {
		if index < len(row) {
			return row[index]
		}
		return ""
	}
	cell := func(index int) string {
		return strings.TrimSpace(rawCell(index))
	}

	entryID := cell(columnEntryID)
	if entryID == "" {
		return entries.Entry{}, fmt.Errorf("%w: missing entry identifier", ErrRowRejected)
	}
	userID := cell(columnUserID)
	if userID == "" {
		return entries.Entry{}, fmt.Errorf("%w: missing user identifier", ErrRowRejected)
	}

	date, err := time.Parse(time.RFC3339, cell(columnDate))
	if err != nil {
		return entries.Entry{}, fmt.Errorf("%w: unparseable date %q", ErrRowRejected, cell(columnDate))
	}

	mood, err := entries.ParseMood(cell(columnMood))
	if err != nil {
		return entries.Entry{}, fmt.Errorf("%w: %v", ErrRowRejected, err)
	}

	tags := []string{}
	if rawTags := cell(columnTags); rawTags != "" {
		tags = strings.Split(rawTags, ",")
	}

	var feedback *entries.AIFeedback
	if feedbackContent := cell(columnFeedback); feedbackContent != "" {
		feedback = &entries.AIFeedback{
			ID:          "fb-" + entryID,
			Content:     feedbackContent,
			GeneratedAt: importedAt,
			Tone:        entries.ToneInsightful,
		}
	}

	return entries.Entry{
		ID:       entryID,
		UserID:   userID,
		Date:     date.UTC(),
		Content:  rawCell(columnContent),
		Tags:     tags,
		Mood:     mood,
		Location: cell(columnLocation),
		Feedback: feedback,
	}, nil
}
