package stats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/momiji-lab/kokoro/backend/internal/entries"
	"github.com/momiji-lab/kokoro/backend/internal/feedback"
)

const (
	moodWindow     = 30 * 24 * time.Hour
	activityWindow = 7 * 24 * time.Hour
)

// summaryPrompt frames the weekly digest request sent to the completion
// boundary.
const summaryPrompt = "You are a gentle diary companion. Summarize the " +
	"writer's week from the entries below in two short, warm paragraphs in " +
	"the writer's language. Mention the overall mood and one positive habit."

// MoodCount is one slice of the mood distribution.
type MoodCount struct {
	Mood  entries.Mood `json:"mood"`
	Count int          `json:"count"`
}

// WeekdayCount is the number of entries written on one weekday.
type WeekdayCount struct {
	Weekday string `json:"weekday"`
	Count   int    `json:"count"`
}

// Report aggregates the dashboard numbers for one user.
type Report struct {
	MoodDistribution []MoodCount    `json:"mood_distribution"`
	EntryFrequency   []WeekdayCount `json:"entry_frequency"`
}

var errMissingClock = errors.New("stats: clock is required")

// Service computes aggregate statistics over an entry snapshot.
type Service struct {
	clock     func() time.Time
	completer feedback.Completer
}

// NewService constructs the statistics service. The completer is optional;
// without one WeeklySummary is unavailable.
func NewService(clock func() time.Time, completer feedback.Completer) (*Service, error) {
	if clock == nil {
		return nil, errMissingClock
	}
	return &Service{clock: clock, completer: completer}, nil
}

// Compute builds the report from a snapshot of the user's entries. Moods
// are counted over the last thirty days, skipping entries without a mood
// label. Entry frequency covers the last seven days bucketed by weekday,
// Monday first.
func (s *Service) Compute(snapshot []entries.Entry) Report {
	now := s.clock()
	moodCutoff := now.Add(-moodWindow)
	activityCutoff := now.Add(-activityWindow)

	moodCounts := make(map[entries.Mood]int)
	weekdayCounts := make(map[time.Weekday]int)
	for _, entry := range snapshot {
		if entry.Date.After(now) {
			continue
		}
		if entry.Mood != "" && entry.Date.After(moodCutoff) {
			moodCounts[entry.Mood]++
		}
		if entry.Date.After(activityCutoff) {
			weekdayCounts[entry.Date.Weekday()]++
		}
	}

	report := Report{
		MoodDistribution: make([]MoodCount, 0, len(moodCounts)),
		EntryFrequency:   make([]WeekdayCount, 0, 7),
	}
	for _, mood := range []entries.Mood{entries.MoodHappy, entries.MoodCalm, entries.MoodExcited, entries.MoodSad, entries.MoodAngry} {
		if count, ok := moodCounts[mood]; ok {
			report.MoodDistribution = append(report.MoodDistribution, MoodCount{Mood: mood, Count: count})
		}
	}
	for _, weekday := range []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday} {
		report.EntryFrequency = append(report.EntryFrequency, WeekdayCount{
			Weekday: weekday.String()[:3],
			Count:   weekdayCounts[weekday],
		})
	}
	return report
}

// ErrSummaryUnavailable indicates the service was built without a
// completion boundary.
var ErrSummaryUnavailable = errors.New("stats: summary unavailable")

// WeeklySummary asks the completion boundary for a short digest of the
// last seven days of entries.
func (s *Service) WeeklySummary(ctx context.Context, snapshot []entries.Entry) (string, error) {
	if s.completer == nil {
		return "", ErrSummaryUnavailable
	}

	now := s.clock()
	cutoff := now.Add(-activityWindow)
	var builder strings.Builder
	for _, entry := range snapshot {
		if !entry.Date.After(cutoff) || entry.Date.After(now) {
			continue
		}
		fmt.Fprintf(&builder, "%s", entry.Date.Format("Mon 2006-01-02"))
		if entry.Mood != "" {
			fmt.Fprintf(&builder, " (%s)", entry.Mood)
		}
		fmt.Fprintf(&builder, ": %s\n", entry.Content)
	}
	if builder.Len() == 0 {
		return "", ErrSummaryUnavailable
	}
	return s.completer.Complete(ctx, summaryPrompt, builder.String())
}
