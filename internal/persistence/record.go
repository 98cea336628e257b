package persistence

import (
	"encoding/json"
	"time"

	"github.com/momiji-lab/kokoro/backend/internal/entries"
)

// Record models the persisted diary entry row. Variable-shape fields (tags,
// photos, feedback) are stored as JSON text so the schema stays stable as
// the entry payload evolves.
type Record struct {
	UserID       string `gorm:"column:user_id;primaryKey;size:190;not null;index:idx_entries_user_date,priority:1"`
	EntryID      string `gorm:"column:entry_id;primaryKey;size:190;not null"`
	DateNanos    int64  `gorm:"column:date_ns;not null;index:idx_entries_user_date,priority:2"`
	Content      string `gorm:"column:content;type:text;not null"`
	TagsJSON     string `gorm:"column:tags_json;type:text;not null;default:'[]'"`
	Mood         string `gorm:"column:mood;size:32;not null;default:''"`
	Location     string `gorm:"column:location;size:320;not null;default:''"`
	PhotosJSON   string `gorm:"column:photos_json;type:text;not null;default:'[]'"`
	FeedbackJSON string `gorm:"column:feedback_json;type:text;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "diary_entries"
}

func recordFromEntry(entry entries.Entry) (Record, error) {
	tags := entry.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return Record{}, err
	}

	photos := entry.Photos
	if photos == nil {
		photos = []string{}
	}
	photosJSON, err := json.Marshal(photos)
	if err != nil {
		return Record{}, err
	}

	feedbackJSON := ""
	if entry.Feedback != nil {
		encoded, err := json.Marshal(entry.Feedback)
		if err != nil {
			return Record{}, err
		}
		feedbackJSON = string(encoded)
	}

	return Record{
		UserID:       entry.UserID,
		EntryID:      entry.ID,
		DateNanos:    entry.Date.UTC().UnixNano(),
		Content:      entry.Content,
		TagsJSON:     string(tagsJSON),
		Mood:         string(entry.Mood),
		Location:     entry.Location,
		PhotosJSON:   string(photosJSON),
		FeedbackJSON: feedbackJSON,
	}, nil
}

func (r Record) toEntry() (entries.Entry, error) {
	var tags []string
	if r.TagsJSON != "" {
		if err := json.Unmarshal([]byte(r.TagsJSON), &tags); err != nil {
			return entries.Entry{}, err
		}
	}
	if tags == nil {
		tags = []string{}
	}

	var photos []string
	if r.PhotosJSON != "" {
		if err := json.Unmarshal([]byte(r.PhotosJSON), &photos); err != nil {
			return entries.Entry{}, err
		}
	}

	var feedback *entries.AIFeedback
	if r.FeedbackJSON != "" {
		decoded := entries.AIFeedback{}
		if err := json.Unmarshal([]byte(r.FeedbackJSON), &decoded); err != nil {
			return entries.Entry{}, err
		}
		feedback = &decoded
	}

	mood, err := entries.ParseMood(r.Mood)
	if err != nil {
		return entries.Entry{}, err
	}

	return entries.Entry{
		ID:       r.EntryID,
		UserID:   r.UserID,
		Date:     time.Unix(0, r.DateNanos).UTC(),
		Content:  r.Content,
		Tags:     tags,
		Mood:     mood,
		Location: r.Location,
		Photos:   photos,
		Feedback: feedback,
	}, nil
}
