package entries

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidEntryID indicates that an entry identifier is empty or exceeds storage bounds.
	ErrInvalidEntryID = errors.New("entries: invalid entry id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("entries: invalid user id")
	// ErrInvalidMood indicates that a mood label is outside the supported enumeration.
	ErrInvalidMood = errors.New("entries: invalid mood label")
	// ErrInvalidTone indicates that a feedback tone is outside the supported enumeration.
	ErrInvalidTone = errors.New("entries: invalid feedback tone")
)

// Mood enumerates the emotion labels an entry may carry.
type Mood string

const (
	MoodHappy   Mood = "happy"
	MoodSad     Mood = "sad"
	MoodAngry   Mood = "angry"
	MoodCalm    Mood = "calm"
	MoodExcited Mood = "excited"
)

// ParseMood validates a raw mood label. The empty string is valid and means
// the entry carries no mood.
func ParseMood(rawValue string) (Mood, error) {
	normalized := strings.ToLower(strings.TrimSpace(rawValue))
	switch Mood(normalized) {
	case "", MoodHappy, MoodSad, MoodAngry, MoodCalm, MoodExcited:
		return Mood(normalized), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMood, rawValue)
	}
}

// Tone enumerates the voice classifications attached to generated feedback.
type Tone string

const (
	ToneEmpathetic  Tone = "empathetic"
	ToneInsightful  Tone = "insightful"
	ToneEncouraging Tone = "encouraging"
)

// ParseTone validates a raw tone label.
func ParseTone(rawValue string) (Tone, error) {
	normalized := strings.ToLower(strings.TrimSpace(rawValue))
	switch Tone(normalized) {
	case ToneEmpathetic, ToneInsightful, ToneEncouraging:
		return Tone(normalized), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTone, rawValue)
	}
}

// EntryID represents a validated entry identifier.
type EntryID string

// NewEntryID validates raw input and returns an EntryID.
func NewEntryID(rawInput string) (EntryID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidEntryID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidEntryID, maxIdentifierLength)
	}
	return EntryID(trimmed), nil
}

// String returns the underlying string identifier.
func (id EntryID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// AIFeedback is the generated reflection attached to an entry. It is owned
// by its parent entry and replaced wholesale on regeneration.
type AIFeedback struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	GeneratedAt time.Time `json:"generated_at"`
	Tone        Tone      `json:"tone"`
}

// Entry is a single dated diary record. The identifier is unique within a
// user's collection and the owning user never changes after creation.
type Entry struct {
	ID       string      `json:"id"`
	UserID   string      `json:"user_id"`
	Date     time.Time   `json:"date"`
	Content  string      `json:"content"`
	Tags     []string    `json:"tags"`
	Mood     Mood        `json:"mood,omitempty"`
	Location string      `json:"location,omitempty"`
	Photos   []string    `json:"photos,omitempty"`
	Feedback *AIFeedback `json:"ai_feedback,omitempty"`
}

// Validate reports whether the entry carries the identifiers and labels the
// store requires before accepting it.
func (e Entry) Validate() error {
	if _, err := NewEntryID(e.ID); err != nil {
		return err
	}
	if _, err := NewUserID(e.UserID); err != nil {
		return err
	}
	if _, err := ParseMood(string(e.Mood)); err != nil {
		return err
	}
	return nil
}

// clone returns a deep copy so callers can never alias store-held slices.
func (e Entry) clone() Entry {
	copied := e
	if e.Tags != nil {
		copied.Tags = append([]string(nil), e.Tags...)
	}
	if e.Photos != nil {
		copied.Photos = append([]string(nil), e.Photos...)
	}
	if e.Feedback != nil {
		feedback := *e.Feedback
		copied.Feedback = &feedback
	}
	return copied
}
