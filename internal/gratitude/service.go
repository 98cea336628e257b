package gratitude

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/momiji-lab/kokoro/backend/internal/entries"
	"gorm.io/gorm"
)

const maxContentLength = 2000

// Author identifies which side of the shared jar a note came from.
type Author string

const (
	AuthorUser    Author = "user"
	AuthorPartner Author = "partner"
)

// ParseAuthor validates a raw author label.
func ParseAuthor(rawValue string) (Author, error) {
	switch Author(strings.TrimSpace(rawValue)) {
	case AuthorUser:
		return AuthorUser, nil
	case AuthorPartner:
		return AuthorPartner, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAuthor, rawValue)
	}
}

var (
	// ErrInvalidAuthor indicates an author label outside user|partner.
	ErrInvalidAuthor = errors.New("gratitude: invalid author")
	// ErrEmptyContent indicates a note with nothing to store.
	ErrEmptyContent = errors.New("gratitude: empty content")
	// ErrContentTooLong indicates a note exceeding storage bounds.
	ErrContentTooLong = errors.New("gratitude: content too long")

	errMissingDatabase = errors.New("database connection required")
	errMissingIDs      = errors.New("id provider required")
	// ErrInvalidServiceConfig reports a service constructed without its
	// dependencies.
	ErrInvalidServiceConfig = errors.New("gratitude: invalid service config")
)

// Note is one item in the shared gratitude jar. The jar is shared between
// the account owner and their partner, so notes are keyed by the owning
// account rather than the author.
type Note struct {
	ID        string    `gorm:"column:note_id;primaryKey;size:190" json:"id"`
	OwnerID   string    `gorm:"column:owner_id;size:190;index" json:"-"`
	Author    Author    `gorm:"column:author;size:16" json:"author"`
	Content   string    `gorm:"column:content;type:text" json:"content"`
	CreatedAt time.Time `gorm:"column:created_at" json:"date"`
}

// TableName pins the storage table for gratitude notes.
func (Note) TableName() string {
	return "gratitude_notes"
}

// ServiceConfig bundles the dependencies of the gratitude service.
type ServiceConfig struct {
	Database *gorm.DB
	IDs      entries.IDProvider
	Clock    func() time.Time
}

// Service stores and lists shared gratitude notes.
type Service struct {
	db    *gorm.DB
	ids   entries.IDProvider
	clock func() time.Time
}

// NewService constructs the gratitude service with validated configuration.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidServiceConfig, errMissingDatabase)
	}
	if cfg.IDs == nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidServiceConfig, errMissingIDs)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, ids: cfg.IDs, clock: clock}, nil
}

// Add stores a new note in the owner's jar and returns the stored record.
// Whitespace-only content is rejected before touching storage.
func (s *Service) Add(ctx context.Context, ownerID string, author Author, content string) (Note, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return Note{}, ErrEmptyContent
	}
	if len(trimmed) > maxContentLength {
		return Note{}, ErrContentTooLong
	}
	if _, err := ParseAuthor(string(author)); err != nil {
		return Note{}, err
	}

	identifier, err := s.ids.NewID()
	if err != nil {
		return Note{}, fmt.Errorf("issue note id: %w", err)
	}

	note := Note{
		ID:        identifier,
		OwnerID:   ownerID,
		Author:    author,
		Content:   trimmed,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&note).Error; err != nil {
		return Note{}, fmt.Errorf("store note: %w", err)
	}
	return note, nil
}

// List returns the owner's notes, newest first.
func (s *Service) List(ctx context.Context, ownerID string) ([]Note, error) {
	var notes []Note
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC, note_id DESC").
		Find(&notes).
		Error
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	return notes, nil
}
