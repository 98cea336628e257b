package users

import (
	"strings"
	"time"
)

const (
	// ProviderGoogle marks identities backed by a verified Google ID token.
	ProviderGoogle = "google"
	// ProviderPassword marks identities backed by an email and password.
	ProviderPassword = "password"
)

// Identity maps a provider-specific login to a canonical Kokoro user id.
// Password identities additionally carry the bcrypt hash; Google
// identities leave it empty.
type Identity struct {
	Provider     string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject      string    `gorm:"column:subject;primaryKey;size:190;not null"`
	UserID       string    `gorm:"column:user_id;size:190;not null;index"`
	Email        string    `gorm:"column:user_email;size:320"`
	DisplayName  string    `gorm:"column:user_display_name;size:320"`
	AvatarURL    string    `gorm:"column:user_avatar_url;size:512"`
	PasswordHash string    `gorm:"column:password_hash;size:128"`
	LastSeenAt   time.Time `gorm:"column:last_seen_at;autoUpdateTime"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user identities.
func (Identity) TableName() string {
	return "user_identities"
}

// Profile is the public slice of an identity returned to clients.
type Profile struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

func (identity Identity) profile() Profile {
	return Profile{
		UserID:      identity.UserID,
		Email:       identity.Email,
		DisplayName: identity.DisplayName,
		AvatarURL:   identity.AvatarURL,
	}
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}
