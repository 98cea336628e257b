package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/momiji-lab/kokoro/backend/internal/auth"
	"github.com/momiji-lab/kokoro/backend/internal/entries"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	minPasswordLength = 8
	defaultHashCost   = bcrypt.DefaultCost
)

var (
	// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
	ErrInvalidIdentity = errors.New("users: invalid identity")
	// ErrEmailTaken indicates a signup against an already registered email.
	ErrEmailTaken = errors.New("users: email already registered")
	// ErrWeakPassword indicates a password below the minimum length.
	ErrWeakPassword = errors.New("users: password too short")
	// ErrInvalidCredentials indicates a failed email or password check.
	// Unknown email and wrong password are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("users: invalid credentials")

	errMissingDatabase = errors.New("database connection required")
	errMissingIDs      = errors.New("id provider required")
)

// ServiceConfig describes the dependencies required for identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	IDs      entries.IDProvider
	Clock    func() time.Time
	HashCost int
}

// Service manages canonical user identifiers across login providers.
type Service struct {
	db       *gorm.DB
	ids      entries.IDProvider
	now      func() time.Time
	hashCost int
	cache    sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: %w", errMissingDatabase)
	}
	if cfg.IDs == nil {
		return nil, fmt.Errorf("users: %w", errMissingIDs)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	hashCost := cfg.HashCost
	if hashCost <= 0 {
		hashCost = defaultHashCost
	}
	return &Service{
		db:       cfg.Database,
		ids:      cfg.IDs,
		now:      clock,
		hashCost: hashCost,
	}, nil
}

// ResolveGoogle returns the canonical profile for verified Google claims,
// creating the identity mapping on first sight and refreshing profile
// fields on every login.
func (s *Service) ResolveGoogle(ctx context.Context, claims auth.GoogleClaims) (Profile, error) {
	subject := normalize(claims.Subject)
	if subject == "" {
		return Profile{}, ErrInvalidIdentity
	}

	cacheKey := ProviderGoogle + ":" + subject

	var identity Identity
	err := s.db.WithContext(ctx).
		Where("provider = ? AND subject = ?", ProviderGoogle, subject).
		First(&identity).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// A subject seen earlier in this process keeps its canonical id
		// even when the identity row has to be recreated.
		canonicalID := s.cachedUserID(cacheKey)
		if canonicalID == "" {
			issued, idErr := s.ids.NewID()
			if idErr != nil {
				return Profile{}, fmt.Errorf("issue user id: %w", idErr)
			}
			canonicalID = issued
		}
		identity = Identity{
			Provider:    ProviderGoogle,
			Subject:     subject,
			UserID:      canonicalID,
			Email:       normalize(claims.Email),
			DisplayName: normalize(claims.Name),
			AvatarURL:   normalize(claims.Picture),
			LastSeenAt:  s.now(),
		}
		if err := s.db.WithContext(ctx).Create(&identity).Error; err != nil {
			return Profile{}, err
		}
	} else if err != nil {
		return Profile{}, err
	} else {
		updates := map[string]interface{}{"last_seen_at": s.now()}
		if email := normalize(claims.Email); email != "" && email != identity.Email {
			updates["user_email"] = email
			identity.Email = email
		}
		if name := normalize(claims.Name); name != "" && name != identity.DisplayName {
			updates["user_display_name"] = name
			identity.DisplayName = name
		}
		if picture := normalize(claims.Picture); picture != "" && picture != identity.AvatarURL {
			updates["user_avatar_url"] = picture
			identity.AvatarURL = picture
		}
		_ = s.db.WithContext(ctx).Model(&Identity{}).
			Where("provider = ? AND subject = ?", ProviderGoogle, subject).
			Updates(updates).
			Error
	}

	// Only the canonical id is cached. Profile fields and the last seen
	// timestamp are refreshed from the claims on every login.
	s.cache.Store(cacheKey, identity.UserID)
	return identity.profile(), nil
}

func (s *Service) cachedUserID(cacheKey string) string {
	cached, ok := s.cache.Load(cacheKey)
	if !ok {
		return ""
	}
	userID, ok := cached.(string)
	if !ok {
		return ""
	}
	return userID
}

// RegisterEmail creates a password identity for a new email address.
func (s *Service) RegisterEmail(ctx context.Context, email, password, displayName string) (Profile, error) {
	normalizedEmail := strings.ToLower(normalize(email))
	if normalizedEmail == "" || !strings.Contains(normalizedEmail, "@") {
		return Profile{}, ErrInvalidIdentity
	}
	if len(password) < minPasswordLength {
		return Profile{}, ErrWeakPassword
	}

	var existing Identity
	err := s.db.WithContext(ctx).
		Where("provider = ? AND subject = ?", ProviderPassword, normalizedEmail).
		First(&existing).
		Error
	if err == nil {
		return Profile{}, ErrEmailTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return Profile{}, fmt.Errorf("hash password: %w", err)
	}
	canonicalID, err := s.ids.NewID()
	if err != nil {
		return Profile{}, fmt.Errorf("issue user id: %w", err)
	}

	identity := Identity{
		Provider:     ProviderPassword,
		Subject:      normalizedEmail,
		UserID:       canonicalID,
		Email:        normalizedEmail,
		DisplayName:  normalize(displayName),
		PasswordHash: string(hash),
		LastSeenAt:   s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&identity).Error; err != nil {
		return Profile{}, err
	}
	return identity.profile(), nil
}

// AuthenticateEmail checks an email and password pair and returns the
// canonical profile on success.
func (s *Service) AuthenticateEmail(ctx context.Context, email, password string) (Profile, error) {
	normalizedEmail := strings.ToLower(normalize(email))

	var identity Identity
	err := s.db.WithContext(ctx).
		Where("provider = ? AND subject = ?", ProviderPassword, normalizedEmail).
		First(&identity).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, ErrInvalidCredentials
	}
	if err != nil {
		return Profile{}, err
	}
	if identity.PasswordHash == "" {
		return Profile{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(identity.PasswordHash), []byte(password)); err != nil {
		return Profile{}, ErrInvalidCredentials
	}

	_ = s.db.WithContext(ctx).Model(&Identity{}).
		Where("provider = ? AND subject = ?", ProviderPassword, normalizedEmail).
		Update("last_seen_at", s.now()).
		Error
	return identity.profile(), nil
}

// ProfileByUserID returns the stored profile for a canonical user id.
func (s *Service) ProfileByUserID(ctx context.Context, userID string) (Profile, error) {
	var identity Identity
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&identity).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, ErrInvalidIdentity
	}
	if err != nil {
		return Profile{}, err
	}
	return identity.profile(), nil
}
