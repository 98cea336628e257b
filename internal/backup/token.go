package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	defaultOAuthTokenURL  = "https://oauth2.googleapis.com/token"
	defaultOAuthRevokeURL = "https://oauth2.googleapis.com/revoke"

	// tokenExpirySlack forces a refresh slightly before the provider's
	// stated expiry so in-flight requests never carry a dying credential.
	tokenExpirySlack = 30 * time.Second
)

// OAuthTokenSourceConfig configures the refresh-token OAuth source.
type OAuthTokenSourceConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	TokenURL     string
	RevokeURL    string
	HTTPClient   *http.Client
	Clock        func() time.Time
}

// OAuthTokenSource exchanges a long-lived refresh token for short-lived
// bearer credentials and caches them until shortly before expiry.
type OAuthTokenSource struct {
	clientID     string
	clientSecret string
	refreshToken string
	tokenURL     string
	revokeURL    string
	httpClient   *http.Client
	clock        func() time.Time

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

// NewDisabledTokenSource returns a source that rejects every authorization
// attempt. Deployments running without OAuth credentials use it so the
// connect surface fails with a clean denial.
func NewDisabledTokenSource() TokenSource {
	return disabledTokenSource{}
}

type disabledTokenSource struct{}

func (disabledTokenSource) Authorize(context.Context) error { return ErrAuthDenied }

func (disabledTokenSource) Token(context.Context) (string, error) { return "", ErrAuthDenied }

func (disabledTokenSource) Revoke(context.Context) error { return nil }

// NewOAuthTokenSource constructs the source with validated configuration.
func NewOAuthTokenSource(cfg OAuthTokenSourceConfig) (*OAuthTokenSource, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errors.New("backup: oauth client id is required")
	}
	if strings.TrimSpace(cfg.RefreshToken) == "" {
		return nil, errors.New("backup: oauth refresh token is required")
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = defaultOAuthTokenURL
	}
	revokeURL := cfg.RevokeURL
	if revokeURL == "" {
		revokeURL = defaultOAuthRevokeURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &OAuthTokenSource{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		refreshToken: cfg.RefreshToken,
		tokenURL:     tokenURL,
		revokeURL:    revokeURL,
		httpClient:   httpClient,
		clock:        clock,
	}, nil
}

// Authorize validates the stored credential by performing a token exchange.
func (s *OAuthTokenSource) Authorize(ctx context.Context) error {
	_, err := s.Token(ctx)
	return err
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// Token returns a valid bearer credential, refreshing it when the cached
// one is close to expiry.
func (s *OAuthTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.accessToken != "" && s.clock().Before(s.expiresAt.Add(-tokenExpirySlack)) {
		return s.accessToken, nil
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {s.refreshToken},
		"client_id":     {s.clientID},
	}
	if s.clientSecret != "" {
		form.Set("client_secret", s.clientSecret)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	response, err := s.httpClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer response.Body.Close()

	var parsed tokenResponse
	if err := json.NewDecoder(response.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	if response.StatusCode != http.StatusOK || parsed.AccessToken == "" {
		if response.StatusCode >= http.StatusInternalServerError {
			return "", fmt.Errorf("%w: status %d", ErrProviderUnavailable, response.StatusCode)
		}
		reason := parsed.Description
		if reason == "" {
			reason = parsed.Error
		}
		return "", fmt.Errorf("%w: %s", ErrAuthDenied, reason)
	}

	s.accessToken = parsed.AccessToken
	s.expiresAt = s.clock().Add(time.Duration(parsed.ExpiresIn) * time.Second)
	return s.accessToken, nil
}

// Revoke invalidates the refresh token with the provider and drops the
// cached access token.
func (s *OAuthTokenSource) Revoke(ctx context.Context) error {
	s.mu.Lock()
	s.accessToken = ""
	s.expiresAt = time.Time{}
	s.mu.Unlock()

	form := url.Values{"token": {s.refreshToken}}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	response, err := s.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: revoke status %d", ErrProviderUnavailable, response.StatusCode)
	}
	return nil
}
