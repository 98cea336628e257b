package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "KOKORO"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "kokoro.db"
	defaultLogLevel     = "info"
	defaultTokenTTL     = 24 * time.Hour
	defaultGoogleJWKS   = "https://www.googleapis.com/oauth2/v3/certs"
	defaultGeminiModel  = "gemini-2.5-flash"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress  string
	DatabasePath string
	LogLevel     string

	AuthSigningSecret string
	AuthTokenTTL      time.Duration

	GoogleClientID string
	GoogleJWKSURL  string

	GeminiAPIKey   string
	GeminiModel    string
	GeminiEndpoint string

	BackupClientID     string
	BackupClientSecret string
	BackupRefreshToken string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.token_ttl", defaultTokenTTL)
	configViper.SetDefault("google.jwks_url", defaultGoogleJWKS)
	configViper.SetDefault("gemini.model", defaultGeminiModel)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:  configViper.GetString("http.address"),
		DatabasePath: configViper.GetString("database.path"),
		LogLevel:     configViper.GetString("log.level"),

		AuthSigningSecret: configViper.GetString("auth.signing_secret"),
		AuthTokenTTL:      configViper.GetDuration("auth.token_ttl"),

		GoogleClientID: configViper.GetString("google.client_id"),
		GoogleJWKSURL:  configViper.GetString("google.jwks_url"),

		GeminiAPIKey:   configViper.GetString("gemini.api_key"),
		GeminiModel:    configViper.GetString("gemini.model"),
		GeminiEndpoint: configViper.GetString("gemini.endpoint"),

		BackupClientID:     configViper.GetString("backup.client_id"),
		BackupClientSecret: configViper.GetString("backup.client_secret"),
		BackupRefreshToken: configViper.GetString("backup.refresh_token"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// GeminiEnabled reports whether the AI feedback surface should be wired.
func (c AppConfig) GeminiEnabled() bool {
	return strings.TrimSpace(c.GeminiAPIKey) != ""
}

// BackupEnabled reports whether the spreadsheet backup surface should be
// wired with real OAuth credentials.
func (c AppConfig) BackupEnabled() bool {
	return strings.TrimSpace(c.BackupClientID) != "" &&
		strings.TrimSpace(c.BackupClientSecret) != "" &&
		strings.TrimSpace(c.BackupRefreshToken) != ""
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.AuthSigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.GoogleClientID) == "" {
		return fmt.Errorf("google.client_id is required")
	}
	if c.AuthTokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	return nil
}
