package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/momiji-lab/kokoro/backend/internal/auth"
	"github.com/momiji-lab/kokoro/backend/internal/backup"
	"github.com/momiji-lab/kokoro/backend/internal/config"
	"github.com/momiji-lab/kokoro/backend/internal/database"
	"github.com/momiji-lab/kokoro/backend/internal/entries"
	"github.com/momiji-lab/kokoro/backend/internal/feedback"
	"github.com/momiji-lab/kokoro/backend/internal/gratitude"
	"github.com/momiji-lab/kokoro/backend/internal/logging"
	"github.com/momiji-lab/kokoro/backend/internal/persistence"
	"github.com/momiji-lab/kokoro/backend/internal/server"
	"github.com/momiji-lab/kokoro/backend/internal/stats"
	"github.com/momiji-lab/kokoro/backend/internal/syncer"
	"github.com/momiji-lab/kokoro/backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "kokoro-api",
		Short: "Kokoro diary backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("google-client-id", defaults.GetString("google.client_id"), "Google OAuth client ID")
	cmd.PersistentFlags().String("google-jwks-url", defaults.GetString("google.jwks_url"), "Google JWKS URL")
	cmd.PersistentFlags().Duration("token-ttl", defaults.GetDuration("auth.token_ttl"), "Backend token lifetime")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")
	cmd.PersistentFlags().String("gemini-api-key", "", "Gemini API key (overrides env)")
	cmd.PersistentFlags().String("gemini-model", defaults.GetString("gemini.model"), "Gemini model name")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "google.client_id", "google-client-id")
	bindFlag(cmd, "google.jwks_url", "google-jwks-url")
	bindFlag(cmd, "auth.token_ttl", "token-ttl")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "gemini.api_key", "gemini-api-key")
	bindFlag(cmd, "gemini.model", "gemini-model")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.AuthSigningSecret),
		Issuer:        "kokoro-auth",
		Audience:      "kokoro-api",
		TokenTTL:      appConfig.AuthTokenTTL,
	})

	googleVerifier, err := auth.NewGoogleVerifier(auth.GoogleVerifierConfig{
		Audience:       appConfig.GoogleClientID,
		JWKSURL:        appConfig.GoogleJWKSURL,
		AllowedIssuers: []string{"https://accounts.google.com", "accounts.google.com"},
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	identityService, err := users.NewService(users.ServiceConfig{
		Database: db,
		IDs:      entries.NewUUIDProvider(),
	})
	if err != nil {
		return err
	}

	persistenceAdapter, err := persistence.NewAdapter(persistence.AdapterConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	registry, err := buildBackupRegistry(appConfig, db, logger)
	if err != nil {
		return err
	}

	dispatcher := server.NewRealtimeDispatcher()
	sessionManager, err := syncer.NewManager(func(userID string) (*syncer.Orchestrator, error) {
		adapter, err := registry.ForUser(context.Background(), userID)
		if err != nil {
			return nil, err
		}
		return syncer.New(syncer.Config{
			UserID:      userID,
			Store:       entries.NewStore(),
			Persistence: persistenceAdapter,
			Backup:      adapter,
			Notifier:    dispatcher,
			Logger:      logger,
		})
	})
	if err != nil {
		return err
	}

	feedbackService, completer, err := buildFeedback(appConfig, logger)
	if err != nil {
		return err
	}

	gratitudeService, err := gratitude.NewService(gratitude.ServiceConfig{
		Database: db,
		IDs:      entries.NewUUIDProvider(),
	})
	if err != nil {
		return err
	}

	statsService, err := stats.NewService(time.Now, completer)
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		GoogleVerifier: googleVerifier,
		TokenManager:   tokenManager,
		Identities:     identityService,
		Sessions:       sessionManager,
		Backups:        registry,
		Feedback:       feedbackService,
		Gratitude:      gratitudeService,
		Stats:          statsService,
		Realtime:       dispatcher,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		// In-flight handlers are done; wait for the trailing background
		// saves so acknowledged entries are on disk before exiting.
		if err := sessionManager.DrainSaves(shutdownCtx); err != nil {
			logger.Warn("background saves not drained before shutdown", zap.Error(err))
		}
		return nil
	case err := <-errCh:
		return err
	}
}

func buildBackupRegistry(appConfig config.AppConfig, db *gorm.DB, logger *zap.Logger) (*backup.Registry, error) {
	states, err := backup.NewGormStateStore(db)
	if err != nil {
		return nil, err
	}

	var tokens backup.TokenSource
	if appConfig.BackupEnabled() {
		tokens, err = backup.NewOAuthTokenSource(backup.OAuthTokenSourceConfig{
			ClientID:     appConfig.BackupClientID,
			ClientSecret: appConfig.BackupClientSecret,
			RefreshToken: appConfig.BackupRefreshToken,
		})
		if err != nil {
			return nil, err
		}
	} else {
		logger.Warn("backup oauth credentials not configured, spreadsheet sync disabled")
		tokens = backup.NewDisabledTokenSource()
	}

	sheets, err := backup.NewSheetsClient(backup.SheetsClientConfig{Tokens: tokens})
	if err != nil {
		return nil, err
	}

	return backup.NewRegistry(backup.RegistryConfig{
		API:    sheets,
		Tokens: tokens,
		States: states,
		Logger: logger,
	})
}

func buildFeedback(appConfig config.AppConfig, logger *zap.Logger) (*feedback.Service, feedback.Completer, error) {
	if !appConfig.GeminiEnabled() {
		logger.Warn("gemini api key not configured, ai feedback disabled")
		return nil, nil, nil
	}

	client, err := feedback.NewGeminiClient(feedback.GeminiConfig{
		APIKey:   appConfig.GeminiAPIKey,
		Model:    appConfig.GeminiModel,
		Endpoint: appConfig.GeminiEndpoint,
		Logger:   logger,
	})
	if err != nil {
		return nil, nil, err
	}

	service, err := feedback.NewService(feedback.ServiceConfig{
		Completer: client,
		IDs:       entries.NewUUIDProvider(),
		Logger:    logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return service, client, nil
}
