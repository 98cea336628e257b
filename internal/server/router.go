package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/momiji-lab/kokoro/backend/internal/auth"
	"github.com/momiji-lab/kokoro/backend/internal/backup"
	"github.com/momiji-lab/kokoro/backend/internal/feedback"
	"github.com/momiji-lab/kokoro/backend/internal/gratitude"
	"github.com/momiji-lab/kokoro/backend/internal/stats"
	"github.com/momiji-lab/kokoro/backend/internal/syncer"
	"github.com/momiji-lab/kokoro/backend/internal/users"
	"go.uber.org/zap"
)

const userIDContextKey = "kokoro_user_id"

var (
	errMissingGoogleVerifier  = errors.New("google verifier dependency required")
	errMissingTokenManager    = errors.New("token manager dependency required")
	errMissingIdentityService = errors.New("identity service dependency required")
	errMissingSessionManager  = errors.New("session manager dependency required")
	errMissingBackupRegistry  = errors.New("backup registry dependency required")
	errInvalidAuthorization   = errors.New("authorization header missing or invalid")
)

type GoogleVerifier interface {
	Verify(ctx context.Context, token string) (auth.GoogleClaims, error)
}

type BackendTokenManager interface {
	IssueBackendToken(ctx context.Context, subject string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

type IdentityService interface {
	ResolveGoogle(ctx context.Context, claims auth.GoogleClaims) (users.Profile, error)
	RegisterEmail(ctx context.Context, email, password, displayName string) (users.Profile, error)
	AuthenticateEmail(ctx context.Context, email, password string) (users.Profile, error)
	ProfileByUserID(ctx context.Context, userID string) (users.Profile, error)
}

type Dependencies struct {
	GoogleVerifier GoogleVerifier
	TokenManager   BackendTokenManager
	Identities     IdentityService
	Sessions       *syncer.Manager
	Backups        *backup.Registry
	Feedback       *feedback.Service
	Gratitude      *gratitude.Service
	Stats          *stats.Service
	Realtime       *RealtimeDispatcher
	Logger         *zap.Logger
	Clock          func() time.Time
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.GoogleVerifier == nil {
		return nil, errMissingGoogleVerifier
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Identities == nil {
		return nil, errMissingIdentityService
	}
	if deps.Sessions == nil {
		return nil, errMissingSessionManager
	}
	if deps.Backups == nil {
		return nil, errMissingBackupRegistry
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		verifier:   deps.GoogleVerifier,
		tokens:     deps.TokenManager,
		identities: deps.Identities,
		sessions:   deps.Sessions,
		backups:    deps.Backups,
		feedback:   deps.Feedback,
		gratitude:  deps.Gratitude,
		stats:      deps.Stats,
		realtime:   deps.Realtime,
		logger:     logger,
		clock:      clock,
	}

	router.POST("/auth/google", handler.handleGoogleAuth)
	router.POST("/auth/signup", handler.handleSignup)
	router.POST("/auth/signin", handler.handleSignin)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/me", handler.handleProfile)
	protected.GET("/entries", handler.handleListEntries)
	protected.PUT("/entries/:id", handler.handleSaveEntry)
	protected.DELETE("/entries/:id", handler.handleDeleteEntry)
	protected.POST("/entries/:id/feedback", handler.handleGenerateFeedback)
	protected.GET("/entries/stream", handler.handleEntryStream)
	protected.GET("/export", handler.handleExport)
	protected.GET("/gratitude", handler.handleListGratitude)
	protected.POST("/gratitude", handler.handleAddGratitude)
	protected.GET("/stats", handler.handleStats)
	protected.GET("/stats/summary", handler.handleStatsSummary)
	protected.GET("/sync/status", handler.handleSyncStatus)
	protected.POST("/sync/connect", handler.handleSyncConnect)
	protected.POST("/sync/disconnect", handler.handleSyncDisconnect)
	protected.POST("/sync/backup", handler.handleSyncBackup)
	protected.POST("/sync/import", handler.handleSyncImport)
	protected.PUT("/sync/auto", handler.handleSyncAuto)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	verifier   GoogleVerifier
	tokens     BackendTokenManager
	identities IdentityService
	sessions   *syncer.Manager
	backups    *backup.Registry
	feedback   *feedback.Service
	gratitude  *gratitude.Service
	stats      *stats.Service
	realtime   *RealtimeDispatcher
	logger     *zap.Logger
	clock      func() time.Time
}

type googleAuthPayload struct {
	IDToken string `json:"id_token"`
}

type signupPayload struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type signinPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponsePayload struct {
	AccessToken string        `json:"access_token"`
	ExpiresIn   int64         `json:"expires_in"`
	TokenType   string        `json:"token_type"`
	Profile     users.Profile `json:"profile"`
}

func (h *httpHandler) handleGoogleAuth(c *gin.Context) {
	var request googleAuthPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.IDToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	claims, err := h.verifier.Verify(c.Request.Context(), request.IDToken)
	if err != nil {
		h.logger.Warn("google token verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	profile, err := h.identities.ResolveGoogle(c.Request.Context(), claims)
	if err != nil {
		h.logger.Error("identity resolution failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "identity_failed"})
		return
	}

	h.issueToken(c, profile)
}

func (h *httpHandler) handleSignup(c *gin.Context) {
	var request signupPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	profile, err := h.identities.RegisterEmail(c.Request.Context(), request.Email, request.Password, request.DisplayName)
	switch {
	case errors.Is(err, users.ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "email_taken"})
		return
	case errors.Is(err, users.ErrWeakPassword):
		c.JSON(http.StatusBadRequest, gin.H{"error": "weak_password"})
		return
	case errors.Is(err, users.ErrInvalidIdentity):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_email"})
		return
	case err != nil:
		h.logger.Error("signup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signup_failed"})
		return
	}

	h.issueToken(c, profile)
}

func (h *httpHandler) handleSignin(c *gin.Context) {
	var request signinPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	profile, err := h.identities.AuthenticateEmail(c.Request.Context(), request.Email, request.Password)
	if errors.Is(err, users.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
		return
	}
	if err != nil {
		h.logger.Error("signin failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signin_failed"})
		return
	}

	h.issueToken(c, profile)
}

func (h *httpHandler) issueToken(c *gin.Context, profile users.Profile) {
	token, expiresIn, err := h.tokens.IssueBackendToken(c.Request.Context(), profile.UserID)
	if err != nil {
		h.logger.Error("failed to issue backend token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, authResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		Profile:     profile,
	})
}

func (h *httpHandler) handleProfile(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	profile, err := h.identities.ProfileByUserID(c.Request.Context(), userID)
	if errors.Is(err, users.ErrInvalidIdentity) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_user"})
		return
	}
	if err != nil {
		h.logger.Error("profile lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "profile_failed"})
		return
	}
	c.JSON(http.StatusOK, profile)
}

// authorizeRequest accepts the backend bearer token either as an
// Authorization header or, for EventSource clients that cannot set
// headers, as an access_token query parameter.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := ""
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if token == "" {
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

// session resolves the caller's sync session, starting one when needed.
// A nil session means the response has already been written.
func (h *httpHandler) session(c *gin.Context) *syncer.Orchestrator {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil
	}
	session, err := h.sessions.Session(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("session start failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session_unavailable"})
		return nil
	}
	return session
}

func (h *httpHandler) backupAdapter(c *gin.Context) *backup.Adapter {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil
	}
	adapter, err := h.backups.ForUser(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("backup adapter unavailable", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "backup_unavailable"})
		return nil
	}
	return adapter
}
