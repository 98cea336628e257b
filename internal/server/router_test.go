package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/momiji-lab/kokoro/backend/internal/auth"
	"github.com/momiji-lab/kokoro/backend/internal/backup"
	"github.com/momiji-lab/kokoro/backend/internal/entries"
	"github.com/momiji-lab/kokoro/backend/internal/feedback"
	"github.com/momiji-lab/kokoro/backend/internal/gratitude"
	"github.com/momiji-lab/kokoro/backend/internal/stats"
	"github.com/momiji-lab/kokoro/backend/internal/syncer"
	"github.com/momiji-lab/kokoro/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type memoryPersistence struct {
	mu          sync.Mutex
	collections map[string][]entries.Entry
}

func newMemoryPersistence() *memoryPersistence {
	return &memoryPersistence{collections: make(map[string][]entries.Entry)}
}

func (m *memoryPersistence) Load(_ context.Context, userID string) ([]entries.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]entries.Entry(nil), m.collections[userID]...), nil
}

func (m *memoryPersistence) Save(_ context.Context, userID string, collection []entries.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[userID] = append([]entries.Entry(nil), collection...)
	return nil
}

type memorySheets struct {
	mu     sync.Mutex
	nextID int
	titles map[string]string
	values map[string][][]string
}

func newMemorySheets() *memorySheets {
	return &memorySheets{
		titles: make(map[string]string),
		values: make(map[string][][]string),
	}
}

func (m *memorySheets) FindSpreadsheet(_ context.Context, title string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.titles[title], nil
}

func (m *memorySheets) CreateSpreadsheet(_ context.Context, title string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("sheet-%d", m.nextID)
	m.titles[title] = id
	return id, nil
}

func (m *memorySheets) UpdateValues(_ context.Context, spreadsheetID, _ string, values [][]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[spreadsheetID] = values
	return nil
}

func (m *memorySheets) GetValues(_ context.Context, spreadsheetID, _ string) ([][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[spreadsheetID], nil
}

type stubTokenSource struct {
	authorizeErr error
}

func (s *stubTokenSource) Authorize(context.Context) error { return s.authorizeErr }
func (s *stubTokenSource) Token(context.Context) (string, error) {
	return "access-token", s.authorizeErr
}
func (s *stubTokenSource) Revoke(context.Context) error { return nil }

type memoryStateStore struct {
	mu     sync.Mutex
	states map[string]backup.State
}

func newMemoryStateStore() *memoryStateStore {
	return &memoryStateStore{states: make(map[string]backup.State)}
}

func (m *memoryStateStore) Load(_ context.Context, profile string) (backup.State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[profile]
	if !ok {
		return backup.State{Profile: profile}, false, nil
	}
	return state, true, nil
}

func (m *memoryStateStore) Save(_ context.Context, state backup.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.Profile] = state
	return nil
}

type stubVerifier struct {
	claims auth.GoogleClaims
	err    error
}

func (s stubVerifier) Verify(context.Context, string) (auth.GoogleClaims, error) {
	return s.claims, s.err
}

type scriptedCompleter struct {
	mu   sync.Mutex
	text string
	err  error
}

func (s *scriptedCompleter) Complete(context.Context, string, string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	return s.text, nil
}

type routerFixture struct {
	handler     http.Handler
	issuer      *auth.TokenIssuer
	persistence *memoryPersistence
	sheets      *memorySheets
	tokens      *stubTokenSource
	completer   *scriptedCompleter
	dispatcher  *RealtimeDispatcher
	identities  *users.Service
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	databasePath := filepath.Join(t.TempDir(), "server.db")
	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite database: %v", err)
	}
	if err := database.AutoMigrate(&users.Identity{}, &gratitude.Note{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	identities, err := users.NewService(users.ServiceConfig{
		Database: database,
		IDs:      entries.NewUUIDProvider(),
		HashCost: 4,
	})
	if err != nil {
		t.Fatalf("failed to build identity service: %v", err)
	}

	issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "kokoro-auth",
		Audience:      "kokoro-api",
		TokenTTL:      time.Minute,
	})

	persistence := newMemoryPersistence()
	sheets := newMemorySheets()
	tokenSource := &stubTokenSource{}
	registry, err := backup.NewRegistry(backup.RegistryConfig{
		API:    sheets,
		Tokens: tokenSource,
		States: newMemoryStateStore(),
		Logger: zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build backup registry: %v", err)
	}

	dispatcher := NewRealtimeDispatcher()
	manager, err := syncer.NewManager(func(userID string) (*syncer.Orchestrator, error) {
		adapter, err := registry.ForUser(context.Background(), userID)
		if err != nil {
			return nil, err
		}
		return syncer.New(syncer.Config{
			UserID:      userID,
			Store:       entries.NewStore(),
			Persistence: persistence,
			Backup:      adapter,
			Notifier:    dispatcher,
			Logger:      zap.NewNop(),
		})
	})
	if err != nil {
		t.Fatalf("failed to build session manager: %v", err)
	}

	completer := &scriptedCompleter{text: "A thoughtful day. Be kind to yourself."}
	feedbackService, err := feedback.NewService(feedback.ServiceConfig{
		Completer: completer,
		IDs:       entries.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to build feedback service: %v", err)
	}

	gratitudeService, err := gratitude.NewService(gratitude.ServiceConfig{
		Database: database,
		IDs:      entries.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to build gratitude service: %v", err)
	}

	statsService, err := stats.NewService(time.Now, completer)
	if err != nil {
		t.Fatalf("failed to build stats service: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		GoogleVerifier: stubVerifier{claims: auth.GoogleClaims{Subject: "google-sub", Email: "g@example.com"}},
		TokenManager:   issuer,
		Identities:     identities,
		Sessions:       manager,
		Backups:        registry,
		Feedback:       feedbackService,
		Gratitude:      gratitudeService,
		Stats:          statsService,
		Realtime:       dispatcher,
		Logger:         zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	return &routerFixture{
		handler:     handler,
		issuer:      issuer,
		persistence: persistence,
		sheets:      sheets,
		tokens:      tokenSource,
		completer:   completer,
		dispatcher:  dispatcher,
		identities:  identities,
	}
}

func (f *routerFixture) tokenFor(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := f.issuer.IssueBackendToken(context.Background(), userID)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (f *routerFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeResponse[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var decoded T
	if err := json.Unmarshal(recorder.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return decoded
}
