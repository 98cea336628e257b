package backup

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RegistryConfig bundles the shared dependencies handed to every adapter.
type RegistryConfig struct {
	API    SpreadsheetAPI
	Tokens TokenSource
	States StateStore
	Clock  func() time.Time
	Logger *zap.Logger
}

// Registry hands out one backup adapter per user profile. Adapters carry
// in-memory connection state, so all callers for a user must share the
// same instance.
type Registry struct {
	config RegistryConfig

	mu       sync.Mutex
	adapters map[string]*Adapter
}

// NewRegistry constructs the adapter registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.API == nil {
		return nil, errors.New("backup: spreadsheet api is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("backup: token source is required")
	}
	if cfg.States == nil {
		return nil, errors.New("backup: state store is required")
	}
	return &Registry{
		config:   cfg,
		adapters: make(map[string]*Adapter),
	}, nil
}

// ForUser returns the adapter bound to the user's backup profile,
// constructing and caching it on first use.
func (r *Registry) ForUser(ctx context.Context, userID string) (*Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if adapter, ok := r.adapters[userID]; ok {
		return adapter, nil
	}

	adapter, err := NewAdapter(ctx, AdapterConfig{
		API:     r.config.API,
		Tokens:  r.config.Tokens,
		States:  r.config.States,
		Profile: userID,
		Clock:   r.config.Clock,
		Logger:  r.config.Logger,
	})
	if err != nil {
		return nil, err
	}
	r.adapters[userID] = adapter
	return adapter, nil
}
