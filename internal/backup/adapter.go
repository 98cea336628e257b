package backup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/momiji-lab/kokoro/backend/internal/entries"
	"go.uber.org/zap"
)

const (
	// SpreadsheetTitle is the fixed well-known name of the backup document.
	SpreadsheetTitle = "Kokoro-Diary-Backup"

	backupRange = "Sheet1!A1"
	importRange = "Sheet1!A:H"

	// DefaultProfile keys the backup state when the deployment serves a
	// single installation.
	DefaultProfile = "default"
)

var (
	// ErrAuthDenied indicates the user declined authorization or the
	// credential was rejected.
	ErrAuthDenied = errors.New("backup: authorization denied")
	// ErrProviderUnavailable indicates the external store could not be
	// reached.
	ErrProviderUnavailable = errors.New("backup: provider unavailable")
	// ErrSyncFailed indicates a backup write was rejected. The previous
	// remote contents are left as they were.
	ErrSyncFailed = errors.New("backup: sync failed")
	// ErrNotConnected indicates an operation that requires a prior
	// successful Connect.
	ErrNotConnected = errors.New("backup: not connected")
)

// AdapterConfig bundles the dependencies of the backup adapter.
type AdapterConfig struct {
	API     SpreadsheetAPI
	Tokens  TokenSource
	States  StateStore
	Profile string
	Clock   func() time.Time
	Logger  *zap.Logger
}

// Adapter maintains a secondary, human-inspectable tabular copy of the
// entries in an external spreadsheet, independent of the primary
// persistence adapter. The two copies are best-effort consistent; no
// transaction spans them.
type Adapter struct {
	api     SpreadsheetAPI
	tokens  TokenSource
	states  StateStore
	profile string
	clock   func() time.Time
	logger  *zap.Logger

	mu    sync.Mutex
	state State
}

// NewAdapter constructs the adapter and loads the persisted state for the
// profile.
func NewAdapter(ctx context.Context, cfg AdapterConfig) (*Adapter, error) {
	if cfg.API == nil {
		return nil, errors.New("backup: spreadsheet api is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("backup: token source is required")
	}
	if cfg.States == nil {
		return nil, errors.New("backup: state store is required")
	}
	profile := cfg.Profile
	if profile == "" {
		profile = DefaultProfile
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	state, _, err := cfg.States.Load(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("backup: loading state: %w", err)
	}

	return &Adapter{
		api:     cfg.API,
		tokens:  cfg.Tokens,
		states:  cfg.States,
		profile: profile,
		clock:   clock,
		logger:  logger,
		state:   state,
	}, nil
}

// Connect runs the authorization handshake, locates or creates the backup
// document, and persists the connection. Auto-backup defaults to enabled
// after the first successful connect; a preference the user chose earlier
// survives reconnects.
func (a *Adapter) Connect(ctx context.Context) error {
	if err := a.tokens.Authorize(ctx); err != nil {
		if errors.Is(err, ErrAuthDenied) || errors.Is(err, ErrProviderUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrAuthDenied, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	spreadsheetID := a.state.SpreadsheetID
	if spreadsheetID == "" {
		found, err := a.api.FindSpreadsheet(ctx, SpreadsheetTitle)
		if err != nil {
			return err
		}
		spreadsheetID = found
	}
	if spreadsheetID == "" {
		created, err := a.api.CreateSpreadsheet(ctx, SpreadsheetTitle)
		if err != nil {
			return err
		}
		spreadsheetID = created
	}

	a.state.Connected = true
	a.state.SpreadsheetID = spreadsheetID
	if !a.state.AutoBackupChosen {
		a.state.AutoBackup = true
	}
	if err := a.states.Save(ctx, a.state); err != nil {
		return fmt.Errorf("backup: persisting state: %w", err)
	}

	a.logger.Info("backup connected", zap.String("spreadsheet_id", spreadsheetID))
	return nil
}

// Disconnect revokes authorization and forgets the document identifier.
// The remote document itself is never deleted, and the last-backup
// timestamp is kept for display.
func (a *Adapter) Disconnect(ctx context.Context) error {
	if err := a.tokens.Revoke(ctx); err != nil {
		a.logger.Warn("backup token revocation failed", zap.Error(err))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.state.Connected = false
	a.state.SpreadsheetID = ""
	if err := a.states.Save(ctx, a.state); err != nil {
		return fmt.Errorf("backup: persisting state: %w", err)
	}
	return nil
}

// IsConnected reports whether a successful Connect is in effect.
func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Connected
}

// BackupNow overwrites the document's data range with the serialized
// entries and returns the completion time. An empty collection skips the
// write but still records the completion time, so the auto-backup schedule
// advances for users with nothing to back up.
func (a *Adapter) BackupNow(ctx context.Context, collection []entries.Entry) (time.Time, error) {
	a.mu.Lock()
	connected := a.state.Connected
	spreadsheetID := a.state.SpreadsheetID
	a.mu.Unlock()

	if !connected || spreadsheetID == "" {
		return time.Time{}, ErrNotConnected
	}
	if len(collection) != 0 {
		if err := a.api.UpdateValues(ctx, spreadsheetID, backupRange, encodeRows(collection)); err != nil {
			if errors.Is(err, ErrAuthDenied) {
				return time.Time{}, err
			}
			return time.Time{}, fmt.Errorf("%w: %v", ErrSyncFailed, err)
		}
	}

	completedAt := a.clock().UTC()

	a.mu.Lock()
	a.state.LastBackupAtSeconds = completedAt.Unix()
	saveErr := a.states.Save(ctx, a.state)
	a.mu.Unlock()
	if saveErr != nil {
		a.logger.Warn("failed to persist last backup time", zap.Error(saveErr))
	}

	return completedAt, nil
}

// ImportFromBackup reads the document table and reconstructs the entries
// whose owning-user column matches the given user. Rows that fail schema
// validation are logged and excluded. The result is a candidate list only:
// callers must merge, never upsert, so stale backup rows cannot overwrite
// newer local edits.
func (a *Adapter) ImportFromBackup(ctx context.Context, userID string) ([]entries.Entry, error) {
	a.mu.Lock()
	connected := a.state.Connected
	spreadsheetID := a.state.SpreadsheetID
	a.mu.Unlock()

	if !connected || spreadsheetID == "" {
		return nil, ErrNotConnected
	}

	rows, err := a.api.GetValues(ctx, spreadsheetID, importRange)
	if err != nil {
		if errors.Is(err, ErrAuthDenied) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrSyncFailed, err)
	}
	if len(rows) < 2 {
		return []entries.Entry{}, nil
	}

	importedAt := a.clock().UTC()
	candidates := make([]entries.Entry, 0, len(rows)-1)
	for index, row := range rows[1:] {
		entry, err := decodeRow(row, importedAt)
		if err != nil {
			a.logger.Warn("backup row rejected",
				zap.Int("row", index+2),
				zap.Error(err))
			continue
		}
		if entry.UserID != userID {
			continue
		}
		candidates = append(candidates, entry)
	}
	return candidates, nil
}

// IsAutoBackupEnabled reports the auto-backup preference. A connected
// profile that never chose a preference defaults to enabled.
func (a *Adapter) IsAutoBackupEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state.Connected && !a.state.AutoBackupChosen {
		return true
	}
	return a.state.AutoBackup
}

// SetAutoBackupEnabled records the user's auto-backup preference.
func (a *Adapter) SetAutoBackupEnabled(ctx context.Context, enabled bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.state.AutoBackup = enabled
	a.state.AutoBackupChosen = true
	if err := a.states.Save(ctx, a.state); err != nil {
		return fmt.Errorf("backup: persisting state: %w", err)
	}
	return nil
}

// GetLastBackupDate returns the completion time of the most recent
// BackupNow, or false when no backup has ever run.
func (a *Adapter) GetLastBackupDate() (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state.LastBackupAtSeconds == 0 {
		return time.Time{}, false
	}
	return time.Unix(a.state.LastBackupAtSeconds, 0).UTC(), true
}

// SpreadsheetURL returns the address of the backup document for display,
// or false when not connected.
func (a *Adapter) SpreadsheetURL() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.state.Connected || a.state.SpreadsheetID == "" {
		return "", false
	}
	return "https://docs.google.com/spreadsheets/d/" + a.state.SpreadsheetID, true
}
