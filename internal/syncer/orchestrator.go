package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/momiji-lab/kokoro/backend/internal/entries"
	"go.uber.org/zap"
)

// Phase names the lifecycle state of one user session.
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseLoading       Phase = "loading"
	PhaseReady         Phase = "ready"
	PhaseErrored       Phase = "errored"
)

const (
	// autoBackupInterval is the age after which a session start schedules a
	// fresh backup of the whole collection.
	autoBackupInterval = 7 * 24 * time.Hour

	backgroundOpTimeout = 30 * time.Second
)

var (
	// ErrNotReady indicates a mutation or sync operation before the session
	// finished loading, or after it failed to load.
	ErrNotReady = errors.New("syncer: session is not ready")
	// ErrAlreadyStarted indicates a second Start on the same session.
	ErrAlreadyStarted = errors.New("syncer: session already started")

	errMissingStore       = errors.New("entry store is required")
	errMissingPersistence = errors.New("persistence adapter is required")
	errMissingBackup      = errors.New("backup adapter is required")
	errMissingUserID      = errors.New("user identifier is required")
)

// PersistenceAdapter is the authoritative account-scoped store consumed by
// the orchestrator.
type PersistenceAdapter interface {
	Load(ctx context.Context, userID string) ([]entries.Entry, error)
	Save(ctx context.Context, userID string, collection []entries.Entry) error
}

// BackupAdapter is the secondary spreadsheet-backed copy.
type BackupAdapter interface {
	IsConnected() bool
	IsAutoBackupEnabled() bool
	GetLastBackupDate() (time.Time, bool)
	BackupNow(ctx context.Context, collection []entries.Entry) (time.Time, error)
	ImportFromBackup(ctx context.Context, userID string) ([]entries.Entry, error)
}

// Notifier receives change events after the store mutates. Used to fan out
// to connected clients; a nil notifier is allowed.
type Notifier interface {
	EntriesChanged(userID string, entryIDs []string)
}

// Config bundles the orchestrator dependencies for one user session.
type Config struct {
	UserID      string
	Store       *entries.Store
	Persistence PersistenceAdapter
	Backup      BackupAdapter
	Notifier    Notifier
	Clock       func() time.Time
	Logger      *zap.Logger
}

// Orchestrator sequences loads, saves, and backups around the lifecycle of
// one user session. Mutations apply to the in-memory store synchronously
// and in invocation order; the follow-up persistence save is asynchronous
// and collapses bursts into at most one trailing write, so overlapping
// saves for the same user cannot interleave within a session. Across
// sessions (or processes) the last full-collection save to commit wins.
type Orchestrator struct {
	userID      string
	store       *entries.Store
	persistence PersistenceAdapter
	backup      BackupAdapter
	notifier    Notifier
	clock       func() time.Time
	logger      *zap.Logger

	mu    sync.Mutex
	phase Phase

	saveMu      sync.Mutex
	saveRunning bool
	savePending bool
	saveDone    chan struct{}
}

// New constructs an orchestrator in the Uninitialized phase.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.UserID == "" {
		return nil, errMissingUserID
	}
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Persistence == nil {
		return nil, errMissingPersistence
	}
	if cfg.Backup == nil {
		return nil, errMissingBackup
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		userID:      cfg.UserID,
		store:       cfg.Store,
		persistence: cfg.Persistence,
		backup:      cfg.Backup,
		notifier:    cfg.Notifier,
		clock:       clock,
		logger:      logger,
		phase:       PhaseUninitialized,
	}, nil
}

// Phase reports the current session phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// UserID returns the owner of this session.
func (o *Orchestrator) UserID() string {
	return o.userID
}

// Start seeds the store from the persistence adapter and, when the weekly
// backup is due, schedules it without blocking the caller. A failed load
// leaves the session Errored; the caller must build a fresh session to
// retry.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.phase != PhaseUninitialized {
		o.mu.Unlock()
		return ErrAlreadyStarted
	}
	o.phase = PhaseLoading
	o.mu.Unlock()

	loaded, err := o.persistence.Load(ctx, o.userID)
	if err != nil {
		o.mu.Lock()
		o.phase = PhaseErrored
		o.mu.Unlock()
		o.logger.Error("session load failed",
			zap.String("user_id", o.userID),
			zap.Error(err))
		return fmt.Errorf("syncer: loading entries: %w", err)
	}

	o.store.Reset(loaded)

	o.mu.Lock()
	o.phase = PhaseReady
	o.mu.Unlock()

	if o.autoBackupDue() {
		go o.runAutoBackup()
	}
	return nil
}

// Entries returns the current ordered collection.
func (o *Orchestrator) Entries() []entries.Entry {
	return o.store.List()
}

// Entry returns a single entry by identifier.
func (o *Orchestrator) Entry(id string) (entries.Entry, bool) {
	return o.store.Get(id)
}

// SaveEntry validates and upserts the entry, then schedules a background
// persistence save. The save is fire-and-forget: local state stays the
// source of truth for the session and failures are logged, not surfaced.
func (o *Orchestrator) SaveEntry(entry entries.Entry) error {
	if err := o.requireReady(); err != nil {
		return err
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	if entry.UserID != o.userID {
		return entries.ErrInvalidUserID
	}

	o.store.Upsert(entry)
	o.scheduleSave()
	o.notifyChanged(entry.ID)
	return nil
}

// DeleteEntry removes the entry and schedules a background save. Deleting
// an unknown identifier is a no-op.
func (o *Orchestrator) DeleteEntry(id string) error {
	if err := o.requireReady(); err != nil {
		return err
	}
	o.store.Remove(id)
	o.scheduleSave()
	o.notifyChanged(id)
	return nil
}

// SetFeedback replaces the feedback record on the entry wholesale.
func (o *Orchestrator) SetFeedback(entryID string, feedback entries.AIFeedback) error {
	if err := o.requireReady(); err != nil {
		return err
	}
	entry, ok := o.store.Get(entryID)
	if !ok {
		return fmt.Errorf("%w: %s", entries.ErrInvalidEntryID, entryID)
	}
	entry.Feedback = &feedback
	o.store.Upsert(entry)
	o.scheduleSave()
	o.notifyChanged(entryID)
	return nil
}

// ManualBackup pushes the current collection to the backup document and
// surfaces the result to the caller.
func (o *Orchestrator) ManualBackup(ctx context.Context) (time.Time, error) {
	if err := o.requireReady(); err != nil {
		return time.Time{}, err
	}
	return o.backup.BackupNow(ctx, o.store.List())
}

// ImportFromBackup pulls candidate entries from the backup document, merges
// the previously unseen ones into the store, and reports how many were
// added. A non-empty merge schedules a persistence save so the primary
// store catches up.
func (o *Orchestrator) ImportFromBackup(ctx context.Context) (int, error) {
	if err := o.requireReady(); err != nil {
		return 0, err
	}
	candidates, err := o.backup.ImportFromBackup(ctx, o.userID)
	if err != nil {
		return 0, err
	}
	inserted := o.store.Merge(candidates)
	if inserted > 0 {
		o.scheduleSave()
		o.notifyChanged("")
	}
	return inserted, nil
}

func (o *Orchestrator) requireReady() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.phase != PhaseReady {
		return fmt.Errorf("%w: phase %s", ErrNotReady, o.phase)
	}
	return nil
}

// scheduleSave starts the trailing-save worker or marks another pass
// pending when one is already running. Each pass snapshots the store at
// write time, so the final write always reflects the latest mutation.
func (o *Orchestrator) scheduleSave() {
	o.saveMu.Lock()
	if o.saveRunning {
		o.savePending = true
		o.saveMu.Unlock()
		return
	}
	o.saveRunning = true
	o.saveDone = make(chan struct{})
	done := o.saveDone
	o.saveMu.Unlock()

	go o.runSaves(done)
}

func (o *Orchestrator) runSaves(done chan struct{}) {
	defer close(done)
	for {
		snapshot := o.store.List()
		ctx, cancel := context.WithTimeout(context.Background(), backgroundOpTimeout)
		err := o.persistence.Save(ctx, o.userID, snapshot)
		cancel()
		if err != nil {
			o.logger.Warn("background save failed",
				zap.String("user_id", o.userID),
				zap.Error(err))
		}

		o.saveMu.Lock()
		if o.savePending {
			o.savePending = false
			o.saveMu.Unlock()
			continue
		}
		o.saveRunning = false
		o.saveMu.Unlock()
		return
	}
}

// WaitForSaves blocks until the background save worker drains or the
// context expires. Used when a caller needs the remote state settled, for
// instance before process shutdown.
func (o *Orchestrator) WaitForSaves(ctx context.Context) error {
	for {
		o.saveMu.Lock()
		done := o.saveDone
		running := o.saveRunning
		o.saveMu.Unlock()

		if !running || done == nil {
			return nil
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (o *Orchestrator) autoBackupDue() bool {
	if !o.backup.IsConnected() || !o.backup.IsAutoBackupEnabled() {
		return false
	}
	lastBackup, ok := o.backup.GetLastBackupDate()
	if !ok {
		return true
	}
	return o.clock().Sub(lastBackup) > autoBackupInterval
}

func (o *Orchestrator) runAutoBackup() {
	ctx, cancel := context.WithTimeout(context.Background(), backgroundOpTimeout)
	defer cancel()

	if _, err := o.backup.BackupNow(ctx, o.store.List()); err != nil {
		o.logger.Warn("weekly auto-backup failed",
			zap.String("user_id", o.userID),
			zap.Error(err))
		return
	}
	o.logger.Info("weekly auto-backup completed", zap.String("user_id", o.userID))
}

func (o *Orchestrator) notifyChanged(entryID string) {
	if o.notifier == nil {
		return
	}
	ids := []string{}
	if entryID != "" {
		ids = append(ids, entryID)
	}
	o.notifier.EntriesChanged(o.userID, ids)
}
