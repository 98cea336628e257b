package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/momiji-lab/kokoro/backend/internal/entries"
	"go.uber.org/zap"
)

type fakePersistence struct {
	mu        sync.Mutex
	loadErr   error
	loaded    []entries.Entry
	saveErr   error
	saveGate  chan struct{}
	saveCalls int
	lastSaved []entries.Entry
	saved     chan struct{}
}

func newFakePersistence() *fakePersistence {
	return &fakePersistence{saved: make(chan struct{}, 16)}
}

func (f *fakePersistence) Load(context.Context, string) ([]entries.Entry, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.loaded, nil
}

func (f *fakePersistence) Save(_ context.Context, _ string, collection []entries.Entry) error {
	f.mu.Lock()
	gate := f.saveGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	f.saveCalls++
	f.lastSaved = collection
	err := f.saveErr
	f.mu.Unlock()
	select {
	case f.saved <- struct{}{}:
	default:
	}
	return err
}

func (f *fakePersistence) savedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saveCalls
}

type fakeBackup struct {
	mu          sync.Mutex
	connected   bool
	autoEnabled bool
	lastBackup  time.Time
	hasBackup   bool
	backupErr   error
	backupCalls int
	backupDone  chan struct{}
	candidates  []entries.Entry
	importErr   error
}

func newFakeBackup() *fakeBackup {
	return &fakeBackup{backupDone: make(chan struct{}, 16)}
}

func (f *fakeBackup) IsConnected() bool { return f.connected }

func (f *fakeBackup) IsAutoBackupEnabled() bool { return f.autoEnabled }

func (f *fakeBackup) GetLastBackupDate() (time.Time, bool) {
	return f.lastBackup, f.hasBackup
}

func (f *fakeBackup) BackupNow(context.Context, []entries.Entry) (time.Time, error) {
	f.mu.Lock()
	f.backupCalls++
	err := f.backupErr
	f.mu.Unlock()
	select {
	case f.backupDone <- struct{}{}:
	default:
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Now(), nil
}

func (f *fakeBackup) ImportFromBackup(context.Context, string) ([]entries.Entry, error) {
	if f.importErr != nil {
		return nil, f.importErr
	}
	return f.candidates, nil
}

func (f *fakeBackup) backupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.backupCalls
}

func newTestOrchestrator(testContext *testing.T, persistence *fakePersistence, backup *fakeBackup, clock func() time.Time) *Orchestrator {
	testContext.Helper()
	orchestrator, err := New(Config{
		UserID:      "user-1",
		Store:       entries.NewStore(),
		Persistence: persistence,
		Backup:      backup,
		Clock:       clock,
		Logger:      zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build orchestrator: %v", err)
	}
	return orchestrator
}

func testEntry(id, date string) entries.Entry {
	parsed, err := time.Parse(time.RFC3339, date)
	if err != nil {
		panic(err)
	}
	return entries.Entry{ID: id, UserID: "user-1", Date: parsed, Content: "content of " + id}
}

func TestStartSeedsStoreAndReachesReady(testContext *testing.T) {
	persistence := newFakePersistence()
	persistence.loaded = []entries.Entry{
		testEntry("entry-1", "2024-01-01T00:00:00Z"),
		testEntry("entry-2", "2024-02-01T00:00:00Z"),
	}
	orchestrator := newTestOrchestrator(testContext, persistence, newFakeBackup(), time.Now)

	if orchestrator.Phase() != PhaseUninitialized {
		testContext.Fatalf("expected uninitialized phase, got %s", orchestrator.Phase())
	}
	if err := orchestrator.Start(context.Background()); err != nil {
		testContext.Fatalf("start failed: %v", err)
	}
	if orchestrator.Phase() != PhaseReady {
		testContext.Fatalf("expected ready phase, got %s", orchestrator.Phase())
	}

	listed := orchestrator.Entries()
	if len(listed) != 2 || listed[0].ID != "entry-2" {
		testContext.Fatalf("store not seeded in order: %+v", listed)
	}
}

func TestStartFailureIsTerminalForSession(testContext *testing.T) {
	persistence := newFakePersistence()
	persistence.loadErr = errors.New("remote unreachable")
	orchestrator := newTestOrchestrator(testContext, persistence, newFakeBackup(), time.Now)

	if err := orchestrator.Start(context.Background()); err == nil {
		testContext.Fatalf("expected start to fail")
	}
	if orchestrator.Phase() != PhaseErrored {
		testContext.Fatalf("expected errored phase, got %s", orchestrator.Phase())
	}
	if err := orchestrator.SaveEntry(testEntry("entry-1", "2024-01-01T00:00:00Z")); !errors.Is(err, ErrNotReady) {
		testContext.Fatalf("mutations must be rejected after a failed load, got %v", err)
	}
}

func TestSaveEntryTriggersBackgroundPersistenceSave(testContext *testing.T) {
	persistence := newFakePersistence()
	orchestrator := newTestOrchestrator(testContext, persistence, newFakeBackup(), time.Now)
	if err := orchestrator.Start(context.Background()); err != nil {
		testContext.Fatalf("start failed: %v", err)
	}

	if err := orchestrator.SaveEntry(testEntry("entry-1", "2024-01-01T00:00:00Z")); err != nil {
		testContext.Fatalf("save entry failed: %v", err)
	}

	select {
	case <-persistence.saved:
	case <-time.After(2 * time.Second):
		testContext.Fatalf("expected a background save")
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := orchestrator.WaitForSaves(waitCtx); err != nil {
		testContext.Fatalf("waiting for saves: %v", err)
	}

	persistence.mu.Lock()
	saved := persistence.lastSaved
	persistence.mu.Unlock()
	if len(saved) != 1 || saved[0].ID != "entry-1" {
		testContext.Fatalf("unexpected saved collection: %+v", saved)
	}
}

func TestMutationBurstCollapsesToTrailingSave(testContext *testing.T) {
	persistence := newFakePersistence()
	orchestrator := newTestOrchestrator(testContext, persistence, newFakeBackup(), time.Now)
	if err := orchestrator.Start(context.Background()); err != nil {
		testContext.Fatalf("start failed: %v", err)
	}

	for index := 0; index < 20; index++ {
		entry := testEntry("entry-1", "2024-01-01T00:00:00Z")
		if err := orchestrator.SaveEntry(entry); err != nil {
			testContext.Fatalf("save entry failed: %v", err)
		}
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := orchestrator.WaitForSaves(waitCtx); err != nil {
		testContext.Fatalf("waiting for saves: %v", err)
	}

	if count := persistence.savedCount(); count > 20 {
		testContext.Fatalf("expected bursts to collapse, got %d saves", count)
	}
	persistence.mu.Lock()
	saved := persistence.lastSaved
	persistence.mu.Unlock()
	if len(saved) != 1 {
		testContext.Fatalf("trailing save should carry the final collection, got %d entries", len(saved))
	}
}

func TestBackgroundSaveFailureIsSwallowed(testContext *testing.T) {
	persistence := newFakePersistence()
	persistence.saveErr = errors.New("remote write rejected")
	orchestrator := newTestOrchestrator(testContext, persistence, newFakeBackup(), time.Now)
	if err := orchestrator.Start(context.Background()); err != nil {
		testContext.Fatalf("start failed: %v", err)
	}

	if err := orchestrator.SaveEntry(testEntry("entry-1", "2024-01-01T00:00:00Z")); err != nil {
		testContext.Fatalf("mutation must not surface background save failures, got %v", err)
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := orchestrator.WaitForSaves(waitCtx); err != nil {
		testContext.Fatalf("waiting for saves: %v", err)
	}

	if len(orchestrator.Entries()) != 1 {
		testContext.Fatalf("local state must stay intact after a failed save")
	}
}

func TestAutoBackupTriggersWhenStale(testContext *testing.T) {
	now := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	backup := newFakeBackup()
	backup.connected = true
	backup.autoEnabled = true
	backup.hasBackup = true
	backup.lastBackup = now.Add(-8 * 24 * time.Hour)

	orchestrator := newTestOrchestrator(testContext, newFakePersistence(), backup, func() time.Time { return now })
	if err := orchestrator.Start(context.Background()); err != nil {
		testContext.Fatalf("start failed: %v", err)
	}

	select {
	case <-backup.backupDone:
	case <-time.After(2 * time.Second):
		testContext.Fatalf("expected the stale backup to trigger")
	}

	select {
	case <-backup.backupDone:
		testContext.Fatalf("expected exactly one auto-backup call")
	case <-time.After(100 * time.Millisecond):
	}
	if backup.backupCount() != 1 {
		testContext.Fatalf("expected exactly one backup call, got %d", backup.backupCount())
	}
}

func TestAutoBackupSkippedWhenRecent(testContext *testing.T) {
	now := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	backup := newFakeBackup()
	backup.connected = true
	backup.autoEnabled = true
	backup.hasBackup = true
	backup.lastBackup = now.Add(-2 * 24 * time.Hour)

	orchestrator := newTestOrchestrator(testContext, newFakePersistence(), backup, func() time.Time { return now })
	if err := orchestrator.Start(context.Background()); err != nil {
		testContext.Fatalf("start failed: %v", err)
	}

	select {
	case <-backup.backupDone:
		testContext.Fatalf("recent backup must not trigger another")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAutoBackupTriggersWhenNeverRun(testContext *testing.T) {
	backup := newFakeBackup()
	backup.connected = true
	backup.autoEnabled = true

	orchestrator := newTestOrchestrator(testContext, newFakePersistence(), backup, time.Now)
	if err := orchestrator.Start(context.Background()); err != nil {
		testContext.Fatalf("start failed: %v", err)
	}

	select {
	case <-backup.backupDone:
	case <-time.After(2 * time.Second):
		testContext.Fatalf("a connected profile with no backup history should back up on start")
	}
}

func TestAutoBackupSkippedWhenDisconnected(testContext *testing.T) {
	backup := newFakeBackup()
	backup.autoEnabled = true

	orchestrator := newTestOrchestrator(testContext, newFakePersistence(), backup, time.Now)
	if err := orchestrator.Start(context.Background()); err != nil {
		testContext.Fatalf("start failed: %v", err)
	}

	select {
	case <-backup.backupDone:
		testContext.Fatalf("disconnected profile must not back up")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestImportMergesCandidatesAndReportsCount(testContext *testing.T) {
	persistence := newFakePersistence()
	persistence.loaded = []entries.Entry{testEntry("entry-1", "2024-01-10T00:00:00Z")}

	backup := newFakeBackup()
	backup.connected = true
	backup.candidates = []entries.Entry{
		testEntry("entry-1", "2024-01-01T00:00:00Z"),
		testEntry("entry-2", "2024-01-05T00:00:00Z"),
	}

	orchestrator := newTestOrchestrator(testContext, persistence, backup, time.Now)
	if err := orchestrator.Start(context.Background()); err != nil {
		testContext.Fatalf("start failed: %v", err)
	}

	inserted, err := orchestrator.ImportFromBackup(context.Background())
	if err != nil {
		testContext.Fatalf("import failed: %v", err)
	}
	if inserted != 1 {
		testContext.Fatalf("expected one newly inserted entry, got %d", inserted)
	}

	existing, _ := orchestrator.Entry("entry-1")
	if existing.Content != "content of entry-1" || !existing.Date.Equal(time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)) {
		testContext.Fatalf("import must not overwrite the local entry: %+v", existing)
	}
}

func TestManualBackupSurfacesFailure(testContext *testing.T) {
	backup := newFakeBackup()
	backup.connected = true
	backup.backupErr = errors.New("range update rejected")

	orchestrator := newTestOrchestrator(testContext, newFakePersistence(), backup, time.Now)
	if err := orchestrator.Start(context.Background()); err != nil {
		testContext.Fatalf("start failed: %v", err)
	}

	if _, err := orchestrator.ManualBackup(context.Background()); err == nil {
		testContext.Fatalf("manual backup failures must surface to the caller")
	}
}

func TestSetFeedbackReplacesRecordWholesale(testContext *testing.T) {
	persistence := newFakePersistence()
	persistence.loaded = []entries.Entry{testEntry("entry-1", "2024-01-01T00:00:00Z")}
	orchestrator := newTestOrchestrator(testContext, persistence, newFakeBackup(), time.Now)
	if err := orchestrator.Start(context.Background()); err != nil {
		testContext.Fatalf("start failed: %v", err)
	}

	first := entries.AIFeedback{ID: "fb-1", Content: "first", Tone: entries.ToneEmpathetic}
	second := entries.AIFeedback{ID: "fb-2", Content: "second", Tone: entries.ToneEncouraging}
	if err := orchestrator.SetFeedback("entry-1", first); err != nil {
		testContext.Fatalf("set feedback failed: %v", err)
	}
	if err := orchestrator.SetFeedback("entry-1", second); err != nil {
		testContext.Fatalf("second set feedback failed: %v", err)
	}

	entry, _ := orchestrator.Entry("entry-1")
	if entry.Feedback == nil || entry.Feedback.ID != "fb-2" {
		testContext.Fatalf("regeneration must replace feedback wholesale: %+v", entry.Feedback)
	}
}

func TestSaveEntryRejectsForeignUser(testContext *testing.T) {
	orchestrator := newTestOrchestrator(testContext, newFakePersistence(), newFakeBackup(), time.Now)
	if err := orchestrator.Start(context.Background()); err != nil {
		testContext.Fatalf("start failed: %v", err)
	}

	foreign := testEntry("entry-1", "2024-01-01T00:00:00Z")
	foreign.UserID = "user-2"
	if err := orchestrator.SaveEntry(foreign); !errors.Is(err, entries.ErrInvalidUserID) {
		testContext.Fatalf("expected foreign entry rejection, got %v", err)
	}
}
