package server

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/momiji-lab/kokoro/backend/internal/backup"
)

func TestSyncStatusBeforeConnect(t *testing.T) {
	fixture := newRouterFixture(t)
	token := fixture.tokenFor(t, "user-status")

	recorder := fixture.do(t, http.MethodGet, "/sync/status", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d", recorder.Code)
	}
	status := decodeResponse[syncStatusPayload](t, recorder)
	if status.Connected {
		t.Fatalf("expected disconnected status before connect")
	}
	if status.SpreadsheetURL != "" {
		t.Fatalf("expected no spreadsheet url before connect, got %q", status.SpreadsheetURL)
	}
}

func TestSyncConnectCreatesSpreadsheet(t *testing.T) {
	fixture := newRouterFixture(t)
	token := fixture.tokenFor(t, "user-connect")

	recorder := fixture.do(t, http.MethodPost, "/sync/connect", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected connect status: got %d, body %s", recorder.Code, recorder.Body.String())
	}
	status := decodeResponse[syncStatusPayload](t, recorder)
	if !status.Connected {
		t.Fatalf("expected connected status after connect")
	}
	if !status.AutoBackup {
		t.Fatalf("expected auto-backup enabled by default after first connect")
	}
	if !strings.HasPrefix(status.SpreadsheetURL, "https://docs.google.com/spreadsheets/d/") {
		t.Fatalf("unexpected spreadsheet url: %q", status.SpreadsheetURL)
	}
}

func TestSyncConnectMapsDeniedAuthorization(t *testing.T) {
	fixture := newRouterFixture(t)
	token := fixture.tokenFor(t, "user-denied")
	fixture.tokens.authorizeErr = backup.ErrAuthDenied

	recorder := fixture.do(t, http.MethodPost, "/sync/connect", token, nil)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("unexpected status for denied authorization: got %d", recorder.Code)
	}
	response := decodeResponse[map[string]string](t, recorder)
	if response["error"] != "backup_auth_denied" {
		t.Fatalf("unexpected error code: %q", response["error"])
	}
}

func TestSyncBackupRequiresConnection(t *testing.T) {
	fixture := newRouterFixture(t)
	token := fixture.tokenFor(t, "user-unconnected")

	fixture.do(t, http.MethodPut, "/entries/entry-1", token, entryPayload{
		Date:    time.Now().UTC().Format(time.RFC3339),
		Content: "An entry with nowhere to go.",
	})

	recorder := fixture.do(t, http.MethodPost, "/sync/backup", token, nil)
	if recorder.Code != http.StatusConflict {
		t.Fatalf("unexpected status without connection: got %d", recorder.Code)
	}
}

func TestSyncBackupThenImportRestoresEntries(t *testing.T) {
	fixture := newRouterFixture(t)
	token := fixture.tokenFor(t, "user-restore")

	if recorder := fixture.do(t, http.MethodPost, "/sync/connect", token, nil); recorder.Code != http.StatusOK {
		t.Fatalf("connect failed: %d %s", recorder.Code, recorder.Body.String())
	}
	fixture.do(t, http.MethodPut, "/entries/entry-1", token, entryPayload{
		Date:    time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC).Format(time.RFC3339),
		Content: "Worth keeping twice.",
		Mood:    "happy",
	})

	backedUp := fixture.do(t, http.MethodPost, "/sync/backup", token, nil)
	if backedUp.Code != http.StatusOK {
		t.Fatalf("unexpected backup status: got %d, body %s", backedUp.Code, backedUp.Body.String())
	}
	completion := decodeResponse[map[string]string](t, backedUp)
	if completion["completed_at"] == "" {
		t.Fatalf("expected a completion timestamp")
	}

	if recorder := fixture.do(t, http.MethodDelete, "/entries/entry-1", token, nil); recorder.Code != http.StatusNoContent {
		t.Fatalf("delete failed: %d", recorder.Code)
	}

	imported := fixture.do(t, http.MethodPost, "/sync/import", token, nil)
	if imported.Code != http.StatusOK {
		t.Fatalf("unexpected import status: got %d, body %s", imported.Code, imported.Body.String())
	}
	result := decodeResponse[map[string]int](t, imported)
	if result["imported"] != 1 {
		t.Fatalf("expected one imported entry, got %d", result["imported"])
	}

	listed := fixture.do(t, http.MethodGet, "/entries", token, nil)
	collection := decodeResponse[entriesResponsePayload](t, listed)
	if len(collection.Entries) != 1 || collection.Entries[0].Content != "Worth keeping twice." {
		t.Fatalf("unexpected restored entries: %+v", collection.Entries)
	}
}

func TestSyncImportNeverOverwritesLocalEdits(t *testing.T) {
	fixture := newRouterFixture(t)
	token := fixture.tokenFor(t, "user-merge")

	fixture.do(t, http.MethodPost, "/sync/connect", token, nil)
	original := entryPayload{
		Date:    time.Date(2026, 8, 11, 0, 0, 0, 0, time.UTC).Format(time.RFC3339),
		Content: "Original wording.",
	}
	fixture.do(t, http.MethodPut, "/entries/entry-1", token, original)
	fixture.do(t, http.MethodPost, "/sync/backup", token, nil)

	original.Content = "Edited after backup."
	fixture.do(t, http.MethodPut, "/entries/entry-1", token, original)

	imported := fixture.do(t, http.MethodPost, "/sync/import", token, nil)
	result := decodeResponse[map[string]int](t, imported)
	if result["imported"] != 0 {
		t.Fatalf("expected no imported entries over a live local copy, got %d", result["imported"])
	}

	listed := fixture.do(t, http.MethodGet, "/entries", token, nil)
	collection := decodeResponse[entriesResponsePayload](t, listed)
	if len(collection.Entries) != 1 || collection.Entries[0].Content != "Edited after backup." {
		t.Fatalf("local edit was not preserved: %+v", collection.Entries)
	}
}

func TestSyncAutoBackupToggle(t *testing.T) {
	fixture := newRouterFixture(t)
	token := fixture.tokenFor(t, "user-toggle")

	fixture.do(t, http.MethodPost, "/sync/connect", token, nil)

	disabled := false
	recorder := fixture.do(t, http.MethodPut, "/sync/auto", token, autoBackupPayload{Enabled: &disabled})
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected toggle status: got %d", recorder.Code)
	}
	status := decodeResponse[syncStatusPayload](t, recorder)
	if status.AutoBackup {
		t.Fatalf("expected auto-backup disabled after toggle")
	}

	missing := fixture.do(t, http.MethodPut, "/sync/auto", token, map[string]string{})
	if missing.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status for missing flag: got %d", missing.Code)
	}
}

func TestSyncDisconnectKeepsLastBackupTime(t *testing.T) {
	fixture := newRouterFixture(t)
	token := fixture.tokenFor(t, "user-disconnect")

	fixture.do(t, http.MethodPost, "/sync/connect", token, nil)
	fixture.do(t, http.MethodPut, "/entries/entry-1", token, entryPayload{
		Date:    time.Now().UTC().Format(time.RFC3339),
		Content: "Backed up before leaving.",
	})
	fixture.do(t, http.MethodPost, "/sync/backup", token, nil)

	recorder := fixture.do(t, http.MethodPost, "/sync/disconnect", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected disconnect status: got %d", recorder.Code)
	}
	status := decodeResponse[syncStatusPayload](t, recorder)
	if status.Connected {
		t.Fatalf("expected disconnected status")
	}
	if status.SpreadsheetURL != "" {
		t.Fatalf("expected spreadsheet url cleared, got %q", status.SpreadsheetURL)
	}
	if status.LastBackupAt == "" {
		t.Fatalf("expected last backup time to survive disconnect")
	}
}
