package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/momiji-lab/kokoro/backend/internal/backup"
	"github.com/momiji-lab/kokoro/backend/internal/entries"
	"github.com/momiji-lab/kokoro/backend/internal/export"
	"github.com/momiji-lab/kokoro/backend/internal/gratitude"
	"github.com/momiji-lab/kokoro/backend/internal/stats"
	"github.com/momiji-lab/kokoro/backend/internal/syncer"
	"go.uber.org/zap"
)

type entryPayload struct {
	Date     string   `json:"date"`
	Content  string   `json:"content"`
	Tags     []string `json:"tags"`
	Mood     string   `json:"mood"`
	Location string   `json:"location"`
	Photos   []string `json:"photos"`
}

type entriesResponsePayload struct {
	Entries []entries.Entry `json:"entries"`
}

func (h *httpHandler) handleListEntries(c *gin.Context) {
	session := h.session(c)
	if session == nil {
		return
	}
	c.JSON(http.StatusOK, entriesResponsePayload{Entries: session.Entries()})
}

func (h *httpHandler) handleSaveEntry(c *gin.Context) {
	session := h.session(c)
	if session == nil {
		return
	}

	var request entryPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	date, err := time.Parse(time.RFC3339, request.Date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_date"})
		return
	}
	mood, err := entries.ParseMood(request.Mood)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_mood"})
		return
	}

	entry := entries.Entry{
		ID:       c.Param("id"),
		UserID:   session.UserID(),
		Date:     date,
		Content:  request.Content,
		Tags:     request.Tags,
		Mood:     mood,
		Location: strings.TrimSpace(request.Location),
		Photos:   request.Photos,
	}
	// Replacing an entry keeps its feedback; regeneration goes through
	// the feedback endpoint.
	if existing, ok := session.Entry(entry.ID); ok {
		entry.Feedback = existing.Feedback
	}

	if err := session.SaveEntry(entry); err != nil {
		h.writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *httpHandler) handleDeleteEntry(c *gin.Context) {
	session := h.session(c)
	if session == nil {
		return
	}

	if err := session.DeleteEntry(c.Param("id")); err != nil {
		h.writeSessionError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleGenerateFeedback(c *gin.Context) {
	if h.feedback == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "feedback_disabled"})
		return
	}
	session := h.session(c)
	if session == nil {
		return
	}

	entry, ok := session.Entry(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_entry"})
		return
	}

	record, err := h.feedback.Generate(c.Request.Context(), entry.Content)
	if err != nil {
		h.logger.Warn("feedback generation failed", zap.String("entry_id", entry.ID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "feedback_failed"})
		return
	}
	if err := session.SetFeedback(entry.ID, record); err != nil {
		h.writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *httpHandler) handleExport(c *gin.Context) {
	session := h.session(c)
	if session == nil {
		return
	}

	window, err := export.ParseRange(c.Query("start"), c.Query("end"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_range"})
		return
	}
	result, err := export.Build(session.Entries(), window, h.clock())
	if errors.Is(err, export.ErrEmptyInput) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no_entries_in_range"})
		return
	}
	if err != nil {
		h.logger.Error("export failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export_failed"})
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
	c.Data(http.StatusOK, "application/json", result.Payload)
}

type gratitudePayload struct {
	Author  string `json:"author"`
	Content string `json:"content"`
}

func (h *httpHandler) handleListGratitude(c *gin.Context) {
	if h.gratitude == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "gratitude_disabled"})
		return
	}
	userID := c.GetString(userIDContextKey)
	notes, err := h.gratitude.List(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("gratitude list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "gratitude_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notes": notes})
}

func (h *httpHandler) handleAddGratitude(c *gin.Context) {
	if h.gratitude == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "gratitude_disabled"})
		return
	}
	userID := c.GetString(userIDContextKey)

	var request gratitudePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	author, err := gratitude.ParseAuthor(request.Author)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_author"})
		return
	}

	note, err := h.gratitude.Add(c.Request.Context(), userID, author, request.Content)
	switch {
	case errors.Is(err, gratitude.ErrEmptyContent), errors.Is(err, gratitude.ErrContentTooLong):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_content"})
		return
	case err != nil:
		h.logger.Error("gratitude add failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "gratitude_failed"})
		return
	}
	c.JSON(http.StatusCreated, note)
}

func (h *httpHandler) handleStats(c *gin.Context) {
	if h.stats == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "stats_disabled"})
		return
	}
	session := h.session(c)
	if session == nil {
		return
	}
	c.JSON(http.StatusOK, h.stats.Compute(session.Entries()))
}

func (h *httpHandler) handleStatsSummary(c *gin.Context) {
	if h.stats == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "stats_disabled"})
		return
	}
	session := h.session(c)
	if session == nil {
		return
	}

	summary, err := h.stats.WeeklySummary(c.Request.Context(), session.Entries())
	if errors.Is(err, stats.ErrSummaryUnavailable) {
		c.JSON(http.StatusNotFound, gin.H{"error": "summary_unavailable"})
		return
	}
	if err != nil {
		h.logger.Warn("weekly summary failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "summary_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

type syncStatusPayload struct {
	Connected      bool   `json:"connected"`
	AutoBackup     bool   `json:"auto_backup"`
	LastBackupAt   string `json:"last_backup_at,omitempty"`
	SpreadsheetURL string `json:"spreadsheet_url,omitempty"`
}

func (h *httpHandler) syncStatus(adapter *backup.Adapter) syncStatusPayload {
	status := syncStatusPayload{
		Connected:  adapter.IsConnected(),
		AutoBackup: adapter.IsAutoBackupEnabled(),
	}
	if lastBackup, ok := adapter.GetLastBackupDate(); ok {
		status.LastBackupAt = lastBackup.UTC().Format(time.RFC3339)
	}
	if url, ok := adapter.SpreadsheetURL(); ok {
		status.SpreadsheetURL = url
	}
	return status
}

func (h *httpHandler) handleSyncStatus(c *gin.Context) {
	adapter := h.backupAdapter(c)
	if adapter == nil {
		return
	}
	c.JSON(http.StatusOK, h.syncStatus(adapter))
}

func (h *httpHandler) handleSyncConnect(c *gin.Context) {
	adapter := h.backupAdapter(c)
	if adapter == nil {
		return
	}

	if err := adapter.Connect(c.Request.Context()); err != nil {
		h.writeBackupError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.syncStatus(adapter))
}

func (h *httpHandler) handleSyncDisconnect(c *gin.Context) {
	adapter := h.backupAdapter(c)
	if adapter == nil {
		return
	}

	if err := adapter.Disconnect(c.Request.Context()); err != nil {
		h.writeBackupError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.syncStatus(adapter))
}

func (h *httpHandler) handleSyncBackup(c *gin.Context) {
	session := h.session(c)
	if session == nil {
		return
	}

	completedAt, err := session.ManualBackup(c.Request.Context())
	if err != nil {
		h.writeBackupError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"completed_at": completedAt.UTC().Format(time.RFC3339)})
}

func (h *httpHandler) handleSyncImport(c *gin.Context) {
	session := h.session(c)
	if session == nil {
		return
	}

	inserted, err := session.ImportFromBackup(c.Request.Context())
	if err != nil {
		h.writeBackupError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": inserted})
}

type autoBackupPayload struct {
	Enabled *bool `json:"enabled"`
}

func (h *httpHandler) handleSyncAuto(c *gin.Context) {
	adapter := h.backupAdapter(c)
	if adapter == nil {
		return
	}

	var request autoBackupPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Enabled == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := adapter.SetAutoBackupEnabled(c.Request.Context(), *request.Enabled); err != nil {
		h.writeBackupError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.syncStatus(adapter))
}

func (h *httpHandler) writeSessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, syncer.ErrNotReady):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session_not_ready"})
	case errors.Is(err, entries.ErrInvalidEntryID),
		errors.Is(err, entries.ErrInvalidUserID),
		errors.Is(err, entries.ErrInvalidMood),
		errors.Is(err, entries.ErrInvalidTone):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_entry"})
	default:
		h.logger.Error("entry mutation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "entry_failed"})
	}
}

func (h *httpHandler) writeBackupError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, backup.ErrNotConnected):
		c.JSON(http.StatusConflict, gin.H{"error": "not_connected"})
	case errors.Is(err, backup.ErrAuthDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "backup_auth_denied"})
	case errors.Is(err, backup.ErrProviderUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "backup_unavailable"})
	case errors.Is(err, backup.ErrSyncFailed):
		c.JSON(http.StatusBadGateway, gin.H{"error": "backup_failed"})
	case errors.Is(err, syncer.ErrNotReady):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session_not_ready"})
	default:
		h.logger.Error("backup operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "backup_failed"})
	}
}
