package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const heartbeatInterval = 25 * time.Second

type streamEventPayload struct {
	EntryIDs  []string `json:"entryIds"`
	Timestamp string   `json:"timestamp"`
}

// handleEntryStream serves the per-user change feed over server-sent
// events. The connection stays open until the client goes away.
func (h *httpHandler) handleEntryStream(c *gin.Context) {
	if h.realtime == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream_disabled"})
		return
	}
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming_unsupported"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	stream, cancel := h.realtime.Subscribe(c.Request.Context(), userID)
	defer cancel()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := c.Writer.WriteString("event: " + realtimeEventHeartbeat + "\ndata: {}\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case message, open := <-stream:
			if !open {
				return
			}
			payload, err := json.Marshal(streamEventPayload{
				EntryIDs:  message.EntryIDs,
				Timestamp: message.Timestamp.UTC().Format(time.RFC3339),
			})
			if err != nil {
				continue
			}
			if _, err := c.Writer.WriteString("event: " + message.EventType + "\ndata: " + string(payload) + "\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
