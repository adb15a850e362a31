package api

import (
	"net/http"

	"metagen/server/internal/analytics"

	"github.com/gin-gonic/gin"
)

type synchRequest struct {
	ClientID string `json:"clientId"`
	UserID   string `json:"userId"`
	Events   []struct {
		Name   string         `json:"name"`
		Params map[string]any `json:"params"`
	} `json:"events"`
}

// synch relays client analytics. Forwarding problems never fail the caller.
func (s *Server) synch(c *gin.Context) {
	if !requireJSON(c) {
		return
	}
	var req synchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid analytics payload", false, nil)
		return
	}
	if req.ClientID == "" || len(req.Events) == 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "clientId and events are required", false, nil)
		return
	}
	if !s.analytics.IsConfigured() {
		writeData(c, http.StatusOK, gin.H{"success": true, "skipped": true})
		return
	}

	payload := analytics.Payload{ClientID: req.ClientID, UserID: req.UserID}
	for _, e := range req.Events {
		if e.Name == "" {
			continue
		}
		payload.Events = append(payload.Events, analytics.Event{Name: e.Name, Params: e.Params})
	}
	if err := s.analytics.Forward(c.Request.Context(), payload); err != nil {
		s.log.Warn("analytics_forward_failed", "trace_id", traceIDFromContext(c), "events", len(payload.Events), "error", err)
		writeData(c, http.StatusOK, gin.H{"success": false})
		return
	}
	writeData(c, http.StatusOK, gin.H{"success": true})
}
