package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"metagen/server/internal/model"

	"github.com/gin-gonic/gin"
)

const sseHeartbeat = 15 * time.Second

func (s *Server) streamWorkspaceEvents(c *gin.Context) {
	workspaceID := c.Param("workspace_id")
	userID := userIDFromContext(c)

	fromSeq := parseLastEventSeq(c.GetHeader("Last-Event-ID"))
	if q := c.Query("from_seq"); q != "" {
		if v, err := strconv.ParseInt(q, 10, 64); err == nil && v > 0 {
			fromSeq = v
		}
	}

	// Subscribe before reading the backlog; events in both are skipped by seq.
	sub, unsubscribe, err := s.workspaces.Subscribe(c.Request.Context(), userID, workspaceID, 128)
	if err != nil {
		s.writeWorkspaceError(c, err)
		return
	}
	defer unsubscribe()
	backlog, err := s.workspaces.ListEventsFrom(c.Request.Context(), userID, workspaceID, fromSeq)
	if err != nil {
		s.writeWorkspaceError(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		writeError(c, http.StatusInternalServerError, "SSE_UNSUPPORTED", "Streaming unsupported", false, nil)
		return
	}

	lastSeq := fromSeq
	for _, evt := range backlog {
		writeSSE(c, evt)
		lastSeq = evt.Seq
	}
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case evt, ok := <-sub:
			if !ok {
				return
			}
			if evt.Seq <= lastSeq {
				continue
			}
			writeSSE(c, evt)
			lastSeq = evt.Seq
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprintf(c.Writer, ": ping %d\n\n", time.Now().Unix())
			flusher.Flush()
		}
	}
}

func writeSSE(c *gin.Context, evt model.WorkspaceEvent) {
	payload, _ := json.Marshal(evt)
	fmt.Fprintf(c.Writer, "id: %d\n", evt.Seq)
	fmt.Fprintf(c.Writer, "event: %s\n", evt.Type)
	fmt.Fprintf(c.Writer, "data: %s\n\n", string(payload))
}

func parseLastEventSeq(v string) int64 {
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
