package api

import (
	"net/http"

	"metagen/server/internal/generation"
	"metagen/server/internal/model"
	"metagen/server/internal/upload"

	"github.com/gin-gonic/gin"
)

func (s *Server) clientBootstrap(c *gin.Context) {
	writeData(c, http.StatusOK, gin.H{
		"limits":       s.limits,
		"tones":        model.Tones,
		"source_kinds": []model.SourceKind{model.SourceVideoFrames, model.SourceImages},
		"sections":     generation.Sections,
		"upload": gin.H{
			"video_types":            upload.VideoTypes,
			"image_types":            upload.ImageTypes,
			"video_max_duration_sec": int64(s.limits.VideoMaxDuration.Seconds()),
		},
		"alerts": gin.H{
			"visible_ms": s.limits.AlertVisibleFor.Milliseconds(),
			"remove_ms":  (s.limits.AlertVisibleFor + s.limits.AlertFadeFor).Milliseconds(),
		},
		"feature_flags": gin.H{
			"sse_workspace_events": true,
			"workspaces":           s.workspaces != nil,
			"analytics":            s.analytics.IsConfigured(),
		},
		"sse": gin.H{
			"heartbeat_sec": int(sseHeartbeat.Seconds()),
			"retry_ms":      2000,
		},
	})
}
