package api

import (
	"errors"
	"net/http"

	"metagen/server/internal/generation"
	"metagen/server/internal/store"
	"metagen/server/internal/workspace"

	"github.com/gin-gonic/gin"
)

func (s *Server) createWorkspace(c *gin.Context) {
	if !requireJSON(c) {
		return
	}
	var req workspace.CreateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeValidation(c, bindIssues(err)...)
			return
		}
	}
	view, err := s.workspaces.Create(c.Request.Context(), userIDFromContext(c), req)
	if err != nil {
		s.writeWorkspaceError(c, err)
		return
	}
	writeData(c, http.StatusCreated, view)
}

func (s *Server) getWorkspace(c *gin.Context) {
	view, err := s.workspaces.Get(c.Request.Context(), userIDFromContext(c), c.Param("workspace_id"))
	if err != nil {
		s.writeWorkspaceError(c, err)
		return
	}
	writeData(c, http.StatusOK, view)
}

func (s *Server) patchWorkspace(c *gin.Context) {
	if !requireJSON(c) {
		return
	}
	var patch workspace.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		writeValidation(c, bindIssues(err)...)
		return
	}
	view, err := s.workspaces.Update(c.Request.Context(), userIDFromContext(c), c.Param("workspace_id"), patch)
	if err != nil {
		s.writeWorkspaceError(c, err)
		return
	}
	writeData(c, http.StatusOK, view)
}

func (s *Server) deleteWorkspace(c *gin.Context) {
	if err := s.workspaces.Delete(c.Request.Context(), userIDFromContext(c), c.Param("workspace_id")); err != nil {
		s.writeWorkspaceError(c, err)
		return
	}
	writeData(c, http.StatusOK, gin.H{"ok": true})
}

type attachAssetRequest struct {
	AssetID string `json:"assetId" binding:"required"`
}

func (s *Server) attachAsset(c *gin.Context) {
	if !requireJSON(c) {
		return
	}
	var req attachAssetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeValidation(c, bindIssues(err)...)
		return
	}
	view, err := s.workspaces.AttachAsset(c.Request.Context(), userIDFromContext(c), c.Param("workspace_id"), req.AssetID)
	if err != nil {
		s.writeWorkspaceError(c, err)
		return
	}
	writeData(c, http.StatusOK, view)
}

func (s *Server) detachAsset(c *gin.Context) {
	view, err := s.workspaces.DetachAsset(c.Request.Context(), userIDFromContext(c), c.Param("workspace_id"), c.Param("asset_id"))
	if err != nil {
		s.writeWorkspaceError(c, err)
		return
	}
	writeData(c, http.StatusOK, view)
}

func (s *Server) generateWorkspace(c *gin.Context) {
	view, err := s.workspaces.Generate(c.Request.Context(), userIDFromContext(c), c.Param("workspace_id"))
	if err != nil {
		s.writeWorkspaceError(c, err)
		return
	}
	writeData(c, http.StatusAccepted, view)
}

func (s *Server) retrySection(c *gin.Context) {
	section, err := generation.ParseSection(c.Param("section"))
	if err != nil {
		s.writeWorkspaceError(c, err)
		return
	}
	view, err := s.workspaces.Retry(c.Request.Context(), userIDFromContext(c), c.Param("workspace_id"), section)
	if err != nil {
		s.writeWorkspaceError(c, err)
		return
	}
	writeData(c, http.StatusAccepted, view)
}

func (s *Server) regenerateWorkspace(c *gin.Context) {
	view, err := s.workspaces.Regenerate(c.Request.Context(), userIDFromContext(c), c.Param("workspace_id"))
	if err != nil {
		s.writeWorkspaceError(c, err)
		return
	}
	writeData(c, http.StatusAccepted, view)
}

type selectionRequest struct {
	VariantID string `json:"variantId" binding:"required"`
}

func (s *Server) selectVariant(c *gin.Context) {
	if !requireJSON(c) {
		return
	}
	var req selectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeValidation(c, bindIssues(err)...)
		return
	}
	view, err := s.workspaces.Select(c.Request.Context(), userIDFromContext(c), c.Param("workspace_id"), req.VariantID)
	if err != nil {
		s.writeWorkspaceError(c, err)
		return
	}
	writeData(c, http.StatusOK, view)
}

func (s *Server) dismissAlert(c *gin.Context) {
	view, err := s.workspaces.DismissAlert(c.Request.Context(), userIDFromContext(c), c.Param("workspace_id"), c.Param("scope"))
	if err != nil {
		s.writeWorkspaceError(c, err)
		return
	}
	writeData(c, http.StatusOK, view)
}

func (s *Server) resetWorkspace(c *gin.Context) {
	view, err := s.workspaces.Reset(c.Request.Context(), userIDFromContext(c), c.Param("workspace_id"))
	if err != nil {
		s.writeWorkspaceError(c, err)
		return
	}
	writeData(c, http.StatusOK, view)
}

func (s *Server) writeWorkspaceError(c *gin.Context, err error) {
	var capErr *generation.CapacityError
	if errors.As(err, &capErr) {
		writeError(c, http.StatusConflict, "LIMIT_REACHED", generation.CapacityWarning, false, map[string]any{"max": capErr.Max})
		return
	}
	if issue, ok := validationIssue(err); ok {
		writeValidation(c, issue)
		return
	}
	switch {
	case isNotFound(err):
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Workspace or asset not found", false, nil)
	case errors.Is(err, store.ErrForbidden):
		writeError(c, http.StatusForbidden, "FORBIDDEN", "No access to workspace", false, nil)
	case errors.Is(err, generation.ErrCannotGenerate):
		writeError(c, http.StatusUnprocessableEntity, "CANNOT_GENERATE", "Add a source and enable at least one section to generate", false, nil)
	case errors.Is(err, generation.ErrSectionBusy):
		writeError(c, http.StatusConflict, "SECTION_BUSY", "Generation already in progress", true, nil)
	case errors.Is(err, generation.ErrNoPreviousInput):
		writeError(c, http.StatusConflict, "NO_PREVIOUS_GENERATION", "Nothing to retry yet", false, nil)
	case errors.Is(err, generation.ErrUnknownVariant):
		writeError(c, http.StatusNotFound, "VARIANT_NOT_FOUND", "Thumbnail variant not found", false, nil)
	case errors.Is(err, generation.ErrUnknownSection):
		writeError(c, http.StatusBadRequest, "UNKNOWN_SECTION", "Section must be thumbnails, description or tags", false, nil)
	case errors.Is(err, workspace.ErrUnknownScope):
		writeError(c, http.StatusBadRequest, "UNKNOWN_SCOPE", "Unknown alert scope", false, nil)
	case errors.Is(err, workspace.ErrAssetNotAttached):
		writeError(c, http.StatusNotFound, "ASSET_NOT_ATTACHED", "Asset is not attached to this workspace", false, nil)
	case errors.Is(err, workspace.ErrClosed):
		writeError(c, http.StatusGone, "WORKSPACE_CLOSED", "Workspace was closed", false, nil)
	case errors.Is(err, workspace.ErrTooManyWorkspaces):
		writeError(c, http.StatusTooManyRequests, "USER_WORKSPACE_LIMIT", "Too many open workspaces", true, nil)
	default:
		s.log.Error("workspace_request_failed", "trace_id", traceIDFromContext(c), "path", c.Request.URL.Path, "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Workspace request failed", true, nil)
	}
}
