package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"metagen/server/internal/model"
	"metagen/server/internal/storage"
	"metagen/server/internal/store"
	"metagen/server/internal/upload"

	"github.com/gin-gonic/gin"
)

func (s *Server) upload(c *gin.Context) {
	if s.uploads == nil {
		writeError(c, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "File storage is not configured", true, nil)
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		writeUploadError(c, upload.ErrNoFile)
		return
	}
	f, err := fh.Open()
	if err != nil {
		writeUploadError(c, &upload.Error{Kind: upload.KindInvalid, Message: "Failed to read upload", Err: err})
		return
	}
	defer f.Close()

	_, resp, err := s.uploads.Upload(c.Request.Context(), userIDFromContext(c), upload.File{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Body:        f,
	})
	if err != nil {
		var ue *upload.Error
		if !errors.As(err, &ue) {
			s.log.Error("upload_failed", "trace_id", traceIDFromContext(c), "error", err)
			writeError(c, http.StatusInternalServerError, "UPLOAD_FAILED", "Failed to upload file", true, nil)
			return
		}
		if ue.Kind == upload.KindUnavailable {
			s.log.Error("upload_storage_unavailable", "trace_id", traceIDFromContext(c), "error", err)
		}
		writeUploadError(c, ue)
		return
	}
	writeData(c, http.StatusCreated, resp)
}

func writeUploadError(c *gin.Context, ue *upload.Error) {
	code := "INVALID_FILE"
	switch ue.Kind {
	case upload.KindNoFile:
		code = "NO_FILE"
	case upload.KindTooLarge:
		code = "FILE_TOO_LARGE"
	case upload.KindUnavailable:
		code = "STORAGE_UNAVAILABLE"
	}
	writeError(c, ue.Status(), code, ue.Message, ue.Kind == upload.KindUnavailable, nil)
}

func (s *Server) listAssets(c *gin.Context) {
	userID := userIDFromContext(c)
	kind := model.AssetKind(c.Query("kind"))
	page := parseIntDefault(c.Query("page"), 1)
	pageSize := parseIntDefault(c.Query("page_size"), 20)
	items, total, err := s.store.ListAssets(c.Request.Context(), userID, kind, page, pageSize)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list assets", true, nil)
		return
	}
	writeData(c, http.StatusOK, gin.H{
		"items":     items,
		"page":      page,
		"page_size": pageSize,
		"total":     total,
	})
}

func (s *Server) getAsset(c *gin.Context) {
	assetID := c.Param("asset_id")
	userID := userIDFromContext(c)
	asset, err := s.store.GetAsset(c.Request.Context(), assetID)
	if err != nil {
		writeError(c, http.StatusNotFound, "ASSET_NOT_FOUND", "Asset not found", false, nil)
		return
	}
	if asset.UserID != userID {
		writeError(c, http.StatusForbidden, "FORBIDDEN", "No access to asset", false, nil)
		return
	}
	writeData(c, http.StatusOK, asset)
}

// serveFile streams an object from the in-memory backend.
func (s *Server) serveFile(c *gin.Context) {
	key, err := storage.CleanKey(strings.TrimPrefix(c.Param("key"), "/"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_KEY", "Invalid file key", false, nil)
		return
	}
	rc, err := s.files.Open(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(c, http.StatusNotFound, "FILE_NOT_FOUND", "File not found", false, nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read file", true, nil)
		return
	}
	defer rc.Close()
	ct, ok := s.files.ContentType(key)
	if !ok || ct == "" {
		ct = "application/octet-stream"
	}
	c.Header("Cache-Control", "private, max-age=3600")
	c.DataFromReader(http.StatusOK, -1, ct, rc, nil)
}

func parseIntDefault(v string, fallback int) int {
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound) || errors.Is(err, storage.ErrNotFound)
}
