package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"metagen/server/internal/model"
	"metagen/server/internal/provider"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

func (s *Server) generateThumbnails(c *gin.Context) {
	var req model.ThumbnailRequest
	if !s.bindGeneration(c, &req) {
		return
	}
	res, err := s.gen.GenerateThumbnails(s.ownerContext(c), req)
	if err != nil {
		s.writeGenerationError(c, err, "Failed to generate thumbnails")
		return
	}
	writeData(c, http.StatusOK, res)
}

func (s *Server) regenerateThumbnails(c *gin.Context) {
	var req model.ThumbnailRequest
	if !s.bindGeneration(c, &req) {
		return
	}
	res, err := s.gen.RegenerateThumbnails(s.ownerContext(c), req)
	if err != nil {
		s.writeGenerationError(c, err, "Failed to regenerate thumbnails")
		return
	}
	writeData(c, http.StatusOK, res)
}

func (s *Server) generateDescription(c *gin.Context) {
	var req model.DescriptionRequest
	if !s.bindGeneration(c, &req) {
		return
	}
	res, err := s.gen.GenerateDescription(s.ownerContext(c), req)
	if err != nil {
		s.writeGenerationError(c, err, "Failed to generate description")
		return
	}
	writeData(c, http.StatusOK, res)
}

func (s *Server) generateTags(c *gin.Context) {
	var req model.TagsRequest
	if !s.bindGeneration(c, &req) {
		return
	}
	res, err := s.gen.GenerateTags(s.ownerContext(c), req)
	if err != nil {
		s.writeGenerationError(c, err, "Failed to generate tags")
		return
	}
	writeData(c, http.StatusOK, res)
}

func (s *Server) listThumbnails(c *gin.Context) {
	page := parseIntDefault(c.Query("page"), 1)
	pageSize := parseIntDefault(c.Query("page_size"), 20)
	items, total, err := s.store.ListThumbnails(c.Request.Context(), userIDFromContext(c), page, pageSize)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list thumbnails", true, nil)
		return
	}
	writeData(c, http.StatusOK, gin.H{
		"items":     items,
		"page":      page,
		"page_size": pageSize,
		"total":     total,
	})
}

func (s *Server) ownerContext(c *gin.Context) context.Context {
	return provider.WithOwner(c.Request.Context(), userIDFromContext(c))
}

// bindGeneration decodes a generation body and reports binding failures in
// the validation contract.
func (s *Server) bindGeneration(c *gin.Context, req any) bool {
	if !requireJSON(c) {
		return false
	}
	if err := c.ShouldBindJSON(req); err != nil {
		writeValidation(c, bindIssues(err)...)
		return false
	}
	return true
}

func bindIssues(err error) []provider.Issue {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []provider.Issue{{Field: "body", Message: "Request body must be valid JSON"}}
	}
	issues := make([]provider.Issue, 0, len(verrs))
	for _, fe := range verrs {
		issues = append(issues, provider.Issue{Field: fieldPath(fe.Namespace()), Message: fieldMessage(fe)})
	}
	return issues
}

// fieldPath turns "ThumbnailRequest.Source.Type" into "source.type".
func fieldPath(ns string) string {
	parts := strings.Split(ns, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToLower(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, ".")
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}

func (s *Server) writeGenerationError(c *gin.Context, err error, fallback string) {
	pe := provider.AsError(err, fallback)
	if pe.Status >= http.StatusInternalServerError {
		s.log.Error("generation_request_failed",
			"trace_id", traceIDFromContext(c),
			"path", c.Request.URL.Path,
			"code", pe.Code,
			"error", err,
		)
	}
	writeProviderError(c, pe)
}
