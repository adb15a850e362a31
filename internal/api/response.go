package api

import (
	"errors"
	"net/http"

	"metagen/server/internal/generation"
	"metagen/server/internal/provider"

	"github.com/gin-gonic/gin"
)

type APIError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

func writeData(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{
		"data":     data,
		"trace_id": traceIDFromContext(c),
	})
}

func writeError(c *gin.Context, status int, code, message string, retryable bool, details map[string]any) {
	c.JSON(status, gin.H{
		"error": APIError{
			Code:      code,
			Message:   message,
			Retryable: retryable,
			Details:   details,
		},
		"trace_id": traceIDFromContext(c),
	})
}

func writeUnauthorized(c *gin.Context) {
	writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", false, nil)
}

// writeProviderError renders the generation error contract. Internal causes
// are logged by the caller, never sent.
func writeProviderError(c *gin.Context, pe *provider.Error) {
	writeError(c, pe.Status, pe.Code, pe.Message, pe.Retryable, pe.Details())
}

func writeValidation(c *gin.Context, issues ...provider.Issue) {
	writeProviderError(c, provider.ValidationFailed(issues...))
}

func validationIssue(err error) (provider.Issue, bool) {
	var ve *generation.ValidationError
	if errors.As(err, &ve) {
		return provider.Issue{Field: ve.Field, Message: ve.Message}, true
	}
	return provider.Issue{}, false
}
