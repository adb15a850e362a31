package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"metagen/server/internal/model"
)

// Generator is the generation service the orchestrator and the REST
// endpoints talk to. Implementations return *Error for contract failures.
type Generator interface {
	GenerateThumbnails(ctx context.Context, req model.ThumbnailRequest) (model.ThumbnailResult, error)
	RegenerateThumbnails(ctx context.Context, req model.ThumbnailRequest) (model.ThumbnailResult, error)
	GenerateDescription(ctx context.Context, req model.DescriptionRequest) (model.DescriptionResult, error)
	GenerateTags(ctx context.Context, req model.TagsRequest) (model.TagsResult, error)
}

const (
	CodeValidation  = "VALIDATION_ERROR"
	CodeRateLimited = "RATE_LIMITED"
	CodeServer      = "SERVER_ERROR"
)

type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the generation error contract: a code, an HTTP status and a
// user-facing message. Err carries the internal cause and is never shown.
type Error struct {
	Code      string
	Status    int
	Message   string
	Retryable bool
	Issues    []Issue
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Details() map[string]any {
	if len(e.Issues) == 0 {
		return nil
	}
	return map[string]any{"issues": e.Issues}
}

func ValidationFailed(issues ...Issue) *Error {
	return &Error{
		Code:    CodeValidation,
		Status:  http.StatusBadRequest,
		Message: "Invalid request data",
		Issues:  issues,
	}
}

func RateLimited(cause error) *Error {
	return &Error{
		Code:      CodeRateLimited,
		Status:    http.StatusTooManyRequests,
		Message:   "Rate limit exceeded. Please try again later.",
		Retryable: true,
		Err:       cause,
	}
}

// Upstream wraps a failure of the AI service itself.
func Upstream(message string, cause error) *Error {
	return &Error{
		Code:      CodeServer,
		Status:    http.StatusBadGateway,
		Message:   message,
		Retryable: true,
		Err:       cause,
	}
}

func Unavailable(message string) *Error {
	return &Error{
		Code:      CodeServer,
		Status:    http.StatusServiceUnavailable,
		Message:   message,
		Retryable: true,
	}
}

func Internal(message string, cause error) *Error {
	return &Error{
		Code:    CodeServer,
		Status:  http.StatusInternalServerError,
		Message: message,
		Err:     cause,
	}
}

// AsError normalizes any error into the contract, defaulting to an internal
// server error.
func AsError(err error, fallback string) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return Internal(fallback, err)
}
