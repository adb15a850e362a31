package upload

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"metagen/server/internal/model"
)

var (
	VideoTypes = []string{"video/mp4", "video/quicktime", "video/x-msvideo", "video/webm"}
	ImageTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}
)

type ErrorKind string

const (
	KindNoFile      ErrorKind = "no_file"
	KindInvalid     ErrorKind = "invalid"
	KindTooLarge    ErrorKind = "too_large"
	KindUnavailable ErrorKind = "unavailable"
)

// Error is a rejected upload. Message is safe to show to the user.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upload %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("upload %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Status() int {
	switch e.Kind {
	case KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusBadRequest
}

var ErrNoFile = &Error{Kind: KindNoFile, Message: "No file provided"}

func IsKind(err error, kind ErrorKind) bool {
	var ue *Error
	return errors.As(err, &ue) && ue.Kind == kind
}

// Result mirrors the client-side validation gate: an invalid file leaves the
// source without an asset.
type Result struct {
	IsValid  bool
	Error    string
	Duration *float64
	Kind     model.AssetKind
	TooLarge bool
}

// KindOf classifies a MIME type by its top-level type.
func KindOf(mimeType string) (model.AssetKind, bool) {
	switch {
	case strings.HasPrefix(mimeType, "video/"):
		return model.AssetVideo, true
	case strings.HasPrefix(mimeType, "image/"):
		return model.AssetImage, true
	}
	return "", false
}

// ValidateFile checks format, then size, then (for video with a known
// duration) length. The first failing check wins.
func ValidateFile(mimeType string, size int64, duration *float64, limits model.Limits) Result {
	mimeType = baseType(mimeType)
	kind, ok := KindOf(mimeType)
	if !ok {
		return Result{Error: "File must be a video or image"}
	}
	if kind == model.AssetVideo {
		if !slices.Contains(VideoTypes, mimeType) {
			return Result{Kind: kind, Error: "Unsupported video format. Please use a supported format."}
		}
		if size > limits.VideoMaxBytes {
			return Result{Kind: kind, TooLarge: true, Error: fmt.Sprintf("Video file size must be under %dMB", limits.VideoMaxBytes>>20)}
		}
		if duration != nil && *duration > limits.VideoMaxDuration.Seconds() {
			return Result{Kind: kind, Error: fmt.Sprintf("Video duration must be under %d minutes", int(limits.VideoMaxDuration/time.Minute))}
		}
		return Result{IsValid: true, Kind: kind, Duration: duration}
	}
	if !slices.Contains(ImageTypes, mimeType) {
		return Result{Kind: kind, Error: "Unsupported image format. Please use JPEG, PNG, GIF, or WebP."}
	}
	if size > limits.ImageMaxBytes {
		return Result{Kind: kind, TooLarge: true, Error: fmt.Sprintf("Image file size must be under %dMB", limits.ImageMaxBytes>>20)}
	}
	return Result{IsValid: true, Kind: kind}
}

// AsError converts a failed Result into an *Error, or nil when valid.
func (r Result) AsError() error {
	if r.IsValid {
		return nil
	}
	if r.TooLarge {
		return &Error{Kind: KindTooLarge, Message: r.Error}
	}
	return &Error{Kind: KindInvalid, Message: r.Error}
}

func baseType(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}
