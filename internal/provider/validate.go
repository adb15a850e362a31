package provider

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"metagen/server/internal/model"
)

// ValidateThumbnailRequest checks a thumbnail request against limits and
// fills in the default count. maxCount bounds the batch: the collection
// maximum for a first batch, the regenerate batch for follow-ups.
func ValidateThumbnailRequest(req model.ThumbnailRequest, limits model.Limits, defaultCount, maxCount int) (model.ThumbnailRequest, error) {
	var issues []Issue
	issues = checkLen(issues, "hookText", req.HookText, limits.HookTextMax)
	if !req.Tone.Valid() {
		issues = append(issues, Issue{Field: "tone", Message: "must be one of viral, curiosity, educational"})
	}
	if !req.Source.Type.Valid() {
		issues = append(issues, Issue{Field: "source.type", Message: "must be videoFrames or images"})
	}
	if len(req.Source.AssetIDs) == 0 {
		issues = append(issues, Issue{Field: "source.assetIds", Message: "at least one asset is required"})
	}
	if req.Count == 0 {
		req.Count = defaultCount
	}
	if req.Count < 1 || req.Count > maxCount {
		issues = append(issues, Issue{Field: "count", Message: fmt.Sprintf("must be between 1 and %d", maxCount)})
	}
	if len(issues) > 0 {
		return req, ValidationFailed(issues...)
	}
	return req, nil
}

func ValidateDescriptionRequest(req model.DescriptionRequest, limits model.Limits) error {
	var issues []Issue
	issues = checkLen(issues, "hookText", req.HookText, limits.HookTextMax)
	if !req.Tone.Valid() {
		issues = append(issues, Issue{Field: "tone", Message: "must be one of viral, curiosity, educational"})
	}
	issues = checkLen(issues, "videoTitle", req.VideoTitle, limits.TitleMax)
	issues = checkLen(issues, "videoDescription", req.VideoDescription, limits.DescriptionMax)
	issues = checkLen(issues, "additionalContext", req.AdditionalContext, limits.ContextMax)
	if len(issues) > 0 {
		return ValidationFailed(issues...)
	}
	return nil
}

func ValidateTagsRequest(req model.TagsRequest, limits model.Limits) error {
	var issues []Issue
	issues = checkLen(issues, "hookText", req.HookText, limits.HookTextMax)
	if !req.Tone.Valid() {
		issues = append(issues, Issue{Field: "tone", Message: "must be one of viral, curiosity, educational"})
	}
	issues = checkLen(issues, "description", req.Description, limits.DescriptionMax)
	if len(issues) > 0 {
		return ValidationFailed(issues...)
	}
	return nil
}

func checkLen(issues []Issue, field, value string, limit int) []Issue {
	if limit > 0 && utf8.RuneCountInString(value) > limit {
		return append(issues, Issue{Field: field, Message: fmt.Sprintf("must be at most %d characters", limit)})
	}
	return issues
}

// Truncate cuts s to at most limit runes.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

// NormalizeTags trims, strips leading '#', drops duplicates and tags outside
// 2..30 characters, and keeps at most limit entries.
func NormalizeTags(raw []string, limit int) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(raw))
	for _, tag := range raw {
		tag = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(tag), "#"))
		n := utf8.RuneCountInString(tag)
		if n < 2 || n > 30 {
			continue
		}
		key := strings.ToLower(tag)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, tag)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// ParseTagList splits a comma or newline separated model reply.
func ParseTagList(text string, limit int) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == '\n'
	})
	return NormalizeTags(fields, limit)
}
