package generation

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"metagen/server/internal/model"
)

var ErrCannotGenerate = errors.New("generation preconditions not met")

// ValidationError is an input problem caught before any generation call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

type Enabled struct {
	Thumbnails  bool `json:"thumbnails"`
	Description bool `json:"description"`
	Tags        bool `json:"tags"`
}

func AllEnabled() Enabled {
	return Enabled{Thumbnails: true, Description: true, Tags: true}
}

func (e Enabled) Has(s Section) bool {
	switch s {
	case SectionThumbnails:
		return e.Thumbnails
	case SectionDescription:
		return e.Description
	case SectionTags:
		return e.Tags
	}
	return false
}

func (e Enabled) Any() bool {
	return e.Thumbnails || e.Description || e.Tags
}

// Input is the snapshot a generation attempt works from. It is copied on
// launch and never mutated afterwards.
type Input struct {
	Source            model.Source `json:"source"`
	HookText          string       `json:"hookText"`
	Tone              model.Tone   `json:"tone"`
	Enabled           Enabled      `json:"enabled"`
	VideoTitle        string       `json:"videoTitle,omitempty"`
	VideoDescription  string       `json:"videoDescription,omitempty"`
	AdditionalContext string       `json:"additionalContext,omitempty"`
}

func (in Input) clone() Input {
	in.Source.AssetIDs = append([]string(nil), in.Source.AssetIDs...)
	return in
}

// HasSource reports whether an asset suitable for the source kind is present.
func (in Input) HasSource() bool {
	if !in.Source.Type.Valid() {
		return false
	}
	return len(in.Source.AssetIDs) > 0
}

// CanGenerate gates the generate action: something to generate, a usable
// source and a hook within bounds.
func (in Input) CanGenerate(limits model.Limits) bool {
	if !in.Enabled.Any() || !in.HasSource() {
		return false
	}
	if limits.HookTextMax > 0 && utf8.RuneCountInString(in.HookText) > limits.HookTextMax {
		return false
	}
	return true
}

func (in Input) Validate(limits model.Limits) error {
	if limits.HookTextMax > 0 && utf8.RuneCountInString(in.HookText) > limits.HookTextMax {
		return &ValidationError{Field: "hookText", Message: fmt.Sprintf("must be at most %d characters", limits.HookTextMax)}
	}
	if in.Tone != "" && !in.Tone.Valid() {
		return &ValidationError{Field: "tone", Message: "must be one of viral, curiosity, educational"}
	}
	if in.Source.Type != "" && !in.Source.Type.Valid() {
		return &ValidationError{Field: "source.type", Message: "must be videoFrames or images"}
	}
	if limits.TitleMax > 0 && utf8.RuneCountInString(in.VideoTitle) > limits.TitleMax {
		return &ValidationError{Field: "videoTitle", Message: fmt.Sprintf("must be at most %d characters", limits.TitleMax)}
	}
	if limits.ContextMax > 0 && utf8.RuneCountInString(in.AdditionalContext) > limits.ContextMax {
		return &ValidationError{Field: "additionalContext", Message: fmt.Sprintf("must be at most %d characters", limits.ContextMax)}
	}
	return nil
}

func (in Input) sections() []Section {
	out := make([]Section, 0, len(Sections))
	for _, s := range Sections {
		if in.Enabled.Has(s) {
			out = append(out, s)
		}
	}
	return out
}

func (in Input) tone() model.Tone {
	if in.Tone == "" {
		return model.ToneViral
	}
	return in.Tone
}
