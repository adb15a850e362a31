package model

import "time"

type Tone string

const (
	ToneViral       Tone = "viral"
	ToneCuriosity   Tone = "curiosity"
	ToneEducational Tone = "educational"
)

var Tones = []Tone{ToneViral, ToneCuriosity, ToneEducational}

func (t Tone) Valid() bool {
	switch t {
	case ToneViral, ToneCuriosity, ToneEducational:
		return true
	}
	return false
}

type SourceKind string

const (
	SourceVideoFrames SourceKind = "videoFrames"
	SourceImages      SourceKind = "images"
)

func (k SourceKind) Valid() bool {
	return k == SourceVideoFrames || k == SourceImages
}

// AssetKind returns the asset kind a source of this kind is built from.
func (k SourceKind) AssetKind() AssetKind {
	if k == SourceVideoFrames {
		return AssetVideo
	}
	return AssetImage
}

type Readability string

const (
	ReadabilityGood Readability = "good"
	ReadabilityOK   Readability = "ok"
	ReadabilityPoor Readability = "poor"
)

type ThumbnailVariant struct {
	ID          string      `json:"id"`
	ImageURL    string      `json:"imageUrl"`
	Readability Readability `json:"readability,omitempty"`
}

type Source struct {
	Type     SourceKind `json:"type" binding:"required,oneof=videoFrames images"`
	AssetIDs []string   `json:"assetIds"`
}

type ThumbnailRequest struct {
	HookText string `json:"hookText"`
	Tone     Tone   `json:"tone" binding:"required,oneof=viral curiosity educational"`
	Source   Source `json:"source"`
	Count    int    `json:"count,omitempty"`
}

type ThumbnailResult struct {
	Variants []ThumbnailVariant `json:"variants"`
}

type DescriptionRequest struct {
	HookText          string `json:"hookText"`
	Tone              Tone   `json:"tone" binding:"required,oneof=viral curiosity educational"`
	VideoTitle        string `json:"videoTitle,omitempty"`
	VideoDescription  string `json:"videoDescription,omitempty"`
	AdditionalContext string `json:"additionalContext,omitempty"`
}

type DescriptionResult struct {
	Description string `json:"description"`
}

type TagsRequest struct {
	HookText    string `json:"hookText"`
	Tone        Tone   `json:"tone" binding:"required,oneof=viral curiosity educational"`
	Description string `json:"description,omitempty"`
}

type TagsResult struct {
	Tags []string `json:"tags"`
}

// Limits bounds every user-facing input and the variant collection.
type Limits struct {
	HookTextMax        int           `json:"hookTextMax"`
	TitleMax           int           `json:"titleMax"`
	DescriptionMax     int           `json:"descriptionMax"`
	ContextMax         int           `json:"contextMax"`
	TagsMax            int           `json:"tagsMax"`
	VariantsMax        int           `json:"variantsMax"`
	VariantsInitial    int           `json:"variantsInitial"`
	VariantsRegenerate int           `json:"variantsRegenerate"`
	VideoMaxBytes      int64         `json:"videoMaxBytes"`
	VideoMaxDuration   time.Duration `json:"-"`
	ImageMaxBytes      int64         `json:"imageMaxBytes"`
	ImageMaxCount      int           `json:"imageMaxCount"`
	AlertVisibleFor    time.Duration `json:"-"`
	AlertFadeFor       time.Duration `json:"-"`
}

func DefaultLimits() Limits {
	return Limits{
		HookTextMax:        200,
		TitleMax:           100,
		DescriptionMax:     5000,
		ContextMax:         500,
		TagsMax:            15,
		VariantsMax:        6,
		VariantsInitial:    3,
		VariantsRegenerate: 3,
		VideoMaxBytes:      500 * 1024 * 1024,
		VideoMaxDuration:   2 * time.Hour,
		ImageMaxBytes:      10 * 1024 * 1024,
		ImageMaxCount:      10,
		AlertVisibleFor:    3 * time.Second,
		AlertFadeFor:       200 * time.Millisecond,
	}
}

// Normalize clamps batch sizes so the initial and regenerate batches never
// exceed the collection maximum.
func (l Limits) Normalize() Limits {
	d := DefaultLimits()
	if l.VariantsMax < 1 {
		l.VariantsMax = d.VariantsMax
	}
	if l.VariantsInitial < 1 {
		l.VariantsInitial = d.VariantsInitial
	}
	if l.VariantsRegenerate < 1 {
		l.VariantsRegenerate = d.VariantsRegenerate
	}
	if l.VariantsInitial > l.VariantsMax {
		l.VariantsInitial = l.VariantsMax
	}
	if l.VariantsRegenerate > l.VariantsMax {
		l.VariantsRegenerate = l.VariantsMax
	}
	if l.AlertVisibleFor <= 0 {
		l.AlertVisibleFor = d.AlertVisibleFor
	}
	if l.AlertFadeFor <= 0 {
		l.AlertFadeFor = d.AlertFadeFor
	}
	return l
}
