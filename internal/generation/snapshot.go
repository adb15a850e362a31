package generation

import "metagen/server/internal/model"

// State is the serializable form of a session. Alerts are included for
// display but never restored.
type State struct {
	Thumbnails        SectionState[[]model.ThumbnailVariant] `json:"thumbnails"`
	Description       SectionState[string]                   `json:"description"`
	Tags              SectionState[[]string]                 `json:"tags"`
	Variants          []model.ThumbnailVariant               `json:"variants"`
	SelectedVariantID string                                 `json:"selectedVariantId,omitempty"`
	VariantsMax       int                                    `json:"variantsMax"`
	RegenerationCount int                                    `json:"regenerationCount"`
	LastInput         *Input                                 `json:"lastInput,omitempty"`
	ThumbnailsKind    RunKind                                `json:"thumbnailsKind,omitempty"`
	RegenerateInput   *Input                                 `json:"regenerateInput,omitempty"`
	Alerts            []Alert                                `json:"alerts,omitempty"`
}

// Section returns the untyped view of one section.
func (st State) Section(s Section) SectionView {
	switch s {
	case SectionThumbnails:
		return st.Thumbnails.view(s)
	case SectionDescription:
		return st.Description.view(s)
	default:
		return st.Tags.view(s)
	}
}

func (o *Orchestrator) Snapshot() State {
	o.mu.Lock()
	st := State{
		Thumbnails:        cloneSection(o.thumbnails),
		Description:       o.description,
		Tags:              cloneSection(o.tags),
		Variants:          o.variants.Items(),
		SelectedVariantID: o.variants.Selected(),
		VariantsMax:       o.variants.Max(),
		RegenerationCount: o.regenerations,
	}
	if o.last != nil {
		in := o.last.clone()
		st.LastInput = &in
	}
	st.ThumbnailsKind = o.thumbsKind
	if o.regenInput != nil {
		in := o.regenInput.clone()
		st.RegenerateInput = &in
	}
	o.mu.Unlock()
	st.Alerts = o.alerts.List()
	return st
}

// Restore replaces the session with a persisted state. Sections caught
// mid-flight cannot complete and come back idle, keeping their data.
// In-flight calls of the current session are discarded.
func (o *Orchestrator) Restore(st State) {
	o.mu.Lock()
	o.epoch++
	o.thumbnails = cloneSection(st.Thumbnails)
	o.description = st.Description
	o.tags = cloneSection(st.Tags)
	o.thumbnails.settle()
	o.description.settle()
	o.tags.settle()
	o.variants = NewVariantCollection(o.limits.VariantsMax)
	o.variants.restore(st.Variants, st.SelectedVariantID)
	o.regenerations = st.RegenerationCount
	o.last = nil
	if st.LastInput != nil {
		in := st.LastInput.clone()
		o.last = &in
	}
	o.thumbsKind = st.ThumbnailsKind
	o.regenInput = nil
	if st.RegenerateInput != nil {
		in := st.RegenerateInput.clone()
		o.regenInput = &in
	}
	o.mu.Unlock()
}

func cloneSection[T any](s SectionState[[]T]) SectionState[[]T] {
	if s.Data != nil {
		data := append([]T(nil), (*s.Data)...)
		s.Data = &data
	}
	return s
}
