package workspace

import (
	"time"

	"metagen/server/internal/generation"
	"metagen/server/internal/model"
)

// View is the client-facing state of a workspace.
type View struct {
	ID                string             `json:"id"`
	SourceKind        model.SourceKind   `json:"sourceKind"`
	AssetIDs          []string           `json:"assetIds"`
	HookText          string             `json:"hookText"`
	Tone              model.Tone         `json:"tone"`
	Enabled           generation.Enabled `json:"enabled"`
	VideoTitle        string             `json:"videoTitle,omitempty"`
	VideoDescription  string             `json:"videoDescription,omitempty"`
	AdditionalContext string             `json:"additionalContext,omitempty"`
	CanGenerate       bool               `json:"canGenerate"`
	State             generation.State   `json:"state"`
	LastSeq           int64              `json:"lastSeq"`
	CreatedAt         time.Time          `json:"createdAt"`
	UpdatedAt         time.Time          `json:"updatedAt"`
}

// record is the persisted form. Alerts are transient and left out.
type record struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	Input     generation.Input `json:"input"`
	State     generation.State `json:"state"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

func (s *Service) view(ws *workspace) View {
	ws.mu.Lock()
	in := ws.input
	in.Source.AssetIDs = append([]string{}, ws.input.Source.AssetIDs...)
	updated := ws.updatedAt
	ws.mu.Unlock()

	return View{
		ID:                ws.id,
		SourceKind:        in.Source.Type,
		AssetIDs:          in.Source.AssetIDs,
		HookText:          in.HookText,
		Tone:              in.Tone,
		Enabled:           in.Enabled,
		VideoTitle:        in.VideoTitle,
		VideoDescription:  in.VideoDescription,
		AdditionalContext: in.AdditionalContext,
		CanGenerate:       in.CanGenerate(s.opts.Limits),
		State:             ws.orch.Snapshot(),
		LastSeq:           s.events.LastSeq(ws.id),
		CreatedAt:         ws.createdAt,
		UpdatedAt:         updated,
	}
}

func (s *Service) record(ws *workspace) record {
	ws.mu.Lock()
	in := ws.input
	in.Source.AssetIDs = append([]string(nil), ws.input.Source.AssetIDs...)
	updated := ws.updatedAt
	ws.mu.Unlock()

	st := ws.orch.Snapshot()
	st.Alerts = nil
	return record{
		ID:        ws.id,
		UserID:    ws.userID,
		Input:     in,
		State:     st,
		CreatedAt: ws.createdAt,
		UpdatedAt: updated,
	}
}
