package model

import "time"

type WorkspaceEventType string

const (
	EventSectionChanged    WorkspaceEventType = "section_changed"
	EventVariantsChanged   WorkspaceEventType = "variants_changed"
	EventAlertChanged      WorkspaceEventType = "alert_changed"
	EventGenerationSettled WorkspaceEventType = "generation_settled"
	EventWorkspaceUpdated  WorkspaceEventType = "workspace_updated"
)

type WorkspaceEvent struct {
	EventID     string             `json:"event_id"`
	Seq         int64              `json:"seq"`
	WorkspaceID string             `json:"workspace_id"`
	UserID      string             `json:"-"`
	Type        WorkspaceEventType `json:"type"`
	TS          time.Time          `json:"ts"`
	Payload     map[string]any     `json:"payload"`
}
