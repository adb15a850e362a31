package model

import "time"

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
}

type AssetKind string

const (
	AssetVideo AssetKind = "video"
	AssetImage AssetKind = "image"
)

type Asset struct {
	ID          string         `json:"assetId"`
	UserID      string         `json:"userId"`
	Kind        AssetKind      `json:"kind"`
	FileName    string         `json:"fileName"`
	FileType    string         `json:"fileType"`
	FileSize    int64          `json:"fileSize"`
	StorageKey  string         `json:"storageKey"`
	URL         string         `json:"url,omitempty"`
	DurationSec *float64       `json:"duration,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Status      string         `json:"status"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// GeneratedThumbnail records a variant produced for a user, whichever
// surface requested it.
type GeneratedThumbnail struct {
	ID          string      `json:"id"`
	UserID      string      `json:"userId"`
	AssetID     string      `json:"assetId,omitempty"`
	ImageURL    string      `json:"imageUrl"`
	HookText    string      `json:"hookText"`
	Tone        Tone        `json:"tone"`
	Readability Readability `json:"readability,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
}
