package api

import (
	"encoding/json"
	"time"
)

// ResourceResponse is the wire form of a cached resource, carrying the
// staleness marker alongside the payload so clients can render a
// "showing cached data" hint.
type ResourceResponse struct {
	Type        string          `json:"type"`
	Key         string          `json:"key"`
	Data        json.RawMessage `json:"data"`
	Stale       bool            `json:"stale,omitempty"`
	Warning     string          `json:"warning,omitempty"`
	LastUpdated time.Time       `json:"lastUpdated,omitempty"`
	ExpiresAt   time.Time       `json:"expiresAt,omitempty"`
}

// ResourceListResponse wraps a typed collection.
type ResourceListResponse struct {
	Type    string            `json:"type"`
	Items   []json.RawMessage `json:"items"`
	Stale   bool              `json:"stale,omitempty"`
	Warning string            `json:"warning,omitempty"`
}

// TemplatePageResponse is the paginated template listing state.
type TemplatePageResponse struct {
	Items       interface{}    `json:"items"`
	Categories  map[string]int `json:"categories,omitempty"`
	CurrentPage int            `json:"currentPage"`
	HasMore     bool           `json:"hasMore"`
	Category    string         `json:"category,omitempty"`
}

// CategoryRequest selects the active template category filter. An
// empty category clears the filter.
type CategoryRequest struct {
	Category string `json:"category"`
}

// ToggleResponse reports the interaction state after a toggle.
type ToggleResponse struct {
	TemplateID string `json:"templateId"`
	Active     bool   `json:"active"`
	Queued     bool   `json:"queued,omitempty"`
}

// InteractionStateResponse is the per-user interaction state for one
// template.
type InteractionStateResponse struct {
	TemplateID  string `json:"templateId"`
	IsLiked     bool   `json:"isLiked"`
	IsFavorited bool   `json:"isFavorited"`
}

// CountsResponse carries the template's aggregate counters.
type CountsResponse struct {
	TemplateID    string    `json:"templateId"`
	LikeCount     int64     `json:"likeCount"`
	FavoriteCount int64     `json:"favoriteCount"`
	LastUpdated   time.Time `json:"lastUpdated,omitempty"`
}

// HealthResponse is the /healthz payload.
type HealthResponse struct {
	Status       string `json:"status"`
	Online       bool   `json:"online"`
	PendingOps   int    `json:"pendingOps"`
	CachedItems  int    `json:"cachedItems"`
	QueueBacklog bool   `json:"queueBacklog,omitempty"`
}
