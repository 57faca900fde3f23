package resource

import (
	"encoding/json"
	"time"

	apperrors "eventwish-sync/internal/errors"
)

// Template is the typed payload for TypeTemplate resources. Payload
// decoding happens exactly once, at this boundary; the cache tiers
// below it carry opaque JSON.
type Template struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Category      string    `json:"category"`
	CategoryID    string    `json:"categoryId,omitempty"`
	PreviewURL    string    `json:"previewUrl,omitempty"`
	HTMLContent   string    `json:"htmlContent,omitempty"`
	CSSContent    string    `json:"cssContent,omitempty"`
	JSContent     string    `json:"jsContent,omitempty"`
	LikeCount     int64     `json:"likeCount"`
	FavoriteCount int64     `json:"favoriteCount"`
	Recommended   bool      `json:"recommended,omitempty"`
	CreatedAt     time.Time `json:"createdAt,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt,omitempty"`
}

// TemplatePage is one page of the paginated template listing: the
// items, the category→count side channel, and the server's more-pages
// flag.
type TemplatePage struct {
	Templates  []Template     `json:"items"`
	Categories map[string]int `json:"categories,omitempty"`
	Page       int            `json:"page"`
	TotalPages int            `json:"totalPages,omitempty"`
	TotalItems int            `json:"totalItems,omitempty"`
	HasMore    bool           `json:"hasMore"`
}

// DecodeTemplate parses a raw cached payload into a Template. A decode
// failure is a MALFORMED_PAYLOAD error; partially decoded values are
// never returned.
func DecodeTemplate(data json.RawMessage) (*Template, error) {
	var t Template
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, apperrors.Malformed("template", err)
	}
	if t.ID == "" {
		return nil, apperrors.New(apperrors.TypeMalformedPayload, "template payload missing id").Build()
	}
	return &t, nil
}

// DecodeTemplatePage parses a raw listing response.
func DecodeTemplatePage(data json.RawMessage) (*TemplatePage, error) {
	var p TemplatePage
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, apperrors.Malformed("template page", err)
	}
	return &p, nil
}
