// Package interaction defines the per-user template interaction model:
// the boolean like/favorite state cached locally, the aggregate
// counters owned by the remote document store, and the durable pending
// operation written when a toggle fails.
package interaction

import (
	"time"

	"github.com/google/uuid"
)

// Op names the two interaction kinds.
type Op string

const (
	OpLike     Op = "like"
	OpFavorite Op = "favorite"
)

// State is the locally cached interaction state for one
// (user, template) pair. Canonical state lives remotely; this value is
// eventually consistent and corrected by the live subscription.
type State struct {
	TemplateID  string
	IsLiked     bool
	IsFavorited bool
}

// Counts is the template-level aggregate maintained transactionally on
// the server. Both counters are non-negative.
type Counts struct {
	LikeCount     int64
	FavoriteCount int64
	LastUpdated   time.Time
}

// PendingOp is a toggle that failed with a queueable error and awaits
// retry. It survives process restarts via the durable queue.
type PendingOp struct {
	ID            string    `json:"id"`
	TemplateID    string    `json:"templateId"`
	UserID        string    `json:"userId"`
	Op            Op        `json:"op"`
	CreatedAt     time.Time `json:"createdAt"`
	Attempts      int       `json:"attempts"`
	NextAttemptAt time.Time `json:"nextAttemptAt,omitempty"`
	LastError     string    `json:"lastError,omitempty"`
}

// NewPendingOp creates a queue entry for a failed toggle.
func NewPendingOp(templateID, userID string, op Op) *PendingOp {
	return &PendingOp{
		ID:         uuid.NewString(),
		TemplateID: templateID,
		UserID:     userID,
		Op:         op,
		CreatedAt:  time.Now().UTC(),
	}
}
