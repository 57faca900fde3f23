// Package interaction synchronizes per-user template interactions
// (likes and favorites) with the remote document store: optimistic
// local toggles, transactional counter updates, live reconciliation,
// and a durable retry queue for writes that fail on permissions.
package interaction

import (
	"context"

	domain "eventwish-sync/internal/domain/interaction"
)

// Backend is the document store the engine writes interactions to.
// The production implementation is Firestore; tests substitute an
// in-memory fake.
type Backend interface {
	// Toggle flips the membership doc for (userID, templateID, op)
	// inside one atomic transaction, adjusting the template's
	// aggregate counter and lastUpdated stamp. It reports whether the
	// interaction is active after the call.
	Toggle(ctx context.Context, userID, templateID string, op domain.Op) (bool, error)

	// EnsureTemplateExists creates the template counter doc when it
	// is missing, leaving existing docs untouched.
	EnsureTemplateExists(ctx context.Context, templateID string) error

	// GetState reads the user's current membership docs once.
	GetState(ctx context.Context, userID, templateID string) (domain.State, error)

	// GetCounts reads the template's aggregate counters once.
	GetCounts(ctx context.Context, templateID string) (domain.Counts, error)

	// ObserveCounts streams the template's aggregate counters. The
	// channel replays the current value and closes when ctx is done.
	ObserveCounts(ctx context.Context, templateID string) (<-chan domain.Counts, error)

	// ObserveState streams the user's membership state for one
	// template, same channel semantics as ObserveCounts.
	ObserveState(ctx context.Context, userID, templateID string) (<-chan domain.State, error)
}
