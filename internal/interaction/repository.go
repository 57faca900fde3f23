package interaction

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"eventwish-sync/internal/analytics"
	domain "eventwish-sync/internal/domain/interaction"
	apperrors "eventwish-sync/internal/errors"
	"eventwish-sync/internal/infrastructure/pending"
	"eventwish-sync/internal/metrics"
	"eventwish-sync/internal/repository"
	"eventwish-sync/internal/stream"
)

// Queue is the durable pending-operation store the repository and the
// retry worker share.
type Queue interface {
	Enqueue(op domain.PendingOp) error
	List() ([]domain.PendingOp, error)
	Update(op domain.PendingOp) error
	Delete(op domain.PendingOp) error
	Len() (int, error)
}

// Online reports network reachability.
type Online interface {
	Online() bool
}

var _ Queue = (*pending.Store)(nil)

// Repository is the interaction engine facade. Toggles apply
// optimistically to the local observable state, then commit remotely;
// live listeners reconcile the local state with server truth.
type Repository struct {
	backend Backend
	queue   Queue
	conn    Online
	emitter analytics.Emitter
	metrics *metrics.Collector
	logger  *zap.Logger

	debounceWindow time.Duration

	// listenCtx outlives any single caller; backend listeners run
	// until Close so reconciliation survives request lifetimes.
	listenCtx     context.Context
	stopListeners context.CancelFunc

	mu              sync.Mutex
	states          map[string]*stream.Subject[domain.State]  // userID + "/" + templateID
	counts          map[string]*stream.Subject[domain.Counts] // templateID
	observing       map[string]bool                           // state keys with a live listener
	observingCounts map[string]bool                           // template ids with a live counts listener
	lastToggles     map[string]time.Time                      // userID + "/" + templateID + "/" + op
	clock           func() time.Time
}

// NewRepository wires the engine. emitter and collector may be nil.
func NewRepository(backend Backend, queue Queue, conn Online, emitter analytics.Emitter, collector *metrics.Collector, debounceWindow time.Duration, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = analytics.Nop{}
	}
	if collector == nil {
		collector = metrics.NewCollector("eventwish_interaction_test")
	}
	if debounceWindow <= 0 {
		debounceWindow = 500 * time.Millisecond
	}
	listenCtx, stopListeners := context.WithCancel(context.Background())
	return &Repository{
		backend:         backend,
		queue:           queue,
		conn:            conn,
		emitter:         emitter,
		metrics:         collector,
		logger:          logger,
		debounceWindow:  debounceWindow,
		listenCtx:       listenCtx,
		stopListeners:   stopListeners,
		states:          make(map[string]*stream.Subject[domain.State]),
		counts:          make(map[string]*stream.Subject[domain.Counts]),
		observing:       make(map[string]bool),
		observingCounts: make(map[string]bool),
		lastToggles:     make(map[string]time.Time),
		clock:           time.Now,
	}
}

// Close stops all live backend listeners.
func (r *Repository) Close() error {
	r.stopListeners()
	return nil
}

func stateKey(userID, templateID string) string {
	return userID + "/" + templateID
}

// ToggleLike flips the like state for (userID, templateID) and
// returns the new value.
func (r *Repository) ToggleLike(ctx context.Context, userID, templateID string) (bool, error) {
	return r.toggle(ctx, userID, templateID, domain.OpLike)
}

// ToggleFavorite flips the favorite state for (userID, templateID)
// and returns the new value.
func (r *Repository) ToggleFavorite(ctx context.Context, userID, templateID string) (bool, error) {
	return r.toggle(ctx, userID, templateID, domain.OpFavorite)
}

func (r *Repository) toggle(ctx context.Context, userID, templateID string, op domain.Op) (bool, error) {
	now := r.clock()
	toggleKey := stateKey(userID, templateID) + "/" + string(op)

	r.mu.Lock()
	if last, ok := r.lastToggles[toggleKey]; ok && now.Sub(last) < r.debounceWindow {
		current := r.currentStateLocked(userID, templateID)
		r.mu.Unlock()
		return activeFor(current, op), nil
	}
	r.lastToggles[toggleKey] = now
	optimistic := r.currentStateLocked(userID, templateID)
	flip(&optimistic, op)
	r.mu.Unlock()

	// Optimistic local flip; the live listener corrects mismatches.
	r.publishState(userID, templateID, optimistic)

	nowActive, err := r.backend.Toggle(ctx, userID, templateID, op)
	if err != nil {
		return r.handleToggleFailure(userID, templateID, op, optimistic, err)
	}

	final := optimistic
	setActive(&final, op, nowActive)
	r.publishState(userID, templateID, final)

	r.emitter.Emit("interaction_toggled", map[string]any{
		"template_id": templateID,
		"operation":   string(op),
		"active":      nowActive,
	})
	r.clearPendingFor(userID, templateID, op)
	return nowActive, nil
}

func (r *Repository) handleToggleFailure(userID, templateID string, op domain.Op, optimistic domain.State, err error) (bool, error) {
	r.emitter.Emit("interaction_toggle_failed", map[string]any{
		"template_id": templateID,
		"operation":   string(op),
		"error":       err.Error(),
	})
	r.metrics.SyncFailures.WithLabelValues(string(apperrors.TypeOf(err))).Inc()

	if apperrors.Is(err, apperrors.TypePermissionDenied) {
		// Keep the optimistic state; the queued operation replays it
		// once permissions return.
		pendingOp := domain.NewPendingOp(templateID, userID, op)
		if qerr := r.queue.Enqueue(*pendingOp); qerr != nil {
			r.logger.Error("enqueueing pending operation failed",
				zap.String("template_id", templateID), zap.Error(qerr))
		} else {
			r.updateQueueDepth()
		}
		return activeFor(optimistic, op), err
	}

	// Transient or fatal failure: roll the optimistic flip back and
	// surface the error for a manual retry.
	reverted := optimistic
	flip(&reverted, op)
	r.publishState(userID, templateID, reverted)
	return activeFor(reverted, op), err
}

// clearPendingFor drops queued operations superseded by a successful
// toggle.
func (r *Repository) clearPendingFor(userID, templateID string, op domain.Op) {
	ops, err := r.queue.List()
	if err != nil {
		return
	}
	for _, queued := range ops {
		if queued.UserID == userID && queued.TemplateID == templateID && queued.Op == op {
			if err := r.queue.Delete(queued); err != nil {
				r.logger.Warn("removing superseded pending operation failed", zap.Error(err))
			}
		}
	}
	r.updateQueueDepth()
}

func (r *Repository) updateQueueDepth() {
	if depth, err := r.queue.Len(); err == nil {
		r.metrics.PendingQueueDepth.Set(float64(depth))
	}
}

// GetLikeState returns the observable interaction state for a user
// and template, starting the live reconciliation listener on first
// use.
func (r *Repository) GetLikeState(ctx context.Context, userID, templateID string) *stream.Subject[domain.State] {
	return r.stateSubject(ctx, userID, templateID)
}

// GetFavoriteState returns the same stream as GetLikeState; the state
// carries both booleans.
func (r *Repository) GetFavoriteState(ctx context.Context, userID, templateID string) *stream.Subject[domain.State] {
	return r.stateSubject(ctx, userID, templateID)
}

func (r *Repository) stateSubject(ctx context.Context, userID, templateID string) *stream.Subject[domain.State] {
	key := stateKey(userID, templateID)

	r.mu.Lock()
	subject, ok := r.states[key]
	if !ok {
		subject = stream.NewSubject[domain.State]()
		r.states[key] = subject
	}
	alreadyObserving := r.observing[key]
	r.observing[key] = true
	r.mu.Unlock()
	if alreadyObserving {
		return subject
	}

	// First subscriber: seed from a one-shot read, then track the
	// live listener. The listener runs on the repository's own
	// context, not the caller's, so it survives the request. When the
	// update channel closes the observing flag is dropped and the
	// next caller re-arms the listener.
	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.observing, key)
			r.mu.Unlock()
		}()

		if state, err := r.backend.GetState(r.listenCtx, userID, templateID); err == nil {
			subject.Publish(state)
		}
		updates, err := r.backend.ObserveState(r.listenCtx, userID, templateID)
		if err != nil {
			r.logger.Warn("state listener unavailable",
				zap.String("template_id", templateID), zap.Error(err))
			return
		}
		for state := range updates {
			subject.Publish(state)
		}
	}()
	return subject
}

// GetLikeCount returns the observable aggregate counters for a
// template, starting the live listener on first use.
func (r *Repository) GetLikeCount(ctx context.Context, templateID string) *stream.Subject[domain.Counts] {
	r.mu.Lock()
	subject, ok := r.counts[templateID]
	if !ok {
		subject = stream.NewSubject[domain.Counts]()
		r.counts[templateID] = subject
	}
	alreadyObserving := r.observingCounts[templateID]
	r.observingCounts[templateID] = true
	r.mu.Unlock()
	if alreadyObserving {
		return subject
	}

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.observingCounts, templateID)
			r.mu.Unlock()
		}()

		if counts, err := r.backend.GetCounts(r.listenCtx, templateID); err == nil {
			subject.Publish(counts)
		}
		updates, err := r.backend.ObserveCounts(r.listenCtx, templateID)
		if err != nil {
			r.logger.Warn("counts listener unavailable",
				zap.String("template_id", templateID), zap.Error(err))
			return
		}
		for counts := range updates {
			subject.Publish(counts)
		}
	}()
	return subject
}

// EnsureTemplateExists creates the remote counter doc when missing,
// retrying transient failures.
func (r *Repository) EnsureTemplateExists(ctx context.Context, templateID string) error {
	return repository.RetryWithBackoff(ctx, repository.DefaultRetryConfig(), func() error {
		return r.backend.EnsureTemplateExists(ctx, templateID)
	})
}

// currentStateLocked returns the latest known state. Caller holds mu.
func (r *Repository) currentStateLocked(userID, templateID string) domain.State {
	if subject, ok := r.states[stateKey(userID, templateID)]; ok {
		if state, ok := subject.Value(); ok {
			return state
		}
	}
	return domain.State{TemplateID: templateID}
}

func (r *Repository) publishState(userID, templateID string, state domain.State) {
	key := stateKey(userID, templateID)
	r.mu.Lock()
	subject, ok := r.states[key]
	if !ok {
		subject = stream.NewSubject[domain.State]()
		r.states[key] = subject
	}
	r.mu.Unlock()
	subject.Publish(state)
}

func flip(state *domain.State, op domain.Op) {
	switch op {
	case domain.OpLike:
		state.IsLiked = !state.IsLiked
	case domain.OpFavorite:
		state.IsFavorited = !state.IsFavorited
	}
}

func setActive(state *domain.State, op domain.Op, active bool) {
	switch op {
	case domain.OpLike:
		state.IsLiked = active
	case domain.OpFavorite:
		state.IsFavorited = active
	}
}

func activeFor(state domain.State, op domain.Op) bool {
	if op == domain.OpLike {
		return state.IsLiked
	}
	return state.IsFavorited
}
