package interaction

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	domain "eventwish-sync/internal/domain/interaction"
	apperrors "eventwish-sync/internal/errors"
	"eventwish-sync/internal/infrastructure/pending"
)

// fakeBackend is an in-memory stand-in for the Firestore backend with
// the same transactional semantics: membership docs, floor-at-zero
// counters, and replaying observation channels.
type fakeBackend struct {
	mu          sync.Mutex
	memberships map[string]bool // userID/templateID/op
	counts      map[string]domain.Counts
	denyWrites  bool
	failWith    error
	toggleCalls int
	countSubs   map[string][]chan domain.Counts
	stateSubs   map[string][]chan domain.State
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		memberships: make(map[string]bool),
		counts:      make(map[string]domain.Counts),
		countSubs:   make(map[string][]chan domain.Counts),
		stateSubs:   make(map[string][]chan domain.State),
	}
}

func membershipKey(userID, templateID string, op domain.Op) string {
	return userID + "/" + templateID + "/" + string(op)
}

func (f *fakeBackend) Toggle(ctx context.Context, userID, templateID string, op domain.Op) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.toggleCalls++
	if f.failWith != nil {
		return false, f.failWith
	}
	if f.denyWrites {
		return false, apperrors.New(apperrors.TypePermissionDenied, "write denied").Build()
	}

	key := membershipKey(userID, templateID, op)
	counts := f.counts[templateID]
	active := !f.memberships[key]
	if active {
		f.memberships[key] = true
		addCount(&counts, op, 1)
	} else {
		delete(f.memberships, key)
		addCount(&counts, op, -1)
	}
	counts.LastUpdated = time.Now()
	f.counts[templateID] = counts

	f.notifyLocked(userID, templateID)
	return active, nil
}

func addCount(c *domain.Counts, op domain.Op, delta int64) {
	target := &c.LikeCount
	if op == domain.OpFavorite {
		target = &c.FavoriteCount
	}
	*target += delta
	if *target < 0 {
		*target = 0
	}
}

func (f *fakeBackend) EnsureTemplateExists(ctx context.Context, templateID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.counts[templateID]; !ok {
		f.counts[templateID] = domain.Counts{LastUpdated: time.Now()}
	}
	return nil
}

func (f *fakeBackend) GetState(ctx context.Context, userID, templateID string) (domain.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stateLocked(userID, templateID), nil
}

func (f *fakeBackend) stateLocked(userID, templateID string) domain.State {
	return domain.State{
		TemplateID:  templateID,
		IsLiked:     f.memberships[membershipKey(userID, templateID, domain.OpLike)],
		IsFavorited: f.memberships[membershipKey(userID, templateID, domain.OpFavorite)],
	}
}

func (f *fakeBackend) GetCounts(ctx context.Context, templateID string) (domain.Counts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[templateID], nil
}

func (f *fakeBackend) ObserveCounts(ctx context.Context, templateID string) (<-chan domain.Counts, error) {
	ch := make(chan domain.Counts, 16)
	f.mu.Lock()
	ch <- f.counts[templateID]
	f.countSubs[templateID] = append(f.countSubs[templateID], ch)
	f.mu.Unlock()

	// Same lifecycle as the Firestore listener: the channel closes
	// when the subscribing context ends.
	go func() {
		<-ctx.Done()
		f.mu.Lock()
		f.countSubs[templateID] = removeSub(f.countSubs[templateID], ch)
		close(ch)
		f.mu.Unlock()
	}()
	return ch, nil
}

func (f *fakeBackend) ObserveState(ctx context.Context, userID, templateID string) (<-chan domain.State, error) {
	ch := make(chan domain.State, 16)
	f.mu.Lock()
	ch <- f.stateLocked(userID, templateID)
	f.stateSubs[userID+"/"+templateID] = append(f.stateSubs[userID+"/"+templateID], ch)
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		f.stateSubs[userID+"/"+templateID] = removeSub(f.stateSubs[userID+"/"+templateID], ch)
		close(ch)
		f.mu.Unlock()
	}()
	return ch, nil
}

func removeSub[T any](subs []chan T, target chan T) []chan T {
	kept := subs[:0]
	for _, ch := range subs {
		if ch != target {
			kept = append(kept, ch)
		}
	}
	return kept
}

func (f *fakeBackend) notifyLocked(userID, templateID string) {
	for _, ch := range f.countSubs[templateID] {
		select {
		case ch <- f.counts[templateID]:
		default:
		}
	}
	for _, ch := range f.stateSubs[userID+"/"+templateID] {
		select {
		case ch <- f.stateLocked(userID, templateID):
		default:
		}
	}
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.toggleCalls
}

func (f *fakeBackend) likeCount(templateID string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[templateID].LikeCount
}

type alwaysOnline struct{}

func (alwaysOnline) Online() bool { return true }

func newTestQueue(t *testing.T) *pending.Store {
	t.Helper()
	store, err := pending.Open(filepath.Join(t.TempDir(), "queue"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestRepository(t *testing.T, backend Backend, window time.Duration) (*Repository, *pending.Store) {
	t.Helper()
	queue := newTestQueue(t)
	repo := NewRepository(backend, queue, alwaysOnline{}, nil, nil, window, zap.NewNop())
	return repo, queue
}

func TestToggleLikeActivatesAndCounts(t *testing.T) {
	backend := newFakeBackend()
	repo, queue := newTestRepository(t, backend, time.Millisecond)

	active, err := repo.ToggleLike(context.Background(), "u1", "t1")
	require.NoError(t, err)
	assert.True(t, active)
	assert.Equal(t, int64(1), backend.likeCount("t1"))

	depth, err := queue.Len()
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestDoubleToggleIsNetZero(t *testing.T) {
	backend := newFakeBackend()
	repo, _ := newTestRepository(t, backend, time.Millisecond)

	now := time.Now()
	repo.clock = func() time.Time { return now }

	active, err := repo.ToggleLike(context.Background(), "u1", "t1")
	require.NoError(t, err)
	assert.True(t, active)

	now = now.Add(time.Second)
	active, err = repo.ToggleLike(context.Background(), "u1", "t1")
	require.NoError(t, err)
	assert.False(t, active)

	assert.Equal(t, int64(0), backend.likeCount("t1"))

	state, ok := repo.GetLikeState(context.Background(), "u1", "t1").Value()
	require.True(t, ok)
	assert.False(t, state.IsLiked)
}

func TestRapidTogglesDebounced(t *testing.T) {
	backend := newFakeBackend()
	repo, _ := newTestRepository(t, backend, time.Hour)

	first, err := repo.ToggleLike(context.Background(), "u1", "t1")
	require.NoError(t, err)
	assert.True(t, first)

	// Inside the debounce window the toggle is a read, not a write.
	second, err := repo.ToggleLike(context.Background(), "u1", "t1")
	require.NoError(t, err)
	assert.True(t, second)
	assert.Equal(t, 1, backend.calls())
}

func TestCounterNeverGoesNegative(t *testing.T) {
	backend := newFakeBackend()
	// Membership says liked but the counter is already at zero, e.g.
	// after an out-of-band correction.
	backend.memberships[membershipKey("u1", "t1", domain.OpLike)] = true
	repo, _ := newTestRepository(t, backend, time.Millisecond)

	active, err := repo.ToggleLike(context.Background(), "u1", "t1")
	require.NoError(t, err)
	assert.False(t, active)
	assert.Equal(t, int64(0), backend.likeCount("t1"))
}

func TestTransientFailureRevertsOptimisticFlip(t *testing.T) {
	backend := newFakeBackend()
	backend.failWith = apperrors.Transient("toggle", assert.AnError)
	repo, queue := newTestRepository(t, backend, time.Millisecond)

	active, err := repo.ToggleLike(context.Background(), "u1", "t1")
	require.Error(t, err)
	assert.False(t, active)
	assert.True(t, apperrors.Is(err, apperrors.TypeTransientNetwork))

	state, ok := repo.GetLikeState(context.Background(), "u1", "t1").Value()
	require.True(t, ok)
	assert.False(t, state.IsLiked)

	depth, err := queue.Len()
	require.NoError(t, err)
	assert.Zero(t, depth, "transient failures are not queued")
}

func TestPermissionDeniedQueuesAndKeepsOptimisticState(t *testing.T) {
	backend := newFakeBackend()
	backend.denyWrites = true
	repo, queue := newTestRepository(t, backend, time.Millisecond)

	active, err := repo.ToggleLike(context.Background(), "u1", "t1")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.TypePermissionDenied))
	assert.True(t, active, "optimistic state survives a queued failure")

	ops, err := queue.List()
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "t1", ops[0].TemplateID)
	assert.Equal(t, "u1", ops[0].UserID)
	assert.Equal(t, domain.OpLike, ops[0].Op)
}

func TestStateSubjectSeedsFromBackendAndStreams(t *testing.T) {
	backend := newFakeBackend()
	backend.memberships[membershipKey("u1", "t1", domain.OpFavorite)] = true
	repo, _ := newTestRepository(t, backend, time.Millisecond)

	subject := repo.GetFavoriteState(context.Background(), "u1", "t1")
	assert.Eventually(t, func() bool {
		state, ok := subject.Value()
		return ok && state.IsFavorited
	}, time.Second, 5*time.Millisecond)

	// A remote change flows through the live listener.
	_, err := backend.Toggle(context.Background(), "u1", "t1", domain.OpFavorite)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		state, ok := subject.Value()
		return ok && !state.IsFavorited
	}, time.Second, 5*time.Millisecond)
}

func TestCountSubjectReflectsOtherUsers(t *testing.T) {
	backend := newFakeBackend()
	repo, _ := newTestRepository(t, backend, time.Millisecond)

	subject := repo.GetLikeCount(context.Background(), "t1")
	assert.Eventually(t, func() bool {
		_, ok := subject.Value()
		return ok
	}, time.Second, 5*time.Millisecond)

	_, err := backend.Toggle(context.Background(), "someone-else", "t1", domain.OpLike)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		counts, ok := subject.Value()
		return ok && counts.LikeCount == 1
	}, time.Second, 5*time.Millisecond)
}

func TestStateListenerSurvivesSubscriberContext(t *testing.T) {
	backend := newFakeBackend()
	repo, _ := newTestRepository(t, backend, time.Millisecond)

	reqCtx, cancel := context.WithCancel(context.Background())
	first := repo.GetLikeState(reqCtx, "u1", "t1")
	assert.Eventually(t, func() bool {
		_, ok := first.Value()
		return ok
	}, time.Second, 5*time.Millisecond)
	cancel()

	// A remote change after the first subscriber's context ends must
	// still reach the shared subject.
	subject := repo.GetLikeState(context.Background(), "u1", "t1")
	_, err := backend.Toggle(context.Background(), "u1", "t1", domain.OpLike)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		state, ok := subject.Value()
		return ok && state.IsLiked
	}, time.Second, 5*time.Millisecond)
}

func TestCountsListenerSurvivesSubscriberContext(t *testing.T) {
	backend := newFakeBackend()
	repo, _ := newTestRepository(t, backend, time.Millisecond)

	reqCtx, cancel := context.WithCancel(context.Background())
	first := repo.GetLikeCount(reqCtx, "t1")
	assert.Eventually(t, func() bool {
		_, ok := first.Value()
		return ok
	}, time.Second, 5*time.Millisecond)
	cancel()

	subject := repo.GetLikeCount(context.Background(), "t1")
	_, err := backend.Toggle(context.Background(), "someone-else", "t1", domain.OpLike)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		counts, ok := subject.Value()
		return ok && counts.LikeCount == 1
	}, time.Second, 5*time.Millisecond)
}

func TestCloseStopsBackendListeners(t *testing.T) {
	backend := newFakeBackend()
	repo, _ := newTestRepository(t, backend, time.Millisecond)

	subject := repo.GetLikeState(context.Background(), "u1", "t1")
	assert.Eventually(t, func() bool {
		_, ok := subject.Value()
		return ok
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, repo.Close())
	assert.Eventually(t, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return len(backend.stateSubs["u1/t1"]) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestEnsureTemplateExistsCreatesCounterDoc(t *testing.T) {
	backend := newFakeBackend()
	repo, _ := newTestRepository(t, backend, time.Millisecond)

	require.NoError(t, repo.EnsureTemplateExists(context.Background(), "t9"))
	counts, err := backend.GetCounts(context.Background(), "t9")
	require.NoError(t, err)
	assert.Zero(t, counts.LikeCount)
	assert.False(t, counts.LastUpdated.IsZero())
}
