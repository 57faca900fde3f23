package interaction

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "eventwish-sync/internal/domain/interaction"
	apperrors "eventwish-sync/internal/errors"
)

// counter field names on the template doc, keyed by operation.
var counterFields = map[domain.Op]string{
	domain.OpLike:     "likeCount",
	domain.OpFavorite: "favoriteCount",
}

// membership sub-collection names under the user doc.
var subCollections = map[domain.Op]string{
	domain.OpLike:     "likes",
	domain.OpFavorite: "favorites",
}

// FirestoreBackend implements Backend against Cloud Firestore.
//
// Document layout:
//
//	{templates}/{templateId}: {likeCount, favoriteCount, lastUpdated}
//	{users}/{userId}/likes/{templateId}
//	{users}/{userId}/favorites/{templateId}
type FirestoreBackend struct {
	client       *firestore.Client
	templatesCol string
	usersCol     string
	logger       *zap.Logger
}

var _ Backend = (*FirestoreBackend)(nil)

// NewFirestoreBackend wraps a Firestore client. Empty collection
// names fall back to "templates" and "users".
func NewFirestoreBackend(client *firestore.Client, templatesCol, usersCol string, logger *zap.Logger) *FirestoreBackend {
	if templatesCol == "" {
		templatesCol = "templates"
	}
	if usersCol == "" {
		usersCol = "users"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FirestoreBackend{
		client:       client,
		templatesCol: templatesCol,
		usersCol:     usersCol,
		logger:       logger,
	}
}

func (b *FirestoreBackend) templateDoc(templateID string) *firestore.DocumentRef {
	return b.client.Collection(b.templatesCol).Doc(templateID)
}

func (b *FirestoreBackend) membershipDoc(userID, templateID string, op domain.Op) *firestore.DocumentRef {
	return b.client.Collection(b.usersCol).Doc(userID).Collection(subCollections[op]).Doc(templateID)
}

// Toggle runs the membership flip and counter adjustment in a single
// transaction. The counter floors at zero so interleaved removals can
// never drive it negative.
func (b *FirestoreBackend) Toggle(ctx context.Context, userID, templateID string, op domain.Op) (bool, error) {
	templateRef := b.templateDoc(templateID)
	memberRef := b.membershipDoc(userID, templateID, op)
	field := counterFields[op]

	var nowActive bool
	err := b.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		memberSnap, err := tx.Get(memberRef)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		wasActive := err == nil && memberSnap.Exists()

		templateSnap, err := tx.Get(templateRef)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		var current int64
		if err == nil && templateSnap.Exists() {
			if raw, err := templateSnap.DataAt(field); err == nil {
				if n, ok := raw.(int64); ok {
					current = n
				}
			}
		}

		if wasActive {
			if err := tx.Delete(memberRef); err != nil {
				return err
			}
			current--
			if current < 0 {
				current = 0
			}
			nowActive = false
		} else {
			if err := tx.Set(memberRef, map[string]any{
				"templateId": templateID,
				"createdAt":  firestore.ServerTimestamp,
			}); err != nil {
				return err
			}
			current++
			nowActive = true
		}

		return tx.Set(templateRef, map[string]any{
			field:         current,
			"lastUpdated": firestore.ServerTimestamp,
		}, firestore.MergeAll)
	})
	if err != nil {
		return false, classifyFirestoreError(err, string(op), templateID)
	}
	return nowActive, nil
}

// EnsureTemplateExists creates the counter doc with zeroed counters
// when it does not exist yet.
func (b *FirestoreBackend) EnsureTemplateExists(ctx context.Context, templateID string) error {
	ref := b.templateDoc(templateID)
	err := b.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil && snap.Exists() {
			return nil
		}
		return tx.Set(ref, map[string]any{
			"likeCount":     int64(0),
			"favoriteCount": int64(0),
			"lastUpdated":   firestore.ServerTimestamp,
		})
	})
	if err != nil {
		return classifyFirestoreError(err, "ensure_template", templateID)
	}
	return nil
}

func (b *FirestoreBackend) GetState(ctx context.Context, userID, templateID string) (domain.State, error) {
	state := domain.State{TemplateID: templateID}
	for _, op := range []domain.Op{domain.OpLike, domain.OpFavorite} {
		snap, err := b.membershipDoc(userID, templateID, op).Get(ctx)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				continue
			}
			return domain.State{}, classifyFirestoreError(err, "get_state", templateID)
		}
		if snap.Exists() {
			if op == domain.OpLike {
				state.IsLiked = true
			} else {
				state.IsFavorited = true
			}
		}
	}
	return state, nil
}

func (b *FirestoreBackend) GetCounts(ctx context.Context, templateID string) (domain.Counts, error) {
	snap, err := b.templateDoc(templateID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return domain.Counts{}, nil
		}
		return domain.Counts{}, classifyFirestoreError(err, "get_counts", templateID)
	}
	return countsFromSnapshot(snap), nil
}

// ObserveCounts streams counter updates from a snapshot listener.
func (b *FirestoreBackend) ObserveCounts(ctx context.Context, templateID string) (<-chan domain.Counts, error) {
	out := make(chan domain.Counts, 16)
	iter := b.templateDoc(templateID).Snapshots(ctx)

	go func() {
		defer close(out)
		defer iter.Stop()
		for {
			snap, err := iter.Next()
			if err != nil {
				if ctx.Err() == nil {
					b.logger.Warn("counts listener stopped",
						zap.String("template_id", templateID), zap.Error(err))
				}
				return
			}
			var counts domain.Counts
			if snap.Exists() {
				counts = countsFromSnapshot(snap)
			}
			select {
			case out <- counts:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// ObserveState merges the two membership listeners into one stream.
func (b *FirestoreBackend) ObserveState(ctx context.Context, userID, templateID string) (<-chan domain.State, error) {
	out := make(chan domain.State, 16)
	likeIter := b.membershipDoc(userID, templateID, domain.OpLike).Snapshots(ctx)
	favIter := b.membershipDoc(userID, templateID, domain.OpFavorite).Snapshots(ctx)

	updates := make(chan func(*domain.State), 16)

	listen := func(iter *firestore.DocumentSnapshotIterator, apply func(*domain.State, bool)) {
		defer iter.Stop()
		for {
			snap, err := iter.Next()
			if err != nil {
				if ctx.Err() == nil {
					b.logger.Warn("state listener stopped",
						zap.String("template_id", templateID), zap.Error(err))
				}
				return
			}
			exists := snap.Exists()
			select {
			case updates <- func(s *domain.State) { apply(s, exists) }:
			case <-ctx.Done():
				return
			}
		}
	}

	go listen(likeIter, func(s *domain.State, exists bool) { s.IsLiked = exists })
	go listen(favIter, func(s *domain.State, exists bool) { s.IsFavorited = exists })

	go func() {
		defer close(out)
		state := domain.State{TemplateID: templateID}
		for {
			select {
			case apply := <-updates:
				apply(&state)
				select {
				case out <- state:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func countsFromSnapshot(snap *firestore.DocumentSnapshot) domain.Counts {
	var counts domain.Counts
	if raw, err := snap.DataAt("likeCount"); err == nil {
		if n, ok := raw.(int64); ok {
			counts.LikeCount = n
		}
	}
	if raw, err := snap.DataAt("favoriteCount"); err == nil {
		if n, ok := raw.(int64); ok {
			counts.FavoriteCount = n
		}
	}
	counts.LastUpdated = snap.UpdateTime
	return counts
}

// classifyFirestoreError maps gRPC status codes into the engine's
// error taxonomy. Permission failures take the retry-queue path;
// unavailability is retryable.
func classifyFirestoreError(err error, op, templateID string) error {
	ref := fmt.Sprintf("template:%s", templateID)
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated:
		return apperrors.New(apperrors.TypePermissionDenied, "interaction write denied").
			WithOperation(op).
			WithResource(ref).
			WithCause(err).
			Build()
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return apperrors.New(apperrors.TypeTransientNetwork, "interaction backend unavailable").
			WithOperation(op).
			WithResource(ref).
			WithCause(err).
			Retryable(0).
			Build()
	default:
		return apperrors.New(apperrors.TypeInternal, "interaction backend error").
			WithOperation(op).
			WithResource(ref).
			WithCause(err).
			Build()
	}
}
