// Package pending persists interaction operations that could not be
// applied to the backend, typically while signed out or offline. The
// retry worker drains this queue once the blocking condition clears.
package pending

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"eventwish-sync/internal/domain/interaction"
)

// ErrNotFound is returned when no pending operation has the given ID.
var ErrNotFound = errors.New("pending operation not found")

// Store is a Pebble-backed durable queue of pending operations. Keys
// are ordered by creation time so a scan drains oldest-first.
type Store struct {
	db     *pebble.DB
	path   string
	logger *zap.Logger
}

// Open opens the queue at path, creating it when absent.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := pebble.Open(path, &pebble.Options{
		Logger: &pebbleLogger{logger},
	})
	if err != nil {
		return nil, fmt.Errorf("pebble open %s: %w", path, err)
	}
	logger.Info("pending operation queue opened", zap.String("path", path))
	return &Store{db: db, path: path, logger: logger}, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// queueKey orders entries by creation time, with the ID as a
// tiebreaker for operations created in the same millisecond.
func queueKey(op interaction.PendingOp) []byte {
	return []byte(fmt.Sprintf("%020d/%s", op.CreatedAt.UTC().UnixMilli(), op.ID))
}

// Enqueue appends an operation to the queue.
func (s *Store) Enqueue(op interaction.PendingOp) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("marshal pending op: %w", err)
	}
	if err := s.db.Set(queueKey(op), data, pebble.Sync); err != nil {
		return fmt.Errorf("pebble set: %w", err)
	}
	s.logger.Debug("enqueued pending operation",
		zap.String("id", op.ID),
		zap.String("template_id", op.TemplateID),
		zap.String("op", string(op.Op)))
	return nil
}

// List returns all pending operations, oldest first.
func (s *Store) List() ([]interaction.PendingOp, error) {
	iter, err := s.db.NewIter(nil)
	if err != nil {
		return nil, fmt.Errorf("pebble iter: %w", err)
	}
	defer iter.Close()

	var ops []interaction.PendingOp
	for iter.First(); iter.Valid(); iter.Next() {
		var op interaction.PendingOp
		if err := json.Unmarshal(iter.Value(), &op); err != nil {
			s.logger.Warn("skipping undecodable pending operation",
				zap.ByteString("key", iter.Key()), zap.Error(err))
			continue
		}
		ops = append(ops, op)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("pebble iter: %w", err)
	}
	return ops, nil
}

// Update overwrites an operation in place, preserving its queue
// position. Used to record attempt counts and last errors.
func (s *Store) Update(op interaction.PendingOp) error {
	key := queueKey(op)
	if _, closer, err := s.db.Get(key); err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("pebble get: %w", err)
	} else {
		closer.Close()
	}
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("marshal pending op: %w", err)
	}
	if err := s.db.Set(key, data, pebble.Sync); err != nil {
		return fmt.Errorf("pebble set: %w", err)
	}
	return nil
}

// Delete removes an operation from the queue.
func (s *Store) Delete(op interaction.PendingOp) error {
	if err := s.db.Delete(queueKey(op), pebble.Sync); err != nil {
		return fmt.Errorf("pebble delete: %w", err)
	}
	return nil
}

// DeleteOlderThan removes operations created before cutoff and
// returns the count removed. Keeps the queue from growing without
// bound when an account never regains write access.
func (s *Store) DeleteOlderThan(cutoff time.Time) (int, error) {
	ops, err := s.List()
	if err != nil {
		return 0, err
	}
	batch := s.db.NewBatch()
	defer batch.Close()

	removed := 0
	for _, op := range ops {
		if op.CreatedAt.Before(cutoff) {
			if err := batch.Delete(queueKey(op), nil); err != nil {
				return 0, err
			}
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, err
	}
	s.logger.Info("dropped aged pending operations", zap.Int("count", removed))
	return removed, nil
}

// Len returns the number of queued operations.
func (s *Store) Len() (int, error) {
	iter, err := s.db.NewIter(nil)
	if err != nil {
		return 0, fmt.Errorf("pebble iter: %w", err)
	}
	defer iter.Close()

	count := 0
	for iter.First(); iter.Valid(); iter.Next() {
		count++
	}
	return count, iter.Error()
}

// pebbleLogger adapts zap.Logger to the pebble.Logger interface.
type pebbleLogger struct {
	z *zap.Logger
}

func (l *pebbleLogger) Infof(format string, args ...any) {
	l.z.Sugar().Infof(format, args...)
}

func (l *pebbleLogger) Fatalf(format string, args ...any) {
	l.z.Sugar().Fatalf(format, args...)
}
