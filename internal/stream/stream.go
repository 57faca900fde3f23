// Package stream provides the observable value abstraction used by the
// repositories: a Subject holds a current value, replays it
// synchronously to new subscribers, and pushes every subsequent update.
// It is the engine's replacement for platform observer types, kept
// deliberately small: no operators, just replay-then-push.
package stream

import (
	"context"
	"sync"
)

// subscriberBuffer bounds each subscriber channel. When a subscriber
// falls behind, the oldest buffered value is dropped so the latest
// value is always deliverable.
const subscriberBuffer = 16

// Subject is a concurrency-safe observable container for values of T.
type Subject[T any] struct {
	mu       sync.Mutex
	current  T
	hasValue bool
	closed   bool
	nextID   int
	subs     map[int]chan T
}

// NewSubject creates an empty Subject.
func NewSubject[T any]() *Subject[T] {
	return &Subject[T]{subs: make(map[int]chan T)}
}

// NewSubjectOf creates a Subject seeded with an initial value.
func NewSubjectOf[T any](initial T) *Subject[T] {
	s := NewSubject[T]()
	s.Publish(initial)
	return s
}

// Publish stores v as the current value and pushes it to every
// subscriber. Slow subscribers lose their oldest buffered value rather
// than blocking the publisher.
func (s *Subject[T]) Publish(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.current = v
	s.hasValue = true
	for _, ch := range s.subs {
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}

// Value returns the current value and whether one has been published.
func (s *Subject[T]) Value() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.hasValue
}

// Subscribe registers a new observer. The current value, if any, is
// delivered first; the channel is closed when ctx is done or the
// Subject is closed.
func (s *Subject[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, subscriberBuffer)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	if s.hasValue {
		ch <- s.current
	}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
		s.mu.Unlock()
	}()

	return ch
}

// Close terminates the Subject and closes all subscriber channels.
// Publishing after Close is a no-op.
func (s *Subject[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

// Await blocks until a value satisfying pred arrives on the Subject or
// ctx is done. It is intended for call sites that need exactly one
// terminal value out of an asynchronous sequence, composed without any
// latch-style blocking inside the repositories themselves.
func Await[T any](ctx context.Context, s *Subject[T], pred func(T) bool) (T, error) {
	sub, cancel := context.WithCancel(ctx)
	defer cancel()
	ch := s.Subscribe(sub)
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				var zero T
				return zero, ctx.Err()
			}
			if pred(v) {
				return v, nil
			}
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}
