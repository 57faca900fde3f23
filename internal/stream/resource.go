package stream

// State is the loading state carried by a Resource envelope.
type State string

const (
	StateLoading State = "LOADING"
	StateSuccess State = "SUCCESS"
	StateError   State = "ERROR"
)

// Resource wraps a value with its loading state, the staleness flag for
// cache-fallback results, and the failure when State is StateError.
type Resource[T any] struct {
	State State
	Data  T
	Stale bool
	// Warning carries the soft STALE_SERVED note attached when cached
	// data is served after a failed or skipped refresh.
	Warning string
	Err     error
}

// Loading builds the initial envelope of every load sequence.
func Loading[T any]() Resource[T] {
	return Resource[T]{State: StateLoading}
}

// Success builds a fresh successful envelope.
func Success[T any](data T) Resource[T] {
	return Resource[T]{State: StateSuccess, Data: data}
}

// StaleSuccess builds a successful envelope served from cache after a
// failed or skipped refresh.
func StaleSuccess[T any](data T, warning string) Resource[T] {
	return Resource[T]{State: StateSuccess, Data: data, Stale: true, Warning: warning}
}

// Failure builds a terminal error envelope.
func Failure[T any](err error) Resource[T] {
	return Resource[T]{State: StateError, Err: err}
}

// IsTerminal reports whether the envelope ends a load sequence.
func (r Resource[T]) IsTerminal() bool {
	return r.State != StateLoading
}
