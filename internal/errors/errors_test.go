package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderProducesClassifiedError(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := New(TypeTransientNetwork, "fetch failed").
		WithOperation("loadResource").
		WithResource("template:t1").
		WithCause(cause).
		Retryable(2 * time.Second).
		Build()

	assert.Equal(t, TypeTransientNetwork, err.Type)
	assert.Equal(t, "loadResource", err.Operation)
	assert.Equal(t, "template:t1", err.ResourceRef)
	assert.True(t, err.Retryable)
	assert.Equal(t, 2*time.Second, err.RetryAfter)
	assert.True(t, stderrors.Is(err, cause))
}

func TestErrorMessageFormat(t *testing.T) {
	err := New(TypeServerError, "bad gateway").WithDetails("status %d", 502).Build()
	assert.Equal(t, "[SERVER_ERROR] bad gateway: status 502", err.Error())

	plain := New(TypeOffline, "offline").Build()
	assert.Equal(t, "[OFFLINE] offline", plain.Error())
}

func TestTypeOf(t *testing.T) {
	err := UnsupportedType("gizmo")
	assert.Equal(t, TypeUnsupportedType, TypeOf(err))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.Equal(t, TypeUnsupportedType, TypeOf(wrapped))

	assert.Equal(t, TypeInternal, TypeOf(stderrors.New("anonymous")))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(Transient("fetch", stderrors.New("timeout"))))
	assert.False(t, IsRetryable(Server(500, "boom")))
	assert.False(t, IsRetryable(stderrors.New("plain")))
}

func TestDefaultSeverities(t *testing.T) {
	assert.Equal(t, SeverityLow, New(TypeStaleServed, "stale").Build().Severity)
	assert.Equal(t, SeverityHigh, UnsupportedType("x").Severity)
	assert.Equal(t, SeverityMedium, Offline("template:t1").Severity)
}

func TestServerFallbackMessage(t *testing.T) {
	err := Server(503, "")
	require.Contains(t, err.Message, "503")
}
