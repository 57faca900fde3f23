// Package analytics reports product-level events emitted by the sync
// engine, such as interaction toggles and sync failures.
package analytics

import (
	"go.uber.org/zap"
)

// Emitter receives analytics events. Implementations must be safe for
// concurrent use.
type Emitter interface {
	Emit(event string, fields map[string]any)
}

// LogEmitter writes events to the structured log. Stands in for a
// real analytics pipeline.
type LogEmitter struct {
	logger *zap.Logger
}

// NewLogEmitter creates an emitter backed by logger.
func NewLogEmitter(logger *zap.Logger) *LogEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogEmitter{logger: logger.Named("analytics")}
}

func (e *LogEmitter) Emit(event string, fields map[string]any) {
	zfields := make([]zap.Field, 0, len(fields)+1)
	for k, v := range fields {
		zfields = append(zfields, zap.Any(k, v))
	}
	e.logger.Info(event, zfields...)
}

// Nop discards all events.
type Nop struct{}

func (Nop) Emit(string, map[string]any) {}
