package interaction

import (
	"context"
	"time"

	"go.uber.org/zap"

	"eventwish-sync/internal/analytics"
	"eventwish-sync/internal/config"
	domain "eventwish-sync/internal/domain/interaction"
	apperrors "eventwish-sync/internal/errors"
	"eventwish-sync/internal/metrics"
	"eventwish-sync/internal/repository"
)

// Worker drains the pending-operation queue. It only runs while the
// network is reachable and backs off exponentially per operation.
// Operations that exhaust their attempts stay queued; a later
// online-transition drain gives them a fresh window.
type Worker struct {
	backend Backend
	queue   Queue
	conn    Online
	emitter analytics.Emitter
	metrics *metrics.Collector
	cfg     config.SyncConfig
	retry   repository.RetryConfig
	logger  *zap.Logger
	clock   func() time.Time
}

// NewWorker wires a retry worker.
func NewWorker(backend Backend, queue Queue, conn Online, emitter analytics.Emitter, collector *metrics.Collector, cfg config.SyncConfig, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = analytics.Nop{}
	}
	if collector == nil {
		collector = metrics.NewCollector("eventwish_worker_test")
	}
	if cfg.RetryInitialDelay <= 0 {
		cfg.RetryInitialDelay = time.Second
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 5 * time.Minute
	}
	if cfg.RetryMaxAttempts <= 0 {
		cfg.RetryMaxAttempts = 8
	}
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = 30 * time.Second
	}
	return &Worker{
		backend: backend,
		queue:   queue,
		conn:    conn,
		emitter: emitter,
		metrics: collector,
		cfg:     cfg,
		retry: repository.RetryConfig{
			MaxAttempts:   cfg.RetryMaxAttempts,
			BaseDelay:     cfg.RetryInitialDelay,
			MaxDelay:      cfg.RetryMaxDelay,
			BackoffFactor: 2.0,
			JitterFactor:  0.1,
		},
		logger: logger,
		clock:  time.Now,
	}
}

// Run drains the queue on an interval until ctx is done. It tracks
// offline-to-online transitions and resets exhausted operations on
// each one.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.DrainInterval)
	defer ticker.Stop()

	wasOnline := w.conn.Online()
	for {
		select {
		case <-ticker.C:
			online := w.conn.Online()
			if online && !wasOnline {
				w.Drain(ctx, true)
			} else if online {
				w.Drain(ctx, false)
			}
			wasOnline = online
		case <-ctx.Done():
			return
		}
	}
}

// Drain attempts every eligible queued operation once. With
// freshWindow set, operations that exhausted their attempts are
// retried as well, with their counters reset.
func (w *Worker) Drain(ctx context.Context, freshWindow bool) {
	if !w.conn.Online() {
		return
	}
	ops, err := w.queue.List()
	if err != nil {
		w.logger.Warn("listing pending operations failed", zap.Error(err))
		return
	}

	now := w.clock()
	for _, op := range ops {
		if ctx.Err() != nil {
			return
		}
		exhausted := op.Attempts >= w.cfg.RetryMaxAttempts
		if exhausted && !freshWindow {
			continue
		}
		if exhausted && freshWindow {
			op.Attempts = 0
			op.NextAttemptAt = time.Time{}
		}
		if !op.NextAttemptAt.IsZero() && now.Before(op.NextAttemptAt) {
			continue
		}
		w.attempt(ctx, op)
	}
	w.updateQueueDepth()
}

func (w *Worker) attempt(ctx context.Context, op domain.PendingOp) {
	w.metrics.SyncRetries.Inc()

	_, err := w.backend.Toggle(ctx, op.UserID, op.TemplateID, op.Op)
	if err == nil {
		if derr := w.queue.Delete(op); derr != nil {
			w.logger.Warn("removing completed pending operation failed", zap.Error(derr))
			return
		}
		w.emitter.Emit("pending_operation_applied", map[string]any{
			"template_id": op.TemplateID,
			"operation":   string(op.Op),
			"attempts":    op.Attempts + 1,
		})
		w.logger.Info("pending operation applied",
			zap.String("id", op.ID),
			zap.String("template_id", op.TemplateID),
			zap.String("op", string(op.Op)))
		return
	}

	op.Attempts++
	op.LastError = err.Error()
	op.NextAttemptAt = w.clock().Add(w.retry.Delay(op.Attempts - 1))
	if uerr := w.queue.Update(op); uerr != nil {
		w.logger.Warn("updating pending operation failed", zap.Error(uerr))
	}

	w.metrics.SyncFailures.WithLabelValues(string(apperrors.TypeOf(err))).Inc()
	w.logger.Debug("pending operation retry failed",
		zap.String("id", op.ID),
		zap.Int("attempts", op.Attempts),
		zap.Error(err))
}

func (w *Worker) updateQueueDepth() {
	if depth, err := w.queue.Len(); err == nil {
		w.metrics.PendingQueueDepth.Set(float64(depth))
	}
}
