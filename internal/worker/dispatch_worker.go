package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/paymentvault/wallet-service/internal/observability"
	"github.com/paymentvault/wallet-service/internal/settlement"
)

// DispatchWorker hands claimed settlement requests to the provider.
// Safe for concurrent instances thanks to FOR UPDATE SKIP LOCKED.
type DispatchWorker struct {
	tracker      *settlement.Tracker
	pollInterval time.Duration
	batchSize    int32
	stopCh       chan struct{}
	stopOnce     sync.Once
}

func NewDispatchWorker(tracker *settlement.Tracker) *DispatchWorker {
	return &DispatchWorker{
		tracker:      tracker,
		pollInterval: 5 * time.Second,
		batchSize:    20,
		stopCh:       make(chan struct{}),
	}
}

// WithPollInterval updates the poll interval.
func (w *DispatchWorker) WithPollInterval(interval time.Duration) *DispatchWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

// WithBatchSize updates the per-tick claim size.
func (w *DispatchWorker) WithBatchSize(size int32) *DispatchWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start blocks and dispatches due requests at the configured interval.
func (w *DispatchWorker) Start(ctx context.Context) {
	zap.L().Info("dispatch worker starting",
		zap.Duration("interval", w.pollInterval),
		zap.Int32("batch", w.batchSize),
	)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("dispatch worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("dispatch worker stop signal received")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// Stop stops the running worker loop.
func (w *DispatchWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *DispatchWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// ProcessOnce runs a single dispatch batch immediately. Useful for
// tests and manual triggering.
func (w *DispatchWorker) ProcessOnce(ctx context.Context) (int, error) {
	return w.tracker.DispatchDue(ctx, w.batchSize)
}

func (w *DispatchWorker) runOnce(ctx context.Context) {
	n, err := w.tracker.DispatchDue(ctx, w.batchSize)
	if err != nil {
		observability.IncrementWorkerRun("dispatch", "failed")
		zap.L().Error("dispatch run failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("dispatch", "success")
	if n > 0 {
		zap.L().Info("dispatch run completed", zap.Int("dispatched", n))
	}
}
