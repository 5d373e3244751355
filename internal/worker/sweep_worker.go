package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/paymentvault/wallet-service/internal/observability"
	"github.com/paymentvault/wallet-service/internal/settlement"
)

// SweepWorker owns timeout detection, stale-claim recovery, and retry
// requeueing for settlement requests.
type SweepWorker struct {
	tracker   *settlement.Tracker
	interval  time.Duration
	batchSize int32
	stopCh    chan struct{}
	stopOnce  sync.Once
}

func NewSweepWorker(tracker *settlement.Tracker) *SweepWorker {
	return &SweepWorker{
		tracker:   tracker,
		interval:  15 * time.Second,
		batchSize: 100,
		stopCh:    make(chan struct{}),
	}
}

// WithInterval updates the sweep interval.
func (w *SweepWorker) WithInterval(interval time.Duration) *SweepWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// WithBatchSize updates the per-sweep scan size.
func (w *SweepWorker) WithBatchSize(size int32) *SweepWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start blocks and sweeps at the configured interval.
func (w *SweepWorker) Start(ctx context.Context) {
	zap.L().Info("sweep worker starting", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run once immediately at startup to recover anything left over
	// from a previous process.
	w.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("sweep worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("sweep worker stop signal received")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// Stop stops the running worker loop.
func (w *SweepWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *SweepWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// ProcessOnce runs a single sweep immediately.
func (w *SweepWorker) ProcessOnce(ctx context.Context) error {
	if _, err := w.tracker.SweepTimeouts(ctx, w.batchSize); err != nil {
		return err
	}
	_, err := w.tracker.SweepRetries(ctx, w.batchSize)
	return err
}

func (w *SweepWorker) runOnce(ctx context.Context) {
	timedOut, err := w.tracker.SweepTimeouts(ctx, w.batchSize)
	if err != nil {
		observability.IncrementWorkerRun("sweep", "failed")
		zap.L().Error("timeout sweep failed", zap.Error(err))
		return
	}
	requeued, err := w.tracker.SweepRetries(ctx, w.batchSize)
	if err != nil {
		observability.IncrementWorkerRun("sweep", "failed")
		zap.L().Error("retry sweep failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("sweep", "success")
	if timedOut > 0 || requeued > 0 {
		zap.L().Info("sweep run completed",
			zap.Int("timed_out", timedOut),
			zap.Int("requeued", requeued),
		)
	}
}
