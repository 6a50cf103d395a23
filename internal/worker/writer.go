package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/cwygoda/harvester/internal/domain"
	"github.com/cwygoda/harvester/internal/metrics"
)

// WriterConfig sets the batch writer's flush triggers.
type WriterConfig struct {
	BatchSize int
	IdleFlush time.Duration
}

// WriterStats counts what the batch writer persisted.
type WriterStats struct {
	Received      int
	Persisted     int64
	Flushes       int
	FailedFlushes int
	Dropped       int
}

// BatchWriter is the single consumer of the result queue.
type BatchWriter struct {
	store   domain.PageStore
	cfg     WriterConfig
	metrics *metrics.Recorder
	logger  *slog.Logger
	stats   WriterStats
}

// NewBatchWriter creates a writer. rec may be nil.
func NewBatchWriter(store domain.PageStore, cfg WriterConfig, rec *metrics.Recorder, logger *slog.Logger) *BatchWriter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.IdleFlush <= 0 {
		cfg.IdleFlush = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchWriter{
		store:   store,
		cfg:     cfg,
		metrics: rec,
		logger:  logger.With("component", "writer"),
	}
}

// Run consumes in until it is closed. A batch is flushed when it reaches
// BatchSize or when IdleFlush passes without a new item; whatever remains
// when in closes is flushed before returning. Flushes run on a context
// detached from ctx's cancellation so a drain after shutdown still persists.
func (w *BatchWriter) Run(ctx context.Context, in <-chan domain.ScrapeResult) WriterStats {
	flushCtx := context.WithoutCancel(ctx)
	w.logger.Info("writer started", "batch_size", w.cfg.BatchSize, "idle_flush", w.cfg.IdleFlush)

	batch := make([]domain.ScrapeResult, 0, w.cfg.BatchSize)
	idle := time.NewTimer(w.cfg.IdleFlush)
	idle.Stop()
	defer idle.Stop()

	for {
		select {
		case res, ok := <-in:
			if !ok {
				if len(batch) > 0 {
					w.flush(flushCtx, batch)
				}
				w.logger.Info("writer drained", "persisted", w.stats.Persisted, "flushes", w.stats.Flushes)
				return w.stats
			}
			w.stats.Received++
			w.metrics.QueueDepth(len(in))

			batch = append(batch, res)
			if len(batch) >= w.cfg.BatchSize {
				idle.Stop()
				w.flush(flushCtx, batch)
				batch = make([]domain.ScrapeResult, 0, w.cfg.BatchSize)
				continue
			}
			idle.Reset(w.cfg.IdleFlush)

		case <-idle.C:
			if len(batch) > 0 {
				w.flush(flushCtx, batch)
				batch = make([]domain.ScrapeResult, 0, w.cfg.BatchSize)
			}
		}
	}
}

func (w *BatchWriter) flush(ctx context.Context, batch []domain.ScrapeResult) {
	start := time.Now()
	inserted, err := w.store.InsertIgnore(ctx, batch)
	if err != nil {
		w.stats.FailedFlushes++
		w.stats.Dropped += len(batch)
		w.metrics.FlushFailed(len(batch))
		w.logger.Error("flush failed, batch dropped", "size", len(batch), "err", err)
		return
	}

	w.stats.Flushes++
	w.stats.Persisted += inserted
	w.metrics.Flushed(len(batch), inserted)
	w.logger.Info("flushed batch", "size", len(batch), "inserted", inserted, "took", time.Since(start))
}
