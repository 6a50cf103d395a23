package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/cwygoda/harvester/internal/domain"
	"github.com/cwygoda/harvester/internal/metrics"
)

// Options configures a Coordinator.
type Options struct {
	// QueueSize is the result queue capacity. Zero means twice the batch size.
	QueueSize int
	Writer    WriterConfig
}

// Coordinator runs one ingestion pass: schema, dedup, fetch and persist.
type Coordinator struct {
	store     domain.PageStore
	svc       *domain.IngestService
	scheduler *Scheduler
	opts      Options
	metrics   *metrics.Recorder
	base      *slog.Logger // unscoped, handed to the writer
	logger    *slog.Logger
}

// NewCoordinator creates a coordinator. rec may be nil.
func NewCoordinator(store domain.PageStore, scheduler *Scheduler, opts Options, rec *metrics.Recorder, logger *slog.Logger) *Coordinator {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 2 * max(opts.Writer.BatchSize, 1)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:     store,
		svc:       domain.NewIngestService(store),
		scheduler: scheduler,
		opts:      opts,
		metrics:   rec,
		base:      logger,
		logger:    logger.With("component", "coordinator"),
	}
}

// Run ingests candidates. Store failures before fetching starts are returned
// wrapped in domain.ErrStoreUnavailable. Once fetching starts, Run always
// waits for the writer to drain the queue before returning.
func (c *Coordinator) Run(ctx context.Context, candidates []string) (domain.RunSummary, error) {
	start := time.Now()
	summary := domain.RunSummary{Candidates: len(candidates)}

	if err := c.svc.Prepare(ctx); err != nil {
		return summary, err
	}

	pending, err := c.svc.Pending(ctx, candidates)
	if err != nil {
		return summary, err
	}
	summary.Known = len(candidates) - len(pending)
	c.logger.Info("dedup complete", "candidates", len(candidates), "pending", len(pending))

	if len(pending) == 0 {
		summary.Elapsed = time.Since(start)
		c.logger.Info("nothing to fetch")
		return summary, nil
	}

	queue := make(chan domain.ScrapeResult, c.opts.QueueSize)
	writer := NewBatchWriter(c.store, c.opts.Writer, c.metrics, c.base)

	done := make(chan WriterStats, 1)
	go func() {
		done <- writer.Run(ctx, queue)
	}()

	fetched := c.scheduler.Run(ctx, pending, queue)
	// Every producer has returned; the writer drains what is left and exits.
	close(queue)
	written := <-done

	summary.Attempted = fetched.Attempted
	summary.Succeeded = fetched.Succeeded
	summary.Skipped = fetched.SkippedTotal()
	summary.Persisted = written.Persisted
	summary.Flushes = written.Flushes
	summary.FailedFlushes = written.FailedFlushes
	summary.Dropped = written.Dropped
	summary.Elapsed = time.Since(start)

	c.logger.Info("run complete",
		"attempted", summary.Attempted,
		"succeeded", summary.Succeeded,
		"skipped", summary.Skipped,
		"skip_reasons", fetched.Skipped,
		"persisted", summary.Persisted,
		"dropped", summary.Dropped,
		"elapsed", summary.Elapsed.Round(time.Millisecond),
		"rate", summary.Rate(),
	)
	return summary, ctx.Err()
}
