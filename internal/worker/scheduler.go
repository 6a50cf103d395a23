package worker

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cwygoda/harvester/internal/domain"
	"github.com/cwygoda/harvester/internal/metrics"
)

// Skip reasons reported in FetchStats and metrics.
const (
	ReasonStatus    = "status"
	ReasonNotHTML   = "not_html"
	ReasonTooLarge  = "too_large"
	ReasonTimeout   = "timeout"
	ReasonCancelled = "cancelled"
	ReasonTransport = "transport"
)

// ProfilePicker chooses the header profile for one fetch.
type ProfilePicker interface {
	Pick() domain.HeaderProfile
}

// SchedulerConfig bounds the fetch scheduler.
type SchedulerConfig struct {
	Concurrency int
	JitterMin   time.Duration
	JitterMax   time.Duration
}

// FetchStats counts what the scheduler did with its addresses.
type FetchStats struct {
	Attempted int
	Succeeded int
	Skipped   map[string]int
}

// SkippedTotal sums skips over all reasons.
func (s FetchStats) SkippedTotal() int {
	n := 0
	for _, c := range s.Skipped {
		n += c
	}
	return n
}

// Scheduler fetches addresses with at most Concurrency fetches in flight.
type Scheduler struct {
	fetcher  domain.PageFetcher
	profiles ProfilePicker
	cfg      SchedulerConfig
	metrics  *metrics.Recorder
	logger   *slog.Logger
}

// NewScheduler creates a scheduler. rec may be nil.
func NewScheduler(fetcher domain.PageFetcher, profiles ProfilePicker, cfg SchedulerConfig, rec *metrics.Recorder, logger *slog.Logger) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		fetcher:  fetcher,
		profiles: profiles,
		cfg:      cfg,
		metrics:  rec,
		logger:   logger.With("component", "scheduler"),
	}
}

// Run fetches every address and sends each success to out. It returns once
// all launched tasks have finished; it does not close out. Cancelling ctx
// stops new launches and aborts tasks at their next wait.
func (s *Scheduler) Run(ctx context.Context, addresses []string, out chan<- domain.ScrapeResult) FetchStats {
	var (
		mu    sync.Mutex
		stats = FetchStats{Skipped: make(map[string]int)}
	)
	record := func(reason string) {
		mu.Lock()
		defer mu.Unlock()
		if reason == "" {
			stats.Succeeded++
			return
		}
		stats.Skipped[reason]++
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)

	for _, addr := range addresses {
		if ctx.Err() != nil {
			break
		}
		mu.Lock()
		stats.Attempted++
		mu.Unlock()

		// Blocks while Concurrency tasks are running.
		g.Go(func() error {
			record(s.fetchOne(ctx, addr, out))
			return nil
		})
	}
	_ = g.Wait()

	return stats
}

// fetchOne returns the skip reason, or "" when a result was queued.
func (s *Scheduler) fetchOne(ctx context.Context, addr string, out chan<- domain.ScrapeResult) string {
	s.metrics.FetchStarted()
	defer s.metrics.FetchFinished()

	if err := sleepCtx(ctx, s.jitter()); err != nil {
		s.metrics.FetchSkipped(ReasonCancelled)
		return ReasonCancelled
	}

	profile := s.profiles.Pick()
	res, err := s.fetcher.Fetch(ctx, addr, profile)
	if err != nil {
		reason := skipReason(err)
		s.metrics.FetchSkipped(reason)
		s.logger.Warn("fetch skipped", "address", addr, "reason", reason, "profile", profile.Name, "err", err)
		return reason
	}

	select {
	case out <- *res:
	case <-ctx.Done():
		s.metrics.FetchSkipped(ReasonCancelled)
		return ReasonCancelled
	}

	s.metrics.FetchSucceeded()
	s.logger.Debug("fetched", "address", addr, "bytes", len(res.Content), "profile", profile.Name)
	return ""
}

func (s *Scheduler) jitter() time.Duration {
	lo, hi := s.cfg.JitterMin, s.cfg.JitterMax
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func skipReason(err error) string {
	var se *domain.StatusError
	var ne net.Error
	switch {
	case errors.As(err, &se):
		return ReasonStatus
	case errors.Is(err, domain.ErrNotHTML):
		return ReasonNotHTML
	case errors.Is(err, domain.ErrBodyTooLarge):
		return ReasonTooLarge
	case errors.Is(err, context.Canceled):
		return ReasonCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.As(err, &ne) && ne.Timeout():
		return ReasonTimeout
	default:
		return ReasonTransport
	}
}
