package worker

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwygoda/harvester/internal/domain"
)

func newTestCoordinator(store domain.PageStore, f domain.PageFetcher, c, n int) *Coordinator {
	s := NewScheduler(f, testPicker, SchedulerConfig{Concurrency: c}, nil, nil)
	return NewCoordinator(store, s, Options{Writer: WriterConfig{BatchSize: n, IdleFlush: 20 * time.Millisecond}}, nil, nil)
}

func TestCoordinator_Run(t *testing.T) {
	store := newMemStore()
	f := &stubFetcher{delay: time.Millisecond}
	c := newTestCoordinator(store, f, 10, 7)

	summary, err := c.Run(context.Background(), addresses(30))
	require.NoError(t, err)

	assert.Equal(t, 30, summary.Candidates)
	assert.Zero(t, summary.Known)
	assert.Equal(t, 30, summary.Attempted)
	assert.Equal(t, 30, summary.Succeeded)
	assert.EqualValues(t, 30, summary.Persisted)
	assert.Positive(t, summary.Elapsed)
	assert.Equal(t, 30, store.rowCount())
	for _, size := range store.batchSizes() {
		assert.LessOrEqual(t, size, 7)
	}
}

func TestCoordinator_WriterLogsCarryOwnComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	s := NewScheduler(&stubFetcher{}, testPicker, SchedulerConfig{Concurrency: 2}, nil, nil)
	c := NewCoordinator(newMemStore(), s, Options{Writer: WriterConfig{BatchSize: 2, IdleFlush: 20 * time.Millisecond}}, nil, logger)

	_, err := c.Run(context.Background(), addresses(4))
	require.NoError(t, err)

	var writerLines int
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if !strings.Contains(line, "component=writer") {
			continue
		}
		writerLines++
		assert.NotContains(t, line, "component=coordinator", line)
	}
	assert.Positive(t, writerLines)
	assert.Contains(t, buf.String(), "component=coordinator")
}

func TestCoordinator_NothingPending(t *testing.T) {
	addrs := addresses(5)
	store := newMemStore(addrs...)
	f := &stubFetcher{}
	c := newTestCoordinator(store, f, 2, 2)

	summary, err := c.Run(context.Background(), addrs)
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Known)
	assert.Zero(t, summary.Attempted)
	assert.Zero(t, f.calls.Load())
	assert.Empty(t, store.batchSizes())
}

func TestCoordinator_NoCandidates(t *testing.T) {
	store := newMemStore()
	c := newTestCoordinator(store, &stubFetcher{}, 2, 2)

	summary, err := c.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, summary.Attempted)
}

func TestCoordinator_StoreUnavailable(t *testing.T) {
	store := newMemStore()
	store.schemaErr = errors.New("dial tcp: connection refused")
	f := &stubFetcher{}
	c := newTestCoordinator(store, f, 2, 2)

	_, err := c.Run(context.Background(), addresses(3))
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Zero(t, f.calls.Load())
}

func TestCoordinator_SecondRunFetchesNothing(t *testing.T) {
	store := newMemStore()
	addrs := addresses(12)

	first := &stubFetcher{}
	_, err := newTestCoordinator(store, first, 4, 5).Run(context.Background(), addrs)
	require.NoError(t, err)
	require.Equal(t, 12, store.rowCount())

	second := &stubFetcher{}
	summary, err := newTestCoordinator(store, second, 4, 5).Run(context.Background(), addrs)
	require.NoError(t, err)

	assert.Zero(t, second.calls.Load())
	assert.Equal(t, 12, summary.Known)
	assert.Equal(t, 12, store.rowCount())
}

func TestCoordinator_DrainsQueuedResultsOnCancel(t *testing.T) {
	store := newMemStore()
	ctx, cancel := context.WithCancel(context.Background())

	var fetched int
	f := &stubFetcher{fn: func(_ context.Context, addr string) (*domain.ScrapeResult, error) {
		fetched++
		if fetched == 10 {
			cancel()
		}
		return &domain.ScrapeResult{Address: addr, Content: "<html></html>"}, nil
	}}
	// Concurrency 1 keeps fn serial and the queue large enough to never block.
	s := NewScheduler(f, testPicker, SchedulerConfig{Concurrency: 1}, nil, nil)
	c := NewCoordinator(store, s, Options{QueueSize: 100, Writer: WriterConfig{BatchSize: 1000, IdleFlush: time.Hour}}, nil, nil)

	summary, err := c.Run(ctx, addresses(50))
	assert.ErrorIs(t, err, context.Canceled)

	// Every result that reached the queue is persisted by the final flush.
	assert.EqualValues(t, summary.Succeeded, summary.Persisted)
	assert.Equal(t, summary.Succeeded, store.rowCount())
	assert.Less(t, summary.Attempted, 50)
}

func TestNewCoordinator_DefaultQueueSize(t *testing.T) {
	c := NewCoordinator(newMemStore(), nil, Options{Writer: WriterConfig{BatchSize: 100}}, nil, nil)
	assert.Equal(t, 200, c.opts.QueueSize)
}
