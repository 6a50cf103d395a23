package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cwygoda/harvester/internal/domain"
)

// stubFetcher counts concurrent entries and delegates to fn.
type stubFetcher struct {
	fn       func(ctx context.Context, addr string) (*domain.ScrapeResult, error)
	delay    time.Duration
	calls    atomic.Int64
	inFlight atomic.Int64
	maxSeen  atomic.Int64

	mu       sync.Mutex
	profiles []string
}

func (f *stubFetcher) Fetch(ctx context.Context, addr string, p domain.HeaderProfile) (*domain.ScrapeResult, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	f.mu.Lock()
	f.profiles = append(f.profiles, p.Name)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fn != nil {
		return f.fn(ctx, addr)
	}
	return &domain.ScrapeResult{Address: addr, Content: "<html>" + addr + "</html>", FetchedAt: time.Now()}, nil
}

type fixedPicker struct{ p domain.HeaderProfile }

func (f fixedPicker) Pick() domain.HeaderProfile { return f.p }

var testPicker = fixedPicker{p: domain.HeaderProfile{Name: "test", Headers: map[string]string{"User-Agent": "test"}}}

// memStore is a concurrency-safe in-memory PageStore.
type memStore struct {
	mu        sync.Mutex
	rows      map[string]string
	batches   []int
	flushedAt []time.Time
	ctxErrs   []error

	schemaErr error
	failNext  int
}

func newMemStore(addrs ...string) *memStore {
	m := &memStore{rows: make(map[string]string)}
	for _, a := range addrs {
		m.rows[a] = "stored"
	}
	return m
}

func (m *memStore) EnsureSchema(ctx context.Context) error { return m.schemaErr }

func (m *memStore) ExistingAddresses(ctx context.Context) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]struct{}, len(m.rows))
	for a := range m.rows {
		out[a] = struct{}{}
	}
	return out, nil
}

func (m *memStore) InsertIgnore(ctx context.Context, batch []domain.ScrapeResult) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, len(batch))
	m.flushedAt = append(m.flushedAt, time.Now())
	m.ctxErrs = append(m.ctxErrs, ctx.Err())
	if m.failNext > 0 {
		m.failNext--
		return 0, errStoreDown
	}
	var n int64
	for _, r := range batch {
		if _, ok := m.rows[r.Address]; ok {
			continue
		}
		m.rows[r.Address] = r.Content
		n++
	}
	return n, nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) batchSizes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.batches...)
}

func (m *memStore) rowCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

var errStoreDown = errors.New("store down")

func addresses(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("https://site%d.test", i)
	}
	return out
}
