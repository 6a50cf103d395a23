package domain

import (
	"fmt"
	"time"
)

// ScrapeResult is a successfully fetched page awaiting persistence.
type ScrapeResult struct {
	Address   string
	Content   string
	FetchedAt time.Time
}

// PersistedRecord is a page row as read back from the store.
type PersistedRecord struct {
	Address string
	Content string
}

// HeaderProfile is one client identity sent with a fetch.
type HeaderProfile struct {
	Name    string
	Headers map[string]string
}

// StatusError reports a non-success HTTP status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// RunSummary aggregates the counters of one pipeline run.
type RunSummary struct {
	Candidates int
	Known      int
	Attempted  int
	Succeeded  int
	Skipped    int

	Persisted     int64
	Flushes       int
	FailedFlushes int
	Dropped       int

	Elapsed time.Duration
}

// Rate returns attempted addresses per second.
func (s RunSummary) Rate() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Attempted) / s.Elapsed.Seconds()
}
