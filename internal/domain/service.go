package domain

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrNotHTML          = errors.New("content is not HTML")
	ErrBodyTooLarge     = errors.New("body exceeds size limit")
	ErrNoCandidates     = errors.New("no candidate addresses")
	ErrInvalidTable     = errors.New("invalid table name")
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ValidTableName reports whether name is safe to interpolate into SQL.
// A single schema qualifier ("vectors.vectors_data") is allowed.
func ValidTableName(name string) bool {
	return tableNamePattern.MatchString(name)
}

// IngestService owns the store-facing steps of a run.
type IngestService struct {
	store PageStore
}

// NewIngestService creates a new IngestService.
func NewIngestService(store PageStore) *IngestService {
	return &IngestService{store: store}
}

// Prepare makes sure the page table exists.
func (s *IngestService) Prepare(ctx context.Context) error {
	if err := s.store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("%w: ensure schema: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// Pending returns the candidates not yet present in the store, in candidate
// order and without repeats. It issues a single key scan; a store error is
// returned rather than falling back to the unfiltered list.
func (s *IngestService) Pending(ctx context.Context, candidates []string) ([]string, error) {
	known, err := s.store.ExistingAddresses(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load existing addresses: %w", ErrStoreUnavailable, err)
	}

	seen := make(map[string]struct{}, len(candidates))
	pending := make([]string, 0, len(candidates))
	for _, addr := range candidates {
		if _, ok := known[addr]; ok {
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		pending = append(pending, addr)
	}
	return pending, nil
}

// Unembedded lists stored pages missing from the companion table.
func (s *IngestService) Unembedded(ctx context.Context, companion string, limit int) ([]PersistedRecord, error) {
	if !ValidTableName(companion) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, companion)
	}
	r, ok := s.store.(UnembeddedReader)
	if !ok {
		return nil, fmt.Errorf("store %T does not support anti-join reads", s.store)
	}
	return r.Unembedded(ctx, companion, limit)
}
