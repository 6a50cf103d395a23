package domain

import "context"

// PageStore is the driven port for page persistence.
type PageStore interface {
	// EnsureSchema creates the page table if it does not exist.
	EnsureSchema(ctx context.Context) error
	// ExistingAddresses returns every address currently stored.
	ExistingAddresses(ctx context.Context) (map[string]struct{}, error)
	// InsertIgnore writes the batch, silently skipping addresses already present.
	// It returns the number of rows actually inserted.
	InsertIgnore(ctx context.Context, batch []ScrapeResult) (int64, error)
	Close() error
}

// UnembeddedReader is implemented by stores that can anti-join the page table
// against a companion table keyed by the same address.
type UnembeddedReader interface {
	Unembedded(ctx context.Context, companion string, limit int) ([]PersistedRecord, error)
}

// PageFetcher is the driven port for retrieving one page.
type PageFetcher interface {
	Fetch(ctx context.Context, address string, profile HeaderProfile) (*ScrapeResult, error)
}
