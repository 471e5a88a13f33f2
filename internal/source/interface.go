package source

import "context"

// ProductItem is one catalog product image offered by a source.
type ProductItem struct {
	Code        string // Product code, unique within the catalog
	Name        string
	Description string
	Category    string
	Filename    string // Base name used for the stored object
	LocalPath   string // Local file path of the image
}

// Source defines the interface for product catalog sources.
type Source interface {
	// GetSourceID returns the unique identifier for this source.
	GetSourceID() string

	// FetchBatch fetches a batch of products starting from the given cursor.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - cursor: pagination cursor or empty for first page.
	//   - limit: maximum number of items to fetch.
	// Returns:
	//   - items: batch of product items.
	//   - nextCursor: cursor for the next batch or empty if done.
	//   - err: non-nil if fetching fails.
	FetchBatch(ctx context.Context, cursor string, limit int) (items []ProductItem, nextCursor string, err error)
}
