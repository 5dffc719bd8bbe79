package pattern

import "context"

// Filter narrows a List call. Zero values mean "no constraint"; Limit 0
// means unbounded.
type Filter struct {
	Category        Category
	Vendor          string
	Search          string
	IncludeInactive bool
	Limit           int
	Offset          int

	// CatalogOrder returns entries in the order they were stored instead of
	// by name. Catalog builds use it since matching is first-match-wins.
	CatalogOrder bool
}

// Repository is the curated store the catalog is loaded from.
type Repository interface {
	// List returns matching entries ordered by name, and the total count
	// before pagination.
	List(ctx context.Context, filter Filter) ([]Entry, int, error)

	// Get returns the entry with id, or ErrPatternNotFound.
	Get(ctx context.Context, id string) (*Entry, error)

	// Create inserts an entry, failing with ErrDuplicatePattern on id clash.
	Create(ctx context.Context, entry Entry) error

	// Upsert inserts or replaces an entry.
	Upsert(ctx context.Context, entry Entry) error

	// Deactivate soft-deletes an entry.
	Deactivate(ctx context.Context, id string) error

	// Delete removes an entry permanently.
	Delete(ctx context.Context, id string) error
}
