package scan

import (
	"context"
	"time"
)

// Repository is the durable storage collaborator for scans.
type Repository interface {
	// CreateStub persists a freshly queued record.
	CreateStub(ctx context.Context, record *Record) error

	// UpdateStatus records a status change, with an optional error message
	// and completion time.
	UpdateStatus(ctx context.Context, id string, status Status, errMsg *string, completedAt *time.Time) error

	// SaveResult persists the full result of a terminal record.
	SaveResult(ctx context.Context, record *Record) error

	// FindByID returns the raw row for id, or ErrScanNotFound.
	FindByID(ctx context.Context, id string) (*Row, error)

	// ListRecent returns rows ordered by creation time, newest first.
	ListRecent(ctx context.Context, limit, offset int) ([]Row, error)

	// Ping reports whether storage is reachable.
	Ping(ctx context.Context) error
}
