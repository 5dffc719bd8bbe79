package scan

import (
	"encoding/json"
	"fmt"
	"time"

	sharedErrors "github.com/khanhnv2901/vela/internal/shared/errors"
)

// Row is a scan as durable storage hands it back. Older or partially
// written rows only carry the summary columns; rows written after a
// completed scan also carry the full serialized result.
type Row struct {
	ID                  string
	URL                 string
	Status              string
	CreatedAt           time.Time
	CompletedAt         *time.Time
	Grade               *string
	TotalScripts        *int
	TotalBytes          *int64
	TotalMainThreadTime *float64
	ErrorMessage        *string
	ResultJSON          *string
}

// FromRow rebuilds a Record from either row shape.
func FromRow(row Row) (*Record, error) {
	if row.ResultJSON != nil && *row.ResultJSON != "" {
		var snap Snapshot
		if err := json.Unmarshal([]byte(*row.ResultJSON), &snap); err != nil {
			return nil, fmt.Errorf("%w: scan %s: %v", sharedErrors.ErrDeserializationFailed, row.ID, err)
		}
		normalizeSnapshot(&snap)
		return Reconstruct(snap), nil
	}

	snap := Snapshot{
		ID:           row.ID,
		URL:          row.URL,
		Status:       Status(row.Status),
		CreatedAt:    row.CreatedAt,
		CompletedAt:  row.CompletedAt,
		ErrorMessage: row.ErrorMessage,
	}
	if row.Grade != nil && *row.Grade != "" {
		snap.Summary = &Summary{
			TotalScripts:        derefOr(row.TotalScripts, 0),
			TotalRequests:       0,
			TotalBytes:          derefOr(row.TotalBytes, 0),
			TotalMainThreadTime: derefOr(row.TotalMainThreadTime, 0),
			Grade:               Grade(*row.Grade),
			TopIssues:           []Issue{},
			CategoryBreakdown:   map[string]int{},
		}
	}
	normalizeSnapshot(&snap)
	return Reconstruct(snap), nil
}

func normalizeSnapshot(s *Snapshot) {
	if s.Scripts == nil {
		s.Scripts = []ClassifiedScript{}
	}
	if s.Performance == nil {
		s.Performance = []PerformanceProfile{}
	}
	if s.Privacy == nil {
		s.Privacy = []PrivacyFinding{}
	}
	if s.NetworkRequests == nil {
		s.NetworkRequests = []NetworkRequest{}
	}
}

func derefOr[T any](v *T, fallback T) T {
	if v == nil {
		return fallback
	}
	return *v
}
