package scan

import (
	"time"
)

// Snapshot is the serialized form of a Record. It is what the result cache,
// the result_json storage column and the HTTP API carry.
type Snapshot struct {
	ID              string               `json:"id"`
	URL             string               `json:"url"`
	Status          Status               `json:"status"`
	CreatedAt       time.Time            `json:"created_at"`
	CompletedAt     *time.Time           `json:"completed_at"`
	Duration        *int64               `json:"duration"`
	ErrorMessage    *string              `json:"error_message"`
	Scripts         []ClassifiedScript   `json:"scripts"`
	Performance     []PerformanceProfile `json:"performance"`
	Privacy         []PrivacyFinding     `json:"privacy"`
	NetworkRequests []NetworkRequest     `json:"network_requests"`
	Summary         *Summary             `json:"summary"`
}

// Snapshot returns a detached copy of the record. Lists are never nil so they
// encode as empty JSON arrays.
func (r *Record) Snapshot() Snapshot {
	privacy := make([]PrivacyFinding, len(r.privacy))
	copy(privacy, r.privacy)

	var summary *Summary
	if r.summary != nil {
		s := *r.summary
		s.TopIssues = append([]Issue{}, r.summary.TopIssues...)
		s.CategoryBreakdown = make(map[string]int, len(r.summary.CategoryBreakdown))
		for k, v := range r.summary.CategoryBreakdown {
			s.CategoryBreakdown[k] = v
		}
		summary = &s
	}

	return Snapshot{
		ID:              r.id,
		URL:             r.url,
		Status:          r.status,
		CreatedAt:       r.createdAt,
		CompletedAt:     r.completedAt,
		Duration:        r.duration,
		ErrorMessage:    r.errorMessage,
		Scripts:         r.Scripts(),
		Performance:     r.Performance(),
		Privacy:         privacy,
		NetworkRequests: r.NetworkRequests(),
		Summary:         summary,
	}
}

// Reconstruct rebuilds a record from its serialized form.
func Reconstruct(s Snapshot) *Record {
	return &Record{
		id:              s.ID,
		url:             s.URL,
		status:          s.Status,
		createdAt:       s.CreatedAt,
		completedAt:     s.CompletedAt,
		duration:        s.Duration,
		errorMessage:    s.ErrorMessage,
		scripts:         s.Scripts,
		performance:     s.Performance,
		privacy:         s.Privacy,
		networkRequests: s.NetworkRequests,
		summary:         s.Summary,
	}
}
