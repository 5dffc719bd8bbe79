package scan

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	sharedErrors "github.com/khanhnv2901/vela/internal/shared/errors"
)

// Status is the lifecycle state of a scan.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Record is the unit of work of the auditor. It is an aggregate root: all
// mutation goes through the transition methods, which only move forward
// (queued -> running -> completed|failed).
type Record struct {
	id              string
	url             string
	status          Status
	createdAt       time.Time
	completedAt     *time.Time
	duration        *int64
	errorMessage    *string
	scripts         []ClassifiedScript
	performance     []PerformanceProfile
	privacy         []PrivacyFinding
	networkRequests []NetworkRequest
	summary         *Summary
}

// NewRecord creates a queued scan for pageURL.
func NewRecord(pageURL string) (*Record, error) {
	if pageURL == "" {
		return nil, fmt.Errorf("%w: url cannot be empty", sharedErrors.ErrInvalidURL)
	}
	return &Record{
		id:        uuid.NewString(),
		url:       pageURL,
		status:    StatusQueued,
		createdAt: time.Now().UTC(),
	}, nil
}

// Start moves a queued scan to running.
func (r *Record) Start() error {
	if r.status != StatusQueued {
		return fmt.Errorf("%w: %s -> %s", sharedErrors.ErrInvalidTransition, r.status, StatusRunning)
	}
	r.status = StatusRunning
	return nil
}

// Complete attaches the analysis result and moves a running scan to completed.
func (r *Record) Complete(res Result) error {
	if r.status != StatusRunning {
		return fmt.Errorf("%w: %s -> %s", sharedErrors.ErrInvalidTransition, r.status, StatusCompleted)
	}
	now := time.Now().UTC()
	duration := res.DurationMs
	summary := res.Summary

	r.status = StatusCompleted
	r.completedAt = &now
	r.duration = &duration
	r.errorMessage = nil
	r.scripts = res.Scripts
	r.performance = res.Performance
	r.networkRequests = res.NetworkRequests
	r.summary = &summary
	return nil
}

// Fail records msg and moves a queued or running scan to failed. The
// result lists are cleared.
func (r *Record) Fail(msg string) error {
	if r.status.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", sharedErrors.ErrScanAlreadyTerminal, r.status, StatusFailed)
	}
	now := time.Now().UTC()
	r.status = StatusFailed
	r.completedAt = &now
	r.duration = nil
	r.errorMessage = &msg
	r.scripts = nil
	r.performance = nil
	r.networkRequests = nil
	r.summary = nil
	return nil
}

// Getters

func (r *Record) ID() string              { return r.id }
func (r *Record) URL() string             { return r.url }
func (r *Record) Status() Status          { return r.status }
func (r *Record) CreatedAt() time.Time    { return r.createdAt }
func (r *Record) CompletedAt() *time.Time { return r.completedAt }
func (r *Record) Duration() *int64        { return r.duration }
func (r *Record) ErrorMessage() *string   { return r.errorMessage }
func (r *Record) Summary() *Summary       { return r.summary }

func (r *Record) Scripts() []ClassifiedScript {
	out := make([]ClassifiedScript, len(r.scripts))
	copy(out, r.scripts)
	return out
}

func (r *Record) Performance() []PerformanceProfile {
	out := make([]PerformanceProfile, len(r.performance))
	copy(out, r.performance)
	return out
}

func (r *Record) NetworkRequests() []NetworkRequest {
	out := make([]NetworkRequest, len(r.networkRequests))
	copy(out, r.networkRequests)
	return out
}
