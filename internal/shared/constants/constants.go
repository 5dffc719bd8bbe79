package constants

import (
	"io/fs"
	"time"
)

const (
	// DefaultDirPerm is the default permission used when creating directories.
	DefaultDirPerm fs.FileMode = 0o755
	// DefaultFilePerm is the default permission used when creating files.
	DefaultFilePerm fs.FileMode = 0o644
)

const (
	// CaptureTimeout bounds a single page capture.
	CaptureTimeout = 30 * time.Second
	// ScanResultTTL is how long a scan record stays in the result cache.
	ScanResultTTL = 24 * time.Hour
	// URLDedupTTL is how long a completed scan is reused for the same URL.
	URLDedupTTL = time.Hour
	// RateLimitWindow is the length of one scan-admission window.
	RateLimitWindow = 60 * time.Second
	// RateLimitMaxRequests caps admissions per identifier per window.
	RateLimitMaxRequests = 10
)

const (
	// MaxTopIssues bounds Summary.TopIssues.
	MaxTopIssues = 5
	// LargeScriptBytes marks a script as large.
	LargeScriptBytes = 100 * 1024
	// MaxBatchIdentify caps POST /scripts/identify-batch.
	MaxBatchIdentify = 100
	// MaxRequestBodyBytes caps JSON request bodies.
	MaxRequestBodyBytes = 1 << 20
)
