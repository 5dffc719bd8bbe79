package scan

// ResourceType is the kind of resource a NetworkRequest fetched.
type ResourceType string

const (
	ResourceDocument   ResourceType = "document"
	ResourceScript     ResourceType = "script"
	ResourceStylesheet ResourceType = "stylesheet"
	ResourceImage      ResourceType = "image"
	ResourceFont       ResourceType = "font"
	ResourceXHR        ResourceType = "xhr"
	ResourceFetch      ResourceType = "fetch"
	ResourceWebSocket  ResourceType = "websocket"
	ResourceOther      ResourceType = "other"
)

// NetworkRequest is one HTTP exchange observed while a page loads.
type NetworkRequest struct {
	URL          string       `json:"url"`
	Type         ResourceType `json:"type"`
	Method       string       `json:"method"`
	StatusCode   *int         `json:"status_code"`
	SizeBytes    int64        `json:"size_bytes"`
	DurationMs   float64      `json:"duration_ms"`
	Initiator    *string      `json:"initiator"`
	IsThirdParty bool         `json:"is_third_party"`
}

// ClassifiedScript is a third-party script after catalog matching.
type ClassifiedScript struct {
	URL         string  `json:"url"`
	Category    string  `json:"category"`
	Vendor      *string `json:"vendor"`
	Fingerprint string  `json:"fingerprint"`
	Confidence  float64 `json:"confidence"`
	Async       bool    `json:"async"`
	Defer       bool    `json:"defer"`
	SizeBytes   int64   `json:"size_bytes"`
}

// PerformanceMetrics holds the per-script cost figures.
type PerformanceMetrics struct {
	MainThreadTime   float64 `json:"main_thread_time"`
	NetworkRequests  int     `json:"network_requests"`
	BytesTransferred int64   `json:"bytes_transferred"`
	DOMMutations     int     `json:"dom_mutations"`
	LongTasks        int     `json:"long_tasks"`
}

// WebVitalsImpact is reserved for per-script web-vitals attribution.
type WebVitalsImpact struct {
	LCPDelta *float64 `json:"lcp_delta"`
	CLSDelta *float64 `json:"cls_delta"`
	INPDelta *float64 `json:"inp_delta"`
}

// PerformanceProfile is the cost attributed to one classified script.
type PerformanceProfile struct {
	ScriptURL       string             `json:"script_url"`
	Metrics         PerformanceMetrics `json:"metrics"`
	WebVitalsImpact WebVitalsImpact    `json:"web_vitals_impact"`
}

// PrivacyFinding is a placeholder for privacy analysis output. Scans never
// populate it.
type PrivacyFinding struct {
	ScriptURL   string `json:"script_url"`
	Description string `json:"description"`
}

// Severity ranks an Issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Rank orders severities for sorting, most severe first.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	default:
		return 2
	}
}

// IssueCategory groups issues by concern.
type IssueCategory string

const (
	IssuePerformance  IssueCategory = "performance"
	IssuePrivacy      IssueCategory = "privacy"
	IssueSecurity     IssueCategory = "security"
	IssueBestPractice IssueCategory = "best-practice"
)

// Issue is a human-readable finding with a recommendation.
type Issue struct {
	Severity       Severity      `json:"severity"`
	Category       IssueCategory `json:"category"`
	Title          string        `json:"title"`
	Description    string        `json:"description"`
	ScriptURL      *string       `json:"script_url"`
	Recommendation string        `json:"recommendation"`
}

// Grade is the letter score of a scan.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
	GradeF Grade = "F"
)

// Valid reports whether g is one of the five letter grades.
func (g Grade) Valid() bool {
	switch g {
	case GradeA, GradeB, GradeC, GradeD, GradeF:
		return true
	}
	return false
}

// Summary condenses a completed scan.
type Summary struct {
	TotalScripts        int            `json:"total_scripts"`
	TotalRequests       int            `json:"total_requests"`
	TotalBytes          int64          `json:"total_bytes"`
	TotalMainThreadTime float64        `json:"total_main_thread_time"`
	Grade               Grade          `json:"grade"`
	TopIssues           []Issue        `json:"top_issues"`
	CategoryBreakdown   map[string]int `json:"category_breakdown"`
}

// PageMetrics are the page-level numbers reported by the capture collaborator.
type PageMetrics struct {
	JSHeapUsedSize float64 `json:"js_heap_used_size"`
	ScriptDuration float64 `json:"script_duration"`
}

// ScriptHint carries DOM loading attributes for a script URL.
type ScriptHint struct {
	Async bool `json:"async"`
	Defer bool `json:"defer"`
}

// Capture is the raw output of one page load.
type Capture struct {
	Requests    []NetworkRequest      `json:"requests"`
	Metrics     PageMetrics           `json:"metrics"`
	DurationMs  int64                 `json:"duration_ms"`
	ScriptHints map[string]ScriptHint `json:"script_hints,omitempty"`
}

// Result is the analysis output attached to a completed record.
type Result struct {
	Scripts         []ClassifiedScript
	Performance     []PerformanceProfile
	NetworkRequests []NetworkRequest
	Summary         Summary
	DurationMs      int64
}
