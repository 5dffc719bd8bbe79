package analyzer

import (
	"github.com/khanhnv2901/vela/internal/domain/scan"
	"github.com/khanhnv2901/vela/internal/shared/constants"
)

// Summarize condenses a page's analysis. totalRequests is the number of
// captured requests, first-party included.
func Summarize(scripts []scan.ClassifiedScript, profiles []scan.PerformanceProfile, totalRequests int) scan.Summary {
	var totalBytes int64
	var mainThread float64
	for _, p := range profiles {
		totalBytes += p.Metrics.BytesTransferred
		mainThread += p.Metrics.MainThreadTime
	}

	breakdown := make(map[string]int)
	for _, s := range scripts {
		breakdown[s.Category]++
	}

	issues := DetectIssues(scripts, profiles)
	if len(issues) > constants.MaxTopIssues {
		issues = issues[:constants.MaxTopIssues]
	}

	return scan.Summary{
		TotalScripts:        len(scripts),
		TotalRequests:       totalRequests,
		TotalBytes:          totalBytes,
		TotalMainThreadTime: mainThread,
		Grade:               Grade(len(scripts), totalBytes, mainThread),
		TopIssues:           issues,
		CategoryBreakdown:   breakdown,
	}
}
