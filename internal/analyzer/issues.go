package analyzer

import (
	"fmt"
	"math"
	"sort"

	"github.com/khanhnv2901/vela/internal/domain/pattern"
	"github.com/khanhnv2901/vela/internal/domain/scan"
	"github.com/khanhnv2901/vela/internal/shared/constants"
)

const (
	maxAnalyticsScripts  = 2
	maxThirdPartyScripts = 15
)

// DetectIssues derives findings from classified scripts, most severe first.
// Issues of equal severity keep the order they were produced in.
func DetectIssues(scripts []scan.ClassifiedScript, _ []scan.PerformanceProfile) []scan.Issue {
	issues := make([]scan.Issue, 0)

	for _, s := range scripts {
		if s.SizeBytes > constants.LargeScriptBytes {
			scriptURL := s.URL
			issues = append(issues, scan.Issue{
				Severity:       scan.SeverityWarning,
				Category:       scan.IssuePerformance,
				Title:          "Large script detected",
				Description:    fmt.Sprintf("%s is %dKB", ExtractDomain(s.URL), roundHalfUp(float64(s.SizeBytes)/1024)),
				ScriptURL:      &scriptURL,
				Recommendation: "Consider lazy loading or finding a lighter alternative",
			})
		}
	}

	analytics := 0
	for _, s := range scripts {
		if s.Category == string(pattern.CategoryAnalytics) {
			analytics++
		}
	}
	if analytics > maxAnalyticsScripts {
		issues = append(issues, scan.Issue{
			Severity:       scan.SeverityWarning,
			Category:       scan.IssuePerformance,
			Title:          "Multiple analytics scripts",
			Description:    fmt.Sprintf("Found %d analytics scripts", analytics),
			Recommendation: "Consolidate analytics to reduce overhead",
		})
	}

	if len(scripts) > maxThirdPartyScripts {
		issues = append(issues, scan.Issue{
			Severity:       scan.SeverityCritical,
			Category:       scan.IssuePerformance,
			Title:          "Too many third-party scripts",
			Description:    fmt.Sprintf("Found %d third-party scripts", len(scripts)),
			Recommendation: "Audit and remove unnecessary scripts",
		})
	}

	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].Severity.Rank() < issues[j].Severity.Rank()
	})
	return issues
}

func roundHalfUp(v float64) int64 {
	return int64(math.Floor(v + 0.5))
}
