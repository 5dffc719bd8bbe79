package analyzer

import (
	"github.com/khanhnv2901/vela/internal/catalog"
	"github.com/khanhnv2901/vela/internal/domain/pattern"
	"github.com/khanhnv2901/vela/internal/domain/scan"
)

// Matcher classifies a script URL against known services.
type Matcher interface {
	Match(url string) catalog.MatchResult
}

// AnalyzeScripts keeps the third-party script requests of a page load and
// classifies each one. Order follows the captured requests.
func (c Classifier) AnalyzeScripts(requests []scan.NetworkRequest, pageURL string, m Matcher, hints map[string]scan.ScriptHint) []scan.ClassifiedScript {
	scripts := make([]scan.ClassifiedScript, 0)
	for _, r := range requests {
		if r.Type != scan.ResourceScript || c.IsFirstParty(r.URL, pageURL) {
			continue
		}

		category := string(pattern.CategoryOther)
		var vendor *string
		confidence := 0.0
		if m != nil {
			if res := m.Match(r.URL); res.Identified() {
				category = string(res.Entry.Category)
				v := res.Entry.Vendor
				vendor = &v
				confidence = res.Confidence
			}
		}

		hint := hints[r.URL]
		scripts = append(scripts, scan.ClassifiedScript{
			URL:         r.URL,
			Category:    category,
			Vendor:      vendor,
			Fingerprint: Fingerprint(r.URL),
			Confidence:  confidence,
			Async:       hint.Async,
			Defer:       hint.Defer,
			SizeBytes:   r.SizeBytes,
		})
	}
	return scripts
}

// AnalyzeScripts runs the two-label classifier.
func AnalyzeScripts(requests []scan.NetworkRequest, pageURL string, m Matcher, hints map[string]scan.ScriptHint) []scan.ClassifiedScript {
	return defaultClassifier.AnalyzeScripts(requests, pageURL, m, hints)
}
