// Package analyzer turns a raw page capture into classified scripts,
// per-script cost profiles, a grade and a list of issues. Everything here is
// pure: no I/O, no clocks.
package analyzer

import "github.com/khanhnv2901/vela/internal/domain/scan"

// Analyzer runs the full analysis for one capture.
type Analyzer struct {
	classifier Classifier
}

// New returns an Analyzer using classifier for first-party decisions.
func New(classifier Classifier) *Analyzer {
	return &Analyzer{classifier: classifier}
}

// Analyze classifies, aggregates and summarizes capture for pageURL.
func (a *Analyzer) Analyze(capture *scan.Capture, pageURL string, m Matcher) scan.Result {
	scripts := a.classifier.AnalyzeScripts(capture.Requests, pageURL, m, capture.ScriptHints)
	profiles := AggregatePerformance(capture.Requests, scripts)
	summary := Summarize(scripts, profiles, len(capture.Requests))

	requests := capture.Requests
	if requests == nil {
		requests = []scan.NetworkRequest{}
	}
	return scan.Result{
		Scripts:         scripts,
		Performance:     profiles,
		NetworkRequests: requests,
		Summary:         summary,
		DurationMs:      capture.DurationMs,
	}
}

// Classifier returns the first-party rule in use.
func (a *Analyzer) Classifier() Classifier { return a.classifier }
