package analyzer

import "github.com/khanhnv2901/vela/internal/domain/scan"

// AggregatePerformance attributes captured requests to the script that
// initiated them. A request belongs to a script when its initiator equals the
// script URL exactly. Main-thread, DOM-mutation and long-task figures are not
// measured and stay zero; web-vitals deltas stay nil.
func AggregatePerformance(requests []scan.NetworkRequest, scripts []scan.ClassifiedScript) []scan.PerformanceProfile {
	profiles := make([]scan.PerformanceProfile, 0, len(scripts))
	for _, s := range scripts {
		related := 0
		bytes := s.SizeBytes
		for _, r := range requests {
			if r.Initiator != nil && *r.Initiator == s.URL {
				related++
				bytes += r.SizeBytes
			}
		}
		profiles = append(profiles, scan.PerformanceProfile{
			ScriptURL: s.URL,
			Metrics: scan.PerformanceMetrics{
				NetworkRequests:  related + 1,
				BytesTransferred: bytes,
			},
		})
	}
	return profiles
}
