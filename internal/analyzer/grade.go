package analyzer

import "github.com/khanhnv2901/vela/internal/domain/scan"

type deduction struct {
	above  float64
	points int
}

// Tiers are checked top-down; only the first exceeded tier applies.
var (
	scriptCountTiers = []deduction{{20, 30}, {10, 20}, {5, 10}}
	kilobyteTiers    = []deduction{{2000, 30}, {1000, 20}, {500, 10}}
	mainThreadTiers  = []deduction{{3000, 30}, {2000, 20}, {1000, 10}}
)

// Score returns the 0-100 score behind a grade.
func Score(scriptCount int, totalBytes int64, mainThreadMs float64) int {
	score := 100
	score -= deduct(float64(scriptCount), scriptCountTiers)
	score -= deduct(float64(totalBytes)/1024, kilobyteTiers)
	score -= deduct(mainThreadMs, mainThreadTiers)
	return score
}

// Grade maps third-party script count, total bytes and main-thread time to a
// letter grade.
func Grade(scriptCount int, totalBytes int64, mainThreadMs float64) scan.Grade {
	score := Score(scriptCount, totalBytes, mainThreadMs)
	switch {
	case score >= 90:
		return scan.GradeA
	case score >= 80:
		return scan.GradeB
	case score >= 70:
		return scan.GradeC
	case score >= 60:
		return scan.GradeD
	default:
		return scan.GradeF
	}
}

func deduct(value float64, tiers []deduction) int {
	for _, t := range tiers {
		if value > t.above {
			return t.points
		}
	}
	return 0
}
