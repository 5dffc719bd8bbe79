package cmd

import (
	"strings"

	"github.com/fatih/color"

	"github.com/khanhnv2901/vela/internal/domain/scan"
)

var (
	colorSuccess = color.New(color.FgGreen).SprintFunc()
	colorInfo    = color.New(color.FgCyan).SprintFunc()
	colorWarn    = color.New(color.FgYellow).SprintFunc()
	colorError   = color.New(color.FgRed).SprintFunc()
	colorBold    = color.New(color.Bold).SprintFunc()
)

func formatStatusWithColor(status string) string {
	switch strings.ToLower(status) {
	case "ok", "success", "completed", "identified":
		return colorSuccess(status)
	case "error", "fail", "failed":
		return colorError(status)
	case "queued", "running":
		return colorInfo(status)
	default:
		return status
	}
}

func formatGrade(g scan.Grade) string {
	switch g {
	case scan.GradeA, scan.GradeB:
		return colorBold(colorSuccess(string(g)))
	case scan.GradeC:
		return colorBold(colorWarn(string(g)))
	default:
		return colorBold(colorError(string(g)))
	}
}

func formatSeverity(s scan.Severity) string {
	label := "[" + string(s) + "]"
	switch s {
	case scan.SeverityCritical:
		return colorError(label)
	case scan.SeverityWarning:
		return colorWarn(label)
	default:
		return colorInfo(label)
	}
}
