package cmd

import (
	"testing"

	"github.com/fatih/color"

	"github.com/khanhnv2901/vela/internal/domain/scan"
)

func disableColor(t *testing.T) {
	t.Helper()
	original := color.NoColor
	color.NoColor = true
	t.Cleanup(func() {
		color.NoColor = original
	})
}

func TestFormatStatusWithColor(t *testing.T) {
	disableColor(t)

	tests := []struct {
		name   string
		status string
		want   string
	}{
		{name: "success", status: "completed", want: "completed"},
		{name: "identified", status: "identified", want: "identified"},
		{name: "failure", status: "FAILED", want: "FAILED"},
		{name: "in progress", status: "running", want: "running"},
		{name: "unknown", status: "pending", want: "pending"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatStatusWithColor(tt.status); got != tt.want {
				t.Fatalf("formatStatusWithColor(%q) = %q, want %q", tt.status, got, tt.want)
			}
		})
	}
}

func TestFormatGradeAndSeverity(t *testing.T) {
	disableColor(t)

	for _, g := range []scan.Grade{scan.GradeA, scan.GradeC, scan.GradeF} {
		if got := formatGrade(g); got != string(g) {
			t.Fatalf("formatGrade(%s) = %q", g, got)
		}
	}
	if got := formatSeverity(scan.SeverityCritical); got != "[critical]" {
		t.Fatalf("unexpected severity label %q", got)
	}
}
