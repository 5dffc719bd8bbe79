package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"text/template"

	"github.com/khanhnv2901/vela/internal/domain/scan"
)

const (
	formatText     = "text"
	formatJSON     = "json"
	formatMarkdown = "markdown"
)

var markdownReportTemplate = template.Must(template.New("report.md").Funcs(template.FuncMap{
	"bytes":    formatBytes,
	"vendor":   vendorLabel,
	"duration": formatDurationMs,
}).Parse(`# Third-party script report

- **URL:** {{ .URL }}
- **Scan:** {{ .ID }}
- **Status:** {{ .Status }}
{{- if .Duration }}
- **Duration:** {{ duration .Duration }}
{{- end }}
{{- with .Summary }}
- **Grade:** {{ .Grade }}

| Scripts | Requests | Transferred | Main thread |
|---|---|---|---|
| {{ .TotalScripts }} | {{ .TotalRequests }} | {{ bytes .TotalBytes }} | {{ printf "%.0f" .TotalMainThreadTime }} ms |
{{- if .TopIssues }}

## Issues
{{ range .TopIssues }}
- **[{{ .Severity }}] {{ .Title }}** {{ .Description }} _{{ .Recommendation }}_
{{- end }}
{{- end }}
{{- end }}
{{- if .Scripts }}

## Scripts

| URL | Category | Vendor | Size |
|---|---|---|---|
{{- range .Scripts }}
| {{ .URL }} | {{ .Category }} | {{ vendor .Vendor }} | {{ bytes .SizeBytes }} |
{{- end }}
{{- end }}
{{- with .ErrorMessage }}

**Error:** {{ . }}
{{- end }}
`))

// renderReport writes snap in the requested format.
func renderReport(w io.Writer, snap scan.Snapshot, format string) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	case formatMarkdown:
		return markdownReportTemplate.Execute(w, snap)
	case formatText, "":
		return printScanText(w, snap)
	default:
		return fmt.Errorf("unsupported format %q (expected text, json or markdown)", format)
	}
}

func printScanText(w io.Writer, snap scan.Snapshot) error {
	fmt.Fprintf(w, "%s %s\n", colorInfo("Scan"), snap.URL)
	fmt.Fprintf(w, "ID: %s | Status: %s", snap.ID, formatStatusWithColor(string(snap.Status)))
	if snap.Duration != nil {
		fmt.Fprintf(w, " | Duration: %s", formatDurationMs(snap.Duration))
	}
	fmt.Fprintln(w)

	if snap.ErrorMessage != nil {
		fmt.Fprintf(w, "%s %s\n", colorError("Error:"), *snap.ErrorMessage)
	}
	if snap.Summary == nil {
		return nil
	}

	sum := snap.Summary
	fmt.Fprintf(w, "\nGrade: %s\n", formatGrade(sum.Grade))
	fmt.Fprintf(w, "Third-party scripts: %d | Requests: %d | Transferred: %s | Main thread: %.0f ms\n",
		sum.TotalScripts, sum.TotalRequests, formatBytes(sum.TotalBytes), sum.TotalMainThreadTime)

	if len(sum.CategoryBreakdown) > 0 {
		cats := make([]string, 0, len(sum.CategoryBreakdown))
		for c := range sum.CategoryBreakdown {
			cats = append(cats, c)
		}
		sort.Strings(cats)
		parts := make([]string, 0, len(cats))
		for _, c := range cats {
			parts = append(parts, fmt.Sprintf("%s=%d", c, sum.CategoryBreakdown[c]))
		}
		fmt.Fprintf(w, "Categories: %s\n", strings.Join(parts, ", "))
	}

	if len(snap.Scripts) > 0 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CATEGORY\tVENDOR\tSIZE\tLOADING\tURL")
		for _, s := range snap.Scripts {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.Category, vendorLabel(s.Vendor), formatBytes(s.SizeBytes), loadingMode(s), truncate(s.URL, 80))
		}
		if err := tw.Flush(); err != nil {
			return fmt.Errorf("failed to flush script table: %w", err)
		}
	}

	if len(sum.TopIssues) > 0 {
		fmt.Fprintf(w, "\n%s\n", colorInfo("Issues"))
		for _, issue := range sum.TopIssues {
			fmt.Fprintf(w, "  %s %s\n", formatSeverity(issue.Severity), issue.Title)
			fmt.Fprintf(w, "      %s\n", issue.Recommendation)
		}
	}
	return nil
}

func loadingMode(s scan.ClassifiedScript) string {
	switch {
	case s.Async:
		return "async"
	case s.Defer:
		return "defer"
	default:
		return "blocking"
	}
}

func vendorLabel(v *string) string {
	if v == nil || *v == "" {
		return "unknown"
	}
	return *v
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

func formatDurationMs(ms *int64) string {
	if ms == nil || *ms <= 0 {
		return "0s"
	}
	seconds := float64(*ms) / 1000
	if seconds < 60 {
		return fmt.Sprintf("%.1fs", seconds)
	}
	return fmt.Sprintf("%.1f min", seconds/60)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
