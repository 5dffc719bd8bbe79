package cmd

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestCurrentBuildInfoCountsEmbeddedCatalog(t *testing.T) {
	info := currentBuildInfo()
	if info.Patterns == 0 {
		t.Fatal("expected embedded catalog patterns to be counted")
	}
	if info.Categories == 0 || info.Categories > info.Patterns {
		t.Fatalf("unexpected category count %d for %d patterns", info.Categories, info.Patterns)
	}
}

func TestWriteVersion(t *testing.T) {
	info := buildInfo{Version: "1.2.3", GitCommit: "abc123", BuildDate: "2026-01-02", GoVersion: "go1.24.0", Platform: "linux/amd64", Patterns: 42, Categories: 7}

	var buf bytes.Buffer
	if err := writeVersion(&buf, info, false, false); err != nil {
		t.Fatalf("writeVersion: %v", err)
	}
	if got := buf.String(); got != "vela 1.2.3 (42 patterns)\n" {
		t.Fatalf("unexpected short output %q", got)
	}

	buf.Reset()
	if err := writeVersion(&buf, info, true, false); err != nil {
		t.Fatalf("writeVersion verbose: %v", err)
	}
	for _, want := range []string{"abc123", "linux/amd64", "42 patterns in 7 categories"} {
		if !strings.Contains(buf.String(), want) {
			t.Fatalf("verbose output missing %q:\n%s", want, buf.String())
		}
	}

	buf.Reset()
	if err := writeVersion(&buf, info, false, true); err != nil {
		t.Fatalf("writeVersion json: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if decoded["version"] != "1.2.3" || decoded["embedded_patterns"] != float64(42) {
		t.Fatalf("unexpected json %v", decoded)
	}
}
