package security

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveWithin(t *testing.T) {
	base := t.TempDir()

	resolved, err := ResolveWithin(base, "scans", "a.json")
	if err != nil {
		t.Fatalf("ResolveWithin returned error: %v", err)
	}
	if !strings.HasPrefix(resolved, base) || filepath.Base(resolved) != "a.json" {
		t.Fatalf("unexpected resolved path %s", resolved)
	}

	if _, err := ResolveWithin(base, "..", "etc", "passwd"); !errors.Is(err, ErrPathEscape) {
		t.Fatalf("expected ErrPathEscape, got %v", err)
	}
	if _, err := ResolveWithin("", "x"); err == nil {
		t.Fatal("expected error for empty base")
	}
}

func TestCheckName(t *testing.T) {
	valid := []string{"6f1c2a8e-4b7d-4c3e-9a51-2d8f0b6e7c19", "scan.v2"}
	for _, name := range valid {
		if err := CheckName(name); err != nil {
			t.Fatalf("CheckName(%q) = %v", name, err)
		}
	}

	invalid := []string{"", ".", "..", "a/b", `a\b`, "nul\x00byte"}
	for _, name := range invalid {
		if err := CheckName(name); !errors.Is(err, ErrUnsafeName) {
			t.Fatalf("CheckName(%q) = %v, want ErrUnsafeName", name, err)
		}
	}
}

func TestFileIn(t *testing.T) {
	dir := t.TempDir()
	path, err := FileIn(dir, "abc", ".json")
	if err != nil {
		t.Fatalf("FileIn returned error: %v", err)
	}
	if path != filepath.Join(dir, "abc.json") {
		t.Fatalf("unexpected path %s", path)
	}
	if _, err := FileIn(dir, "../abc", ".json"); err == nil {
		t.Fatal("expected traversal to be rejected")
	}
}
