package cmd

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/khanhnv2901/vela/internal/domain/scan"
	"github.com/khanhnv2901/vela/internal/infrastructure/events"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestProgressPrinterFollowsOwnScan(t *testing.T) {
	out := &syncBuffer{}
	printer := newProgressPrinter(out, "0123456789abcdef")

	feed := make(chan events.ScanEvent, 4)
	printer.Follow(feed)
	feed <- events.ScanEvent{ScanID: "other", Status: scan.StatusFailed}
	feed <- events.ScanEvent{ScanID: "0123456789abcdef", Status: scan.StatusRunning}
	time.Sleep(350 * time.Millisecond) // allow ticker to tick at least once
	printer.Stop()

	output := out.String()
	if !strings.Contains(output, "[scan 01234567] running") {
		t.Fatalf("expected running status, got %q", output)
	}
	if strings.Contains(output, "failed") {
		t.Fatalf("events of other scans should be ignored, got %q", output)
	}
}

func TestProgressPrinterStopIsIdempotent(t *testing.T) {
	printer := newProgressPrinter(&syncBuffer{}, "abc")
	feed := make(chan events.ScanEvent)
	printer.Follow(feed)
	printer.Stop()
	printer.Stop()
}
