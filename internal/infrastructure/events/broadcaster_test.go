package events

import (
	"testing"
	"time"

	"github.com/khanhnv2901/vela/internal/domain/scan"
)

func TestSubscribeReceivesEvents(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe()
	defer cancel()

	rec, _ := scan.NewRecord("https://example.com")
	b.PublishRecord(rec)

	select {
	case ev := <-ch:
		if ev.ScanID != rec.ID() || ev.Status != scan.StatusQueued {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("expected event")
	}
}

func TestCancelClosesChannel(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe()
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	b := NewBroadcaster()
	dropped := 0
	b.OnDrop(func() { dropped++ })
	_, cancel := b.Subscribe()
	defer cancel()

	for i := 0; i < 20; i++ {
		b.Publish(ScanEvent{ScanID: "s", Status: scan.StatusRunning})
	}
	if dropped != 4 {
		t.Fatalf("expected 4 dropped events, got %d", dropped)
	}
}

func TestRecentTrimsTerminalScans(t *testing.T) {
	b := NewBroadcaster()
	b.SetMaxTracked(2)
	base := time.Unix(1_700_000_000, 0)

	b.Publish(ScanEvent{ScanID: "old", Status: scan.StatusCompleted, At: base})
	b.Publish(ScanEvent{ScanID: "running", Status: scan.StatusRunning, At: base.Add(time.Second)})
	b.Publish(ScanEvent{ScanID: "new", Status: scan.StatusFailed, At: base.Add(2 * time.Second)})

	recent := b.Recent(0)
	if len(recent) != 2 {
		t.Fatalf("expected 2 tracked scans, got %d", len(recent))
	}
	if recent[0].ScanID != "new" || recent[1].ScanID != "running" {
		t.Fatalf("unexpected order %+v", recent)
	}
}
