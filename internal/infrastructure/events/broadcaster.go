// Package events fans scan status changes out to live subscribers, such as
// the server-sent event stream of the HTTP API.
package events

import (
	"sort"
	"sync"
	"time"

	"github.com/khanhnv2901/vela/internal/domain/scan"
)

// ScanEvent is one status change of one scan.
type ScanEvent struct {
	ScanID       string      `json:"scan_id"`
	URL          string      `json:"url"`
	Status       scan.Status `json:"status"`
	Grade        *scan.Grade `json:"grade,omitempty"`
	ErrorMessage *string     `json:"error_message,omitempty"`
	At           time.Time   `json:"at"`
}

// Broadcaster keeps the latest event per scan and pushes every event to
// subscribers. Slow subscribers miss events rather than block publishers.
type Broadcaster struct {
	mu          sync.RWMutex
	latest      map[string]ScanEvent
	subscribers map[chan ScanEvent]struct{}
	maxTracked  int
	dropped     func()
}

// NewBroadcaster returns a broadcaster that remembers up to 1000 scans.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		latest:      make(map[string]ScanEvent),
		subscribers: make(map[chan ScanEvent]struct{}),
		maxTracked:  1000,
	}
}

// SetMaxTracked configures how many scans Recent can return.
func (b *Broadcaster) SetMaxTracked(max int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if max > 0 {
		b.maxTracked = max
	}
}

// OnDrop registers a callback invoked whenever an event is dropped for a
// slow subscriber.
func (b *Broadcaster) OnDrop(fn func()) {
	b.mu.Lock()
	b.dropped = fn
	b.mu.Unlock()
}

// Publish records ev and delivers it to all subscribers.
func (b *Broadcaster) Publish(ev ScanEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latest[ev.ScanID] = ev
	b.trim()
	for ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			if b.dropped != nil {
				b.dropped()
			}
		}
	}
}

// PublishRecord publishes the current state of record.
func (b *Broadcaster) PublishRecord(record *scan.Record) {
	ev := ScanEvent{
		ScanID:       record.ID(),
		URL:          record.URL(),
		Status:       record.Status(),
		ErrorMessage: record.ErrorMessage(),
	}
	if s := record.Summary(); s != nil {
		g := s.Grade
		ev.Grade = &g
	}
	b.Publish(ev)
}

// Subscribe returns a channel of future events and a function that
// unsubscribes and closes it.
func (b *Broadcaster) Subscribe() (<-chan ScanEvent, func()) {
	ch := make(chan ScanEvent, 16)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch, func() {
		b.mu.Lock()
		if _, ok := b.subscribers[ch]; ok {
			delete(b.subscribers, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
}

// Recent returns the latest event of up to limit scans, newest first.
func (b *Broadcaster) Recent(limit int) []ScanEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]ScanEvent, 0, len(b.latest))
	for _, ev := range b.latest {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].ScanID > out[j].ScanID
		}
		return out[i].At.After(out[j].At)
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// trim evicts the oldest terminal scans once over the limit. Callers hold mu.
func (b *Broadcaster) trim() {
	if len(b.latest) <= b.maxTracked {
		return
	}
	type aged struct {
		id string
		at time.Time
	}
	var terminal []aged
	for id, ev := range b.latest {
		if ev.Status.IsTerminal() {
			terminal = append(terminal, aged{id: id, at: ev.At})
		}
	}
	sort.Slice(terminal, func(i, j int) bool { return terminal[i].at.Before(terminal[j].at) })

	toRemove := len(b.latest) - b.maxTracked
	if toRemove > len(terminal) {
		toRemove = len(terminal)
	}
	for i := 0; i < toRemove; i++ {
		delete(b.latest, terminal[i].id)
	}
}
