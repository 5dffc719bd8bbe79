package cmd

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/khanhnv2901/vela/internal/domain/scan"
	"github.com/khanhnv2901/vela/internal/infrastructure/events"
)

// progressPrinter redraws a one-line scan status while a scan runs.
type progressPrinter struct {
	out      io.Writer
	scanID   string
	started  time.Time
	mu       sync.Mutex
	status   scan.Status
	updates  chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newProgressPrinter(out io.Writer, scanID string) *progressPrinter {
	return &progressPrinter{
		out:     out,
		scanID:  scanID,
		started: time.Now(),
		status:  scan.StatusQueued,
		updates: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Follow redraws on every event of this printer's scan until Stop.
func (p *progressPrinter) Follow(feed <-chan events.ScanEvent) {
	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case ev, ok := <-feed:
				if !ok {
					return
				}
				if ev.ScanID == p.scanID {
					p.Update(ev.Status)
				}
			case <-p.done:
				return
			}
		}
	}()
	go func() {
		defer p.wg.Done()
		p.loop()
	}()
}

func (p *progressPrinter) Update(status scan.Status) {
	p.mu.Lock()
	p.status = status
	p.mu.Unlock()

	select {
	case p.updates <- struct{}{}:
	default:
	}
}

func (p *progressPrinter) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
	fmt.Fprintf(p.out, "\r%s\r", strings.Repeat(" ", 80))
}

func (p *progressPrinter) loop() {
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-p.updates:
			p.print()
		case <-ticker.C:
			p.print()
		case <-p.done:
			return
		}
	}
}

func (p *progressPrinter) print() {
	p.mu.Lock()
	status := p.status
	p.mu.Unlock()

	fmt.Fprintf(p.out, "\r[scan %s] %s %.1fs", shortID(p.scanID), status, time.Since(p.started).Seconds())
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
