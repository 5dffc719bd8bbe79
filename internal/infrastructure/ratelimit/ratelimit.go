// Package ratelimit admits scan requests per client identifier using fixed
// windows kept in a kv.Store.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/khanhnv2901/vela/internal/infrastructure/kv"
	"github.com/khanhnv2901/vela/internal/shared/constants"
)

const keyPrefix = "ratelimit:"

// window is the stored state of one identifier.
type window struct {
	Count   int   `json:"count"`
	ResetAt int64 `json:"reset_at"` // unix milliseconds
}

// Remaining describes what an identifier has left in its window.
type Remaining struct {
	Remaining int
	ResetAt   time.Time
}

// FixedWindow allows at most Max admissions per identifier per Window. The
// read-modify-write is not atomic: concurrent requests from one identifier
// may both be admitted near the cap.
type FixedWindow struct {
	store  kv.Store
	window time.Duration
	max    int
	now    kv.Clock
}

// Option customises a FixedWindow.
type Option func(*FixedWindow)

// WithWindow sets the window length.
func WithWindow(d time.Duration) Option { return func(f *FixedWindow) { f.window = d } }

// WithMax sets the admissions allowed per window.
func WithMax(n int) Option { return func(f *FixedWindow) { f.max = n } }

// WithClock replaces the time source.
func WithClock(c kv.Clock) Option { return func(f *FixedWindow) { f.now = c } }

// New returns a limiter with a 60 second window and a cap of 10.
func New(store kv.Store, opts ...Option) *FixedWindow {
	f := &FixedWindow{
		store:  store,
		window: constants.RateLimitWindow,
		max:    constants.RateLimitMaxRequests,
		now:    time.Now,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Max returns the per-window cap.
func (f *FixedWindow) Max() int { return f.max }

// CheckLimit records one admission for id and reports whether it is allowed.
// A rejected request does not count against the window.
func (f *FixedWindow) CheckLimit(ctx context.Context, id string) (bool, error) {
	now := f.now()
	nowMs := now.UnixMilli()

	w, ok, err := f.load(ctx, id)
	if err != nil {
		return false, err
	}

	if !ok || nowMs > w.ResetAt {
		fresh := window{Count: 1, ResetAt: now.Add(f.window).UnixMilli()}
		if err := f.save(ctx, id, fresh, f.window); err != nil {
			return false, err
		}
		return true, nil
	}

	if w.Count >= f.max {
		return false, nil
	}

	w.Count++
	if err := f.save(ctx, id, w, remainingTTL(w.ResetAt, nowMs)); err != nil {
		return false, err
	}
	return true, nil
}

// Remaining reports the admissions left for id without consuming one.
func (f *FixedWindow) Remaining(ctx context.Context, id string) (Remaining, error) {
	now := f.now()
	w, ok, err := f.load(ctx, id)
	if err != nil {
		return Remaining{}, err
	}
	if !ok || now.UnixMilli() > w.ResetAt {
		return Remaining{Remaining: f.max, ResetAt: now.Add(f.window)}, nil
	}
	left := f.max - w.Count
	if left < 0 {
		left = 0
	}
	return Remaining{Remaining: left, ResetAt: time.UnixMilli(w.ResetAt)}, nil
}

// Reset clears the window for id.
func (f *FixedWindow) Reset(ctx context.Context, id string) error {
	if err := f.store.Delete(ctx, keyPrefix+id); err != nil {
		return fmt.Errorf("failed to reset rate limit for %s: %w", id, err)
	}
	return nil
}

func (f *FixedWindow) load(ctx context.Context, id string) (window, bool, error) {
	data, ok, err := f.store.Get(ctx, keyPrefix+id)
	if err != nil {
		return window{}, false, fmt.Errorf("failed to read rate limit for %s: %w", id, err)
	}
	if !ok {
		return window{}, false, nil
	}
	var w window
	if err := json.Unmarshal(data, &w); err != nil {
		// a corrupt window is treated as absent and overwritten
		return window{}, false, nil
	}
	return w, true, nil
}

func (f *FixedWindow) save(ctx context.Context, id string, w window, ttl time.Duration) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("failed to encode rate limit window: %w", err)
	}
	if err := f.store.Set(ctx, keyPrefix+id, data, ttl); err != nil {
		return fmt.Errorf("failed to write rate limit for %s: %w", id, err)
	}
	return nil
}

// remainingTTL rounds the time left in the window up to whole seconds, with
// a floor of one second.
func remainingTTL(resetAtMs, nowMs int64) time.Duration {
	secs := (resetAtMs - nowMs + 999) / 1000
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}
