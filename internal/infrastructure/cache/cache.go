// Package cache keeps recent scan records in a TTL store and indexes
// completed scans by normalized page URL for request deduplication.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/khanhnv2901/vela/internal/analyzer"
	"github.com/khanhnv2901/vela/internal/domain/scan"
	"github.com/khanhnv2901/vela/internal/infrastructure/kv"
	"github.com/khanhnv2901/vela/internal/shared/constants"
	sharedErrors "github.com/khanhnv2901/vela/internal/shared/errors"
)

const (
	scanKeyPrefix = "scan:"
	urlKeyPrefix  = "url:"
)

// ResultCache stores scan snapshots under scan:<id> and, for completed
// scans, the scan id under url:<hash of normalized url>.
type ResultCache struct {
	store     kv.Store
	resultTTL time.Duration
	urlTTL    time.Duration
}

// Option customises a ResultCache.
type Option func(*ResultCache)

// WithResultTTL overrides the scan:<id> lifetime.
func WithResultTTL(d time.Duration) Option { return func(c *ResultCache) { c.resultTTL = d } }

// WithURLTTL overrides the url:<hash> lifetime.
func WithURLTTL(d time.Duration) Option { return func(c *ResultCache) { c.urlTTL = d } }

// New returns a cache backed by store.
func New(store kv.Store, opts ...Option) *ResultCache {
	c := &ResultCache{
		store:     store,
		resultTTL: constants.ScanResultTTL,
		urlTTL:    constants.URLDedupTTL,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns the cached record for id, or nil on a miss.
func (c *ResultCache) Get(ctx context.Context, id string) (*scan.Record, error) {
	data, ok, err := c.store.Get(ctx, scanKeyPrefix+id)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached scan %s: %w", id, err)
	}
	if !ok {
		return nil, nil
	}
	var snap scan.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: cached scan %s: %v", sharedErrors.ErrDeserializationFailed, id, err)
	}
	return scan.Reconstruct(snap), nil
}

// Put caches record. Completed records are also indexed by URL.
func (c *ResultCache) Put(ctx context.Context, record *scan.Record) error {
	data, err := json.Marshal(record.Snapshot())
	if err != nil {
		return fmt.Errorf("%w: scan %s: %v", sharedErrors.ErrSerializationFailed, record.ID(), err)
	}
	if err := c.store.Set(ctx, scanKeyPrefix+record.ID(), data, c.resultTTL); err != nil {
		return fmt.Errorf("failed to cache scan %s: %w", record.ID(), err)
	}
	if record.Status() != scan.StatusCompleted {
		return nil
	}
	if err := c.store.Set(ctx, URLKey(record.URL()), []byte(record.ID()), c.urlTTL); err != nil {
		return fmt.Errorf("failed to index scan %s by url: %w", record.ID(), err)
	}
	return nil
}

// GetByURL returns the most recent completed scan for pageURL, or nil.
func (c *ResultCache) GetByURL(ctx context.Context, pageURL string) (*scan.Record, error) {
	id, ok, err := c.store.Get(ctx, URLKey(pageURL))
	if err != nil {
		return nil, fmt.Errorf("failed to read url index: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return c.Get(ctx, string(id))
}

// Invalidate drops the cached record for id. The url index entry is left to
// expire; a lookup through it misses once the record is gone.
func (c *ResultCache) Invalidate(ctx context.Context, id string) error {
	if err := c.store.Delete(ctx, scanKeyPrefix+id); err != nil {
		return fmt.Errorf("failed to invalidate scan %s: %w", id, err)
	}
	return nil
}

// Ping reports whether the backing store is reachable.
func (c *ResultCache) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

// URLKey returns the dedup key for pageURL.
func URLKey(pageURL string) string {
	return urlKeyPrefix + analyzer.Fingerprint(NormalizeURL(pageURL))
}

// NormalizeURL reduces pageURL to host + path + query so scheme and
// fragment differences share a key. The path of a bare origin is "/". An
// unparseable URL is returned unchanged.
func NormalizeURL(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Scheme == "" || u.Hostname() == "" {
		return pageURL
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	search := ""
	if u.RawQuery != "" {
		search = "?" + u.RawQuery
	}
	return strings.ToLower(u.Hostname()) + path + search
}
