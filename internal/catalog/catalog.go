// Package catalog holds the immutable set of known third-party services and
// classifies script URLs against it.
package catalog

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/khanhnv2901/vela/internal/domain/pattern"
	sharedErrors "github.com/khanhnv2901/vela/internal/shared/errors"
)

// MatchResult is the outcome of classifying one URL. Entry is nil when no
// catalog entry matched, in which case Confidence is 0.
type MatchResult struct {
	Entry      *pattern.Entry `json:"script"`
	Confidence float64        `json:"confidence"`
}

// Identified reports whether an entry matched.
func (m MatchResult) Identified() bool { return m.Entry != nil }

// CategoryCount pairs a category with its number of entries.
type CategoryCount struct {
	Category pattern.Category `json:"category"`
	Count    int              `json:"count"`
}

// VendorCount pairs a vendor with its number of entries.
type VendorCount struct {
	Vendor string `json:"vendor"`
	Count  int    `json:"count"`
}

type compiledEntry struct {
	entry    pattern.Entry
	matchers []*Matcher
}

// Catalog is an ordered, read-only list of entries. It is safe for concurrent
// use; replace it wholesale (see Holder) instead of mutating it.
type Catalog struct {
	entries []compiledEntry
	byID    map[string]int
}

// New builds a catalog, rejecting entries that break catalog invariants.
func New(entries []pattern.Entry) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]int, len(entries))}
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if err := c.add(e); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Build is the lenient variant of New used for curated stores: invalid or
// duplicate entries are skipped and logged instead of failing the load.
func Build(entries []pattern.Entry, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Catalog{byID: make(map[string]int, len(entries))}
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			logger.Warn("catalog_entry_skipped", zap.String("pattern_id", e.ID), zap.Error(err))
			continue
		}
		if err := c.add(e); err != nil {
			logger.Warn("catalog_entry_skipped", zap.String("pattern_id", e.ID), zap.Error(err))
		}
	}
	return c
}

func (c *Catalog) add(e pattern.Entry) error {
	if _, exists := c.byID[e.ID]; exists {
		return fmt.Errorf("%w: %s", sharedErrors.ErrDuplicatePattern, e.ID)
	}
	ce := compiledEntry{entry: e, matchers: make([]*Matcher, 0, len(e.URLPatterns))}
	for _, p := range e.URLPatterns {
		ce.matchers = append(ce.matchers, Compile(p))
	}
	c.byID[e.ID] = len(c.entries)
	c.entries = append(c.entries, ce)
	return nil
}

// Match classifies url. The first entry in catalog order with any matching
// pattern wins.
func (c *Catalog) Match(url string) MatchResult {
	if c == nil {
		return MatchResult{}
	}
	for i := range c.entries {
		for _, m := range c.entries[i].matchers {
			if m.Test(url) {
				entry := c.entries[i].entry
				return MatchResult{Entry: &entry, Confidence: 1.0}
			}
		}
	}
	return MatchResult{}
}

// MatchAll classifies each url independently, keyed by url.
func (c *Catalog) MatchAll(urls []string) map[string]MatchResult {
	out := make(map[string]MatchResult, len(urls))
	for _, u := range urls {
		out[u] = c.Match(u)
	}
	return out
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// Entries returns all entries in catalog order.
func (c *Catalog) Entries() []pattern.Entry {
	return c.filter(func(pattern.Entry) bool { return true })
}

// Get returns the entry with id.
func (c *Catalog) Get(id string) (pattern.Entry, bool) {
	if c == nil {
		return pattern.Entry{}, false
	}
	idx, ok := c.byID[id]
	if !ok {
		return pattern.Entry{}, false
	}
	return c.entries[idx].entry, true
}

// ByCategory returns entries in category.
func (c *Catalog) ByCategory(category pattern.Category) []pattern.Entry {
	return c.filter(func(e pattern.Entry) bool { return e.Category == category })
}

// ByVendor returns entries whose vendor equals vendor, ignoring case.
func (c *Catalog) ByVendor(vendor string) []pattern.Entry {
	return c.filter(func(e pattern.Entry) bool { return strings.EqualFold(e.Vendor, vendor) })
}

// Search returns entries whose name or vendor contains query, ignoring case.
func (c *Catalog) Search(query string) []pattern.Entry {
	q := strings.ToLower(query)
	return c.filter(func(e pattern.Entry) bool {
		return strings.Contains(strings.ToLower(e.Name), q) || strings.Contains(strings.ToLower(e.Vendor), q)
	})
}

// Categories counts entries for every known category, including empty ones.
func (c *Catalog) Categories() []CategoryCount {
	counts := make(map[pattern.Category]int)
	if c != nil {
		for _, ce := range c.entries {
			counts[ce.entry.Category]++
		}
	}
	known := pattern.Categories()
	out := make([]CategoryCount, 0, len(known))
	for _, cat := range known {
		out = append(out, CategoryCount{Category: cat, Count: counts[cat]})
	}
	return out
}

// Vendors counts entries per vendor, most entries first. Ties keep
// alphabetical order.
func (c *Catalog) Vendors() []VendorCount {
	counts := make(map[string]int)
	if c != nil {
		for _, ce := range c.entries {
			counts[ce.entry.Vendor]++
		}
	}
	out := make([]VendorCount, 0, len(counts))
	for v, n := range counts {
		out = append(out, VendorCount{Vendor: v, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Vendor < out[j].Vendor
	})
	return out
}

// InvalidPatterns lists url patterns that failed to compile, keyed by entry id.
func (c *Catalog) InvalidPatterns() map[string][]string {
	out := make(map[string][]string)
	if c == nil {
		return out
	}
	for _, ce := range c.entries {
		for _, m := range ce.matchers {
			if m.Err() != nil {
				out[ce.entry.ID] = append(out[ce.entry.ID], m.Pattern())
			}
		}
	}
	return out
}

func (c *Catalog) filter(keep func(pattern.Entry) bool) []pattern.Entry {
	if c == nil {
		return []pattern.Entry{}
	}
	out := make([]pattern.Entry, 0)
	for _, ce := range c.entries {
		if keep(ce.entry) {
			out = append(out, ce.entry)
		}
	}
	return out
}
