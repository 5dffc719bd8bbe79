package catalog

import "sync/atomic"

// Holder publishes the current catalog. Readers take a reference with
// Current and keep using it even if Swap installs a newer one.
type Holder struct {
	current atomic.Pointer[Catalog]
}

// NewHolder returns a Holder serving c.
func NewHolder(c *Catalog) *Holder {
	h := &Holder{}
	h.current.Store(c)
	return h
}

// Current returns the catalog in effect.
func (h *Holder) Current() *Catalog {
	return h.current.Load()
}

// Swap installs c and returns the previous catalog.
func (h *Holder) Swap(c *Catalog) *Catalog {
	return h.current.Swap(c)
}
