// Package results caches the outcomes of remotely triggered method and
// script runs so an attached tool can inspect them later over the admin
// surface, and clear them when its result panel closes.
package results

import "sync"

// Entry is one cached run result.
type Entry struct {
	// OffsetPath uniquely identifies the entry, e.g. "method_result_<id>".
	OffsetPath string

	// TypeName is the runtime type of the result value.
	TypeName string

	// Printed is the rendered form of the result.
	Printed string

	// Trace is the call-tree trace of the run, if tracing was enabled.
	Trace string
}

// Cache is a concurrent offset-path keyed result store.
type Cache struct {
	entries sync.Map // string -> Entry
}

func NewCache() *Cache {
	return &Cache{}
}

func (c *Cache) Put(e Entry) {
	c.entries.Store(e.OffsetPath, e)
}

func (c *Cache) Get(offsetPath string) (Entry, bool) {
	v, ok := c.entries.Load(offsetPath)
	if !ok {
		return Entry{}, false
	}
	return v.(Entry), true
}

// Remove drops an entry. Unknown paths are a no-op.
func (c *Cache) Remove(offsetPath string) {
	c.entries.Delete(offsetPath)
}

// Len counts cached entries.
func (c *Cache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
