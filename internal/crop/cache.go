package crop

import (
	"slices"
	"sync"
)

// ParamCache holds one ordered parameter list. Writers replace the whole
// list, so readers always observe a complete snapshot.
type ParamCache struct {
	mu      sync.RWMutex
	records []Record
}

// NewParamCache returns an empty cache.
func NewParamCache() *ParamCache {
	return &ParamCache{}
}

// Snapshot returns a copy of the current list.
func (c *ParamCache) Snapshot() []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.records)
}

// Len returns the number of records.
func (c *ParamCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Find looks up a record by asset identity with a linear scan; selections
// are picker sized.
func (c *ParamCache) Find(id string) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return find(c.records, id)
}

// update rebuilds the list from the current one and swaps it in while
// holding the write lock.
func (c *ParamCache) update(rebuild func(old []Record) []Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = rebuild(c.records)
}

func (c *ParamCache) reset() {
	c.mu.Lock()
	c.records = nil
	c.mu.Unlock()
}

func find(records []Record, id string) (Record, bool) {
	i := slices.IndexFunc(records, func(r Record) bool { return r.Asset.ID == id })
	if i < 0 {
		return Record{}, false
	}
	return records[i], true
}
