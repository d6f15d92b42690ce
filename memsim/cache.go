package memsim

import (
	"sync"

	"github.com/ozontech/mempool/bytespool"
	"github.com/ozontech/mempool/mempool"
)

// Cache is a reclaimable consumer of arena memory, standing in for a page
// cache. Clean entries can always be dropped, dirty entries only when the
// reclaimer is allowed to do I/O.
type Cache struct {
	arena *Arena

	mu    sync.Mutex // covers clean and dirty
	clean []*bytespool.Buffer
	dirty []*bytespool.Buffer
}

func NewCache(arena *Arena) *Cache {
	return &Cache{arena: arena}
}

// Populate adds up to count entries of size bytes, every dirtyEvery-th of
// them dirty (0 means none). It stops at the first allocation the arena
// refuses and returns the number of entries added. Population never
// triggers reclaim.
func (c *Cache) Populate(size, count, dirtyEvery int) int {
	added := 0
	for ; added < count; added++ {
		buf, ok := c.arena.Alloc(size, mempool.NoReserves|mempool.NoWarn)
		if !ok {
			break
		}

		c.mu.Lock()
		if dirtyEvery > 0 && added%dirtyEvery == 0 {
			c.dirty = append(c.dirty, buf)
		} else {
			c.clean = append(c.clean, buf)
		}
		c.mu.Unlock()
	}
	return added
}

// Reclaim drops clean entries first, then dirty ones if mayIO is set.
func (c *Cache) Reclaim(need int64, mayIO bool) int64 {
	var victims []*bytespool.Buffer
	var freed int64

	c.mu.Lock()
	for freed < need && len(c.clean) > 0 {
		buf := c.clean[len(c.clean)-1]
		c.clean = c.clean[:len(c.clean)-1]
		victims = append(victims, buf)
		freed += int64(cap(buf.B))
	}
	for mayIO && freed < need && len(c.dirty) > 0 {
		buf := c.dirty[len(c.dirty)-1]
		c.dirty = c.dirty[:len(c.dirty)-1]
		victims = append(victims, buf)
		freed += int64(cap(buf.B))
	}
	c.mu.Unlock()

	for _, buf := range victims {
		c.arena.Free(buf)
	}
	return freed
}

// Drop releases every entry.
func (c *Cache) Drop() {
	c.mu.Lock()
	victims := append(c.clean, c.dirty...)
	c.clean, c.dirty = nil, nil
	c.mu.Unlock()

	for _, buf := range victims {
		c.arena.Free(buf)
	}
}

// Len returns the number of clean and dirty entries.
func (c *Cache) Len() (clean, dirty int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clean), len(c.dirty)
}
