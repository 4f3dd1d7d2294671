// Package pagecache is a hashed cache of fixed-size disk sectors sitting
// in front of a block device, with CLOCK (second-chance) eviction once
// the cache fills.
//
// A cached block carries its own backing page and a reference to the
// device it came from, keyed through a lock-striped hash table rather
// than a bare map+mutex.
package pagecache

import (
	"sync"

	"defs"
	"ext2fs"
	"hashtable"
	"stats"
)

// key identifies one cached sector: which device it belongs to (so one
// Cache can front several mounted images) plus the sector number,
// packed into a single int since hashtable.Hashtable_t only knows how
// to hash ustr.Ustr/int/int32/string keys, not arbitrary structs.
type key int

func mkkey(dev, sec uint32) key { return key(uint64(dev)<<32 | uint64(sec)) }

type entry struct {
	k          key
	data       []byte
	referenced bool
}

// Cache wraps a device ID space in a fixed-capacity sector cache. The
// zero value is not usable; construct with New.
type Cache struct {
	mu       sync.Mutex
	ht       *hashtable.Hashtable_t
	ring     []*entry
	hand     int
	capacity int
}

// New returns a cache holding up to capacity sectors.
func New(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		ht:       hashtable.MkHash(capacity * 2),
		ring:     make([]*entry, 0, capacity),
		capacity: capacity,
	}
}

// get returns the cached entry for k without touching the hit/miss
// counters, marking it referenced on a hit.
func (c *Cache) get(k key) *entry {
	v, ok := c.ht.Get(int(k))
	if !ok {
		return nil
	}
	e := v.(*entry)
	e.referenced = true
	return e
}

// lookup is get, but counted -- used on the read path, where a hit or
// miss reflects actual cache effectiveness.
func (c *Cache) lookup(k key) *entry {
	e := c.get(k)
	if e == nil {
		stats.PagecacheMisses.Inc()
		return nil
	}
	stats.PagecacheHits.Inc()
	return e
}

// insert adds a freshly-read sector to the cache, evicting via CLOCK
// when full: the hand sweeps the ring, clearing the referenced bit on
// anything it passes and evicting the first entry it finds already
// clear, giving recently-touched sectors a second chance before they're
// reclaimed.
func (c *Cache) insert(k key, data []byte) *entry {
	e := &entry{k: k, data: data, referenced: false}

	if len(c.ring) < c.capacity {
		c.ring = append(c.ring, e)
		c.ht.Set(int(k), e)
		return e
	}

	for {
		victim := c.ring[c.hand]
		if !victim.referenced {
			c.ht.Del(int(victim.k))
			c.ring[c.hand] = e
			c.ht.Set(int(k), e)
			c.hand = (c.hand + 1) % len(c.ring)
			return e
		}
		victim.referenced = false
		c.hand = (c.hand + 1) % len(c.ring)
	}
}

// CachedDevice wraps an ext2fs.BlockDevice with a Cache in front of it,
// read-allocating on miss and writing straight through to the backing
// device (no deferred flush -- a crash loses nothing the underlying
// device didn't already fsync, unlike a write-back policy that would
// need its own recovery log).
type CachedDevice struct {
	id    uint32
	cache *Cache
	back  ext2fs.BlockDevice
}

// Wrap returns a BlockDevice reading/writing through cache, tagging
// every sector with id so one Cache can multiplex several devices.
func Wrap(id uint32, cache *Cache, back ext2fs.BlockDevice) *CachedDevice {
	return &CachedDevice{id: id, cache: cache, back: back}
}

func (d *CachedDevice) ReadSector(n uint32, dst []byte) defs.Err_t {
	d.cache.mu.Lock()
	k := mkkey(d.id, n)
	if e := d.cache.lookup(k); e != nil {
		copy(dst, e.data)
		d.cache.mu.Unlock()
		return 0
	}
	d.cache.mu.Unlock()

	if err := d.back.ReadSector(n, dst); err != 0 {
		return err
	}
	data := append([]byte(nil), dst...)
	d.cache.mu.Lock()
	d.cache.insert(k, data)
	d.cache.mu.Unlock()
	return 0
}

func (d *CachedDevice) WriteSector(n uint32, src []byte) defs.Err_t {
	if err := d.back.WriteSector(n, src); err != 0 {
		return err
	}
	data := append([]byte(nil), src...)
	d.cache.mu.Lock()
	k := mkkey(d.id, n)
	if e := d.cache.get(k); e != nil {
		copy(e.data, data)
	} else {
		d.cache.insert(k, data)
	}
	d.cache.mu.Unlock()
	return 0
}

var _ ext2fs.BlockDevice = (*CachedDevice)(nil)
