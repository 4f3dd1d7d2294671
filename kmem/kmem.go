// Package kmem is the facade kernel-memory requests route through:
// alloc_pages/free_pages and increment_ref/
// decrement_ref reach the zone allocator in package mem, kmalloc/kfree
// reach its slab allocator, and vmalloc/vfree carve kernel virtual
// address ranges for callers (page tables, big contiguous buffers) that
// need more than one page at a time.
//
// Generalized here to front the zone/slab split in package mem instead
// of a single free list.
package kmem

import (
	"sync"

	"defs"
	"mem"
	"oommsg"
	"res"
)

var (
	initOnce sync.Once
	zone     *mem.Zone
	slab     *mem.SlabAllocator
	ram      *mem.RAM

	zeroPageOnce sync.Once
	zeroPagePA   mem.Pa_t
)

// Init wires the facade to a zone and its backing RAM. Called once at
// boot from the kernel package after the zone is sized from detected
// memory.
func Init(z *mem.Zone, r *mem.RAM) {
	initOnce.Do(func() {
		zone = z
		ram = r
		slab = mem.NewSlabAllocator(z)
		res.SetBudget(int(z.FreePages()))
	})
}

// ResetForTest rewires the facade to a fresh zone/RAM pair, bypassing
// the Init once-guard. Exported only for other packages' tests that
// need an isolated kmem singleton per test case.
func ResetForTest(z *mem.Zone, r *mem.RAM) {
	initOnce = sync.Once{}
	zeroPageOnce = sync.Once{}
	zone = z
	ram = r
	slab = mem.NewSlabAllocator(z)
	res.SetBudget(int(z.FreePages()))
}

// ZeroPagePA returns the physical address of a single shared, permanently
// zero, read-only-by-convention page: every demand-zero VANON fault maps
// this same frame (with PTE_COW set) until a write forces a private copy.
func ZeroPagePA() mem.Pa_t {
	zeroPageOnce.Do(func() {
		pa, ok := zone.Allocate(0)
		if !ok {
			panic("oom allocating zero page")
		}
		ram.Zero(pa)
		// a fresh allocation starts at Refcnt 0 (unowned); give the zero
		// page a permanent baseline reference so it is never freed out
		// from under a mapping that later drops to a transient 0.
		zone.IncrementRef(pa)
		zeroPagePA = pa
	})
	return zeroPagePA
}

// RAM exposes the backing store for callers (vm, fault) that need
// byte-level access to a physical address without a page table.
func RAM() *mem.RAM { return ram }

// AllocPage allocates and zero-fills a single physical page, reporting
// -defs.ENOMEM on exhaustion. It notifies oommsg once the zone's low
// watermark is crossed, so a reclaim consumer can act before exhaustion.
func AllocPage() (mem.Pa_t, defs.Err_t) {
	pa, ok := zone.Allocate(0)
	if !ok {
		oommsg.Notify(oommsg.ReasonAllocFailed)
		return 0, -defs.ENOMEM
	}
	ram.Zero(pa)
	if zone.BelowWatermark(mem.WatermarkLow) {
		oommsg.Notify(oommsg.ReasonLowWatermark)
	}
	return pa, 0
}

// AllocPageNoZero is AllocPage without the zero-fill, for callers that
// are about to overwrite the whole page anyway (e.g. COW copy source).
func AllocPageNoZero() (mem.Pa_t, defs.Err_t) {
	pa, ok := zone.Allocate(0)
	if !ok {
		oommsg.Notify(oommsg.ReasonAllocFailed)
		return 0, -defs.ENOMEM
	}
	return pa, 0
}

// FreePage returns a single physical page.
func FreePage(pa mem.Pa_t) { zone.Free(pa, 0) }

// IncRef increments the reference count of the frame owning pa — used
// when a page becomes shared, e.g. COW fork.
func IncRef(pa mem.Pa_t) { zone.IncrementRef(pa) }

// DecRef decrements the reference count of the frame owning pa, freeing
// it once no mapping references it anymore.
func DecRef(pa mem.Pa_t) { zone.DecrementRef(pa) }

// Refcnt reports the live reference count of the frame owning pa.
func Refcnt(pa mem.Pa_t) int { return zone.Refcnt(pa) }

// Kmalloc allocates an n-byte kernel object. n up to the largest slab
// size class is served from that class's slab; anything bigger is
// rounded up to a whole number of frames and allocated straight from the
// zone.
func Kmalloc(n int) (mem.Pa_t, defs.Err_t) {
	pa, ok := slab.Kmalloc(n)
	if !ok {
		oommsg.Notify(oommsg.ReasonAllocFailed)
		return 0, -defs.ENOMEM
	}
	return pa, 0
}

// Kfree returns an n-byte object previously returned by Kmalloc, whether
// it came from a slab or (for n over the largest class) directly from
// the zone as whole frames.
func Kfree(pa mem.Pa_t, n int) { slab.Kfree(pa, n) }

// Bytes returns a byte-level view of a physical range, backed by the
// simulated RAM instead of a direct-map dereference.
func Bytes(pa mem.Pa_t, n int) []byte { return ram.Bytes(pa, n) }

// FreePages reports the zone's current free-page count, surfaced through
// stats.
func FreePages() uint64 { return zone.FreePages() }
