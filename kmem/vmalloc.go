package kmem

import (
	"sort"
	"sync"

	"defs"
)

// extent is one free virtual-address run [start, start+len).
type extent struct {
	start uintptr
	len   uintptr
}

// vmallocArena carves fixed-size virtual ranges out of a configured
// kernel virtual region, for callers that need more than a single page
// of contiguous kernel virtual address space (page tables, bounce
// buffers). No third-party interval-tree/red-black-tree library appears
// anywhere in the retrieved pack, so the free-extent set is kept sorted
// by start address and searched/merged with binary search — equivalent
// in behavior to the red-black tree of free intervals
// original_source/include/kernel/virtual_memory_tree.h describes, with
// the balancing omitted since the expected extent count per arena is
// small (justified stdlib-only component, see DESIGN.md).
type vmallocArena struct {
	mu    sync.Mutex
	free  []extent // sorted by start, ascending, non-adjacent
	base  uintptr
	limit uintptr
}

var kernelArena *vmallocArena

// InitVmalloc configures the kernel virtual-address arena vmalloc/vfree
// draw from, [base, base+size).
func InitVmalloc(base, size uintptr) {
	kernelArena = &vmallocArena{
		base:  base,
		limit: base + size,
		free:  []extent{{start: base, len: size}},
	}
}

// Vmalloc reserves a virtual run of n bytes, rounded up by the caller to
// whatever alignment it needs. It does not back the range with physical
// pages; callers map individual pages into the reservation on demand.
func Vmalloc(n uintptr) (uintptr, defs.Err_t) {
	if kernelArena == nil {
		panic("vmalloc arena not initialized")
	}
	a := kernelArena
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := -1
	for i, e := range a.free {
		if e.len >= n {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, -defs.ENOMEM
	}
	e := a.free[idx]
	start := e.start
	if e.len == n {
		a.free = append(a.free[:idx], a.free[idx+1:]...)
	} else {
		a.free[idx] = extent{start: e.start + n, len: e.len - n}
	}
	return start, 0
}

// Vfree returns a virtual run of n bytes at start, coalescing it with
// adjacent free extents.
func Vfree(start uintptr, n uintptr) {
	a := kernelArena
	a.mu.Lock()
	defer a.mu.Unlock()

	i := sort.Search(len(a.free), func(i int) bool { return a.free[i].start >= start })
	merged := extent{start: start, len: n}

	// merge with predecessor
	if i > 0 {
		prev := a.free[i-1]
		if prev.start+prev.len == merged.start {
			merged.start = prev.start
			merged.len += prev.len
			i--
			a.free = append(a.free[:i], a.free[i+1:]...)
		}
	}
	// merge with successor (now at position i in the possibly-shrunk slice)
	if i < len(a.free) {
		next := a.free[i]
		if merged.start+merged.len == next.start {
			merged.len += next.len
			a.free = append(a.free[:i], a.free[i+1:]...)
		}
	}

	a.free = append(a.free, extent{})
	copy(a.free[i+1:], a.free[i:])
	a.free[i] = merged
}
