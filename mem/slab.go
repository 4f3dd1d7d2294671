package mem

import "sync"

// sizeClasses are the slab allocator's fixed object sizes.
// A request picks the smallest class that fits; anything larger than the
// biggest class is served as whole frames straight from the zone instead
// (see kmallocLarge).
var sizeClasses = [...]int{8, 16, 32, 64, 128, 256, 512, 1024, 2048}

// slab is one PGSIZE page carved into fixed-size objects for a single
// size class, tracked via a free list threaded through the unused object
// slots themselves (the classic slab/freelist trick).
type slab struct {
	addr    Pa_t
	objsize int
	nobj    int
	nfree   int
	freeIdx []int // stack of free object indices
	next    *slab
}

func newSlab(addr Pa_t, objsize int) *slab {
	n := PGSIZE / objsize
	s := &slab{addr: addr, objsize: objsize, nobj: n, nfree: n}
	s.freeIdx = make([]int, n)
	for i := 0; i < n; i++ {
		s.freeIdx[i] = i
	}
	return s
}

func (s *slab) full() bool  { return s.nfree == 0 }
func (s *slab) empty() bool { return s.nfree == s.nobj }

func (s *slab) alloc() (Pa_t, int) {
	idx := s.freeIdx[s.nfree-1]
	s.nfree--
	return s.addr + Pa_t(idx*s.objsize), idx
}

func (s *slab) free(idx int) {
	s.freeIdx[s.nfree] = idx
	s.nfree++
}

// classList holds every slab currently backing one size class, split
// into partial (some free objects) and full (no free objects) sets.
type classList struct {
	objsize int
	partial *slab
	full    *slab
}

// SlabAllocator layers fixed-size-object allocation on
// top of a Zone's page-granularity buddy allocator: each class carves
// whole pages obtained via zone.Allocate(0) into objects of one fixed
// size.
type SlabAllocator struct {
	mu      sync.Mutex
	zone    *Zone
	classes [len(sizeClasses)]classList
	// bySlabAddr maps a slab's base physical address back to the slab,
	// so Kfree can find which slab (and class) owns a given address.
	bySlabAddr map[Pa_t]*slab
	slabClass  map[Pa_t]int
}

// NewSlabAllocator creates a slab allocator that draws its pages from
// zone.
func NewSlabAllocator(zone *Zone) *SlabAllocator {
	a := &SlabAllocator{
		zone:       zone,
		bySlabAddr: make(map[Pa_t]*slab),
		slabClass:  make(map[Pa_t]int),
	}
	for i, sz := range sizeClasses {
		a.classes[i].objsize = sz
	}
	return a
}

// classFor returns the index of the smallest size class fitting n bytes,
// or -1 if n exceeds the largest class.
func classFor(n int) int {
	for i, sz := range sizeClasses {
		if n <= sz {
			return i
		}
	}
	return -1
}

// frameOrder returns the buddy order of the smallest whole number of
// frames that holds n bytes, for a request too big for any slab class.
func frameOrder(n int) int {
	pages := (n + PGSIZE - 1) / PGSIZE
	order := 0
	for (1 << uint(order)) < pages {
		order++
	}
	return order
}

// kmallocLarge rounds n up to a whole number of frames and pulls them
// straight from the zone, bypassing the slab classes entirely -- the
// request is already page-granularity or larger, so carving it out of a
// fixed-size-object slab would waste more than it saves.
func (a *SlabAllocator) kmallocLarge(n int) (Pa_t, bool) {
	return a.zone.Allocate(frameOrder(n))
}

// kfreeLarge returns a large allocation's frames to the zone. addr must
// be frame-aligned -- kmallocLarge never hands out anything else -- so a
// misaligned addr here means the caller passed the wrong (addr, n) pair.
func (a *SlabAllocator) kfreeLarge(addr Pa_t, n int) {
	if addr&PGOFFSET != 0 {
		panic("kfree: large allocation address not frame-aligned")
	}
	a.zone.Free(addr, frameOrder(n))
}

// Kmalloc allocates an n-byte object, either from the appropriate slab
// size class (pulling a fresh page from the zone's buddy allocator when
// every existing slab in that class is full) or, for n larger than the
// biggest class, as whole frames straight from the zone.
func (a *SlabAllocator) Kmalloc(n int) (Pa_t, bool) {
	ci := classFor(n)
	if ci < 0 {
		return a.kmallocLarge(n)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	cl := &a.classes[ci]
	if cl.partial == nil {
		pa, ok := a.zone.Allocate(0)
		if !ok {
			return 0, false
		}
		s := newSlab(pa, cl.objsize)
		a.bySlabAddr[pa] = s
		a.slabClass[pa] = ci
		s.next = cl.partial
		cl.partial = s
	}

	s := cl.partial
	addr, _ := s.alloc()
	if s.full() {
		cl.partial = s.next
		s.next = cl.full
		cl.full = s
	}
	return addr, true
}

// Kfree returns an object previously returned by Kmalloc to its slab, or
// (for n larger than the biggest class) whole frames previously returned
// by kmallocLarge directly to the zone. If the slab becomes entirely
// free, its backing page is also returned to the zone.
func (a *SlabAllocator) Kfree(addr Pa_t, n int) {
	ci := classFor(n)
	if ci < 0 {
		a.kfreeLarge(addr, n)
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	base := addr &^ PGOFFSET
	s, ok := a.bySlabAddr[base]
	if !ok {
		panic("kfree: address not in any slab")
	}
	cl := &a.classes[ci]
	wasFull := s.full()
	idx := int(addr-base) / s.objsize
	s.free(idx)

	if wasFull {
		cl.full = removeSlab(cl.full, s)
		s.next = cl.partial
		cl.partial = s
	}

	if s.empty() {
		cl.partial = removeSlab(cl.partial, s)
		delete(a.bySlabAddr, base)
		delete(a.slabClass, base)
		a.zone.Free(base, 0)
	}
}

func removeSlab(head *slab, target *slab) *slab {
	if head == target {
		return head.next
	}
	for p := head; p != nil; p = p.next {
		if p.next == target {
			p.next = target.next
			return head
		}
	}
	return head
}
