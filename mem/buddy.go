package mem

import (
	"fmt"
	"sync"
)

// Frame is the per-frame metadata record: every frame managed by the
// buddy allocator has one, whether it is free or allocated.
type Frame struct {
	Refcnt        int32
	Compound      bool
	CompoundOrder uint8
	CompoundHead  uint32 // pfn, meaningful only when Compound

	// free-list linkage, meaningful only while the frame heads or sits
	// in some order's free list (freeOrder >= 0).
	freeOrder int8
	freePrev  int32
	freeNext  int32
}

const noLink = -1

// ZoneType classifies a contiguous PFN range.
type ZoneType int

const (
	ZoneDMA ZoneType = iota
	ZoneNormal
	ZoneHigh
)

func (z ZoneType) String() string {
	switch z {
	case ZoneDMA:
		return "DMA"
	case ZoneNormal:
		return "Normal"
	case ZoneHigh:
		return "High"
	default:
		return "unknown"
	}
}

// Watermark names one of a zone's three free-page thresholds.
type Watermark int

const (
	WatermarkMin Watermark = iota
	WatermarkLow
	WatermarkHigh
)

// Zone is a contiguous PFN range with its own buddy free lists, free-page
// counter and watermarks.
type Zone struct {
	mu sync.Mutex

	Type       ZoneType
	startPFN   uint32
	frames     []Frame
	freeHead   [MaxOrder + 1]int32
	freePages  uint64
	watermark  [3]uint64
	reportFn   func(string, ...interface{})
}

// NewZone creates a zone over [startPFN, endPFN) and reserves frame 0 of
// the range to hold the frame-metadata array, so page 0 of the managed
// range is never handed out.
func NewZone(typ ZoneType, startPFN, endPFN uint32) *Zone {
	if endPFN <= startPFN {
		panic("empty zone")
	}
	n := endPFN - startPFN
	z := &Zone{
		Type:     typ,
		startPFN: startPFN,
		frames:   make([]Frame, n),
	}
	for i := range z.freeHead {
		z.freeHead[i] = noLink
	}
	for i := range z.frames {
		z.frames[i].freeOrder = -1
	}
	z.reportFn = func(format string, args ...interface{}) {
		fmt.Printf("[mem] "+format+"\n", args...)
	}
	// reserve frame 0 (the metadata header page) and build free lists
	// over the remainder via repeated Free calls at power-of-two runs.
	idx := uint32(1)
	for idx < n {
		order := uint32(0)
		for order < MaxOrder {
			run := uint32(1) << (order + 1)
			if idx+run > n || idx%run != 0 {
				break
			}
			order++
		}
		z.freePages += 1 << order
		z.freeLocked(idx, int(order))
		idx += 1 << order
	}
	return z
}

// SetWatermark configures one of the zone's three watermarks, in pages.
func (z *Zone) SetWatermark(w Watermark, pages uint64) {
	z.mu.Lock()
	z.watermark[w] = pages
	z.mu.Unlock()
}

// BelowWatermark reports whether free_pages has dropped to or below the
// named watermark — wired into kmem.AllocPage to trigger OOM
// notification.
func (z *Zone) BelowWatermark(w Watermark) bool {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.freePages <= z.watermark[w]
}

// FreePages returns the zone's current free-page count.
func (z *Zone) FreePages() uint64 {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.freePages
}

// Contains reports whether addr falls inside this zone's PFN range.
func (z *Zone) Contains(addr Pa_t) bool {
	pfn := addr.PFN()
	return pfn >= z.startPFN && pfn < z.startPFN+uint32(len(z.frames))
}

func (z *Zone) idxOf(addr Pa_t) uint32 { return addr.PFN() - z.startPFN }
func (z *Zone) paOf(idx uint32) Pa_t   { return PFNToPa(z.startPFN + idx) }

// unlink removes frame idx from whatever free list it is currently on.
func (z *Zone) unlink(idx uint32) {
	f := &z.frames[idx]
	order := f.freeOrder
	if order < 0 {
		panic("unlink: not free")
	}
	if f.freePrev != noLink {
		z.frames[f.freePrev].freeNext = f.freeNext
	} else {
		z.freeHead[order] = f.freeNext
	}
	if f.freeNext != noLink {
		z.frames[f.freeNext].freePrev = f.freePrev
	}
	f.freeOrder = -1
	f.freePrev = noLink
	f.freeNext = noLink
}

// linkFree pushes frame idx onto the head of order's free list.
func (z *Zone) linkFree(idx uint32, order int) {
	f := &z.frames[idx]
	f.freeOrder = int8(order)
	f.freePrev = noLink
	f.freeNext = z.freeHead[order]
	if f.freeNext != noLink {
		z.frames[f.freeNext].freePrev = int32(idx)
	}
	z.freeHead[order] = int32(idx)
}

// Allocate serves a request for 2^order contiguous frames. It returns
// the physical address of the head frame, or false if no block of
// sufficient size is available.
func (z *Zone) Allocate(order int) (Pa_t, bool) {
	if order < 0 || order > MaxOrder {
		panic("bad order")
	}
	z.mu.Lock()
	defer z.mu.Unlock()

	found := -1
	for o := order; o <= MaxOrder; o++ {
		if z.freeHead[o] != noLink {
			found = o
			break
		}
	}
	if found < 0 {
		z.reportFn("zone %s: out of memory for order %d", z.Type, order)
		return 0, false
	}

	idx := uint32(z.freeHead[found])
	z.unlink(idx)
	// split down to the requested order, banking each upper buddy half
	for o := found; o > order; o-- {
		half := uint32(1) << (o - 1)
		buddy := idx + half
		z.linkFree(buddy, o-1)
	}
	z.markCompound(idx, order)
	// Refcnt starts at 0: the frame is allocated (off every free list)
	// but not yet owned by any mapping. The first Page_insert of this
	// frame establishes its reference via IncrementRef; a frame that is
	// never mapped (e.g. a page-table page) is returned with Free
	// directly instead of through DecrementRef, so an unclaimed 0 is
	// never mistaken for "on the free list" — the invariant
	// is about free-list membership, which compound/order tracking
	// already encodes independently of Refcnt.
	z.frames[idx].Refcnt = 0
	z.freePages -= 1 << order
	return z.paOf(idx), true
}

func (z *Zone) markCompound(headIdx uint32, order int) {
	n := uint32(1) << order
	for i := uint32(0); i < n; i++ {
		f := &z.frames[headIdx+i]
		f.Compound = true
		f.CompoundOrder = uint8(order)
		f.CompoundHead = z.startPFN + headIdx
	}
}

func (z *Zone) clearCompound(headIdx uint32, order int) {
	n := uint32(1) << order
	for i := uint32(0); i < n; i++ {
		f := &z.frames[headIdx+i]
		f.Compound = false
		f.CompoundOrder = 0
		f.CompoundHead = 0
		f.Refcnt = 0
	}
}

// Free returns a run of 2^order frames starting at addr, coalescing with
// its buddy iteratively up to MaxOrder. A misaligned
// address or one outside the zone fails silently with a rate-limited
// report, matching the "bad-address" handling for this path.
func (z *Zone) Free(addr Pa_t, order int) {
	if uintptr(addr)%(uintptr(PGSIZE)<<uint(order)) != 0 {
		z.reportFn("free: addr %#x misaligned for order %d", addr, order)
		return
	}
	if !z.Contains(addr) {
		z.reportFn("free: addr %#x outside zone %s", addr, z.Type)
		return
	}
	z.mu.Lock()
	defer z.mu.Unlock()
	idx := z.idxOf(addr)
	z.clearCompound(idx, order)
	z.freePages += 1 << order
	z.freeLocked(idx, order)
}

// freeLocked inserts the block at idx/order onto its free list, merging
// with its buddy while possible. Caller holds z.mu.
func (z *Zone) freeLocked(idx uint32, order int) {
	for order < MaxOrder {
		buddy := idx ^ (uint32(1) << order)
		if buddy >= uint32(len(z.frames)) {
			break
		}
		bf := &z.frames[buddy]
		if bf.freeOrder != int8(order) {
			break
		}
		z.unlink(buddy)
		if buddy < idx {
			idx = buddy
		}
		order++
	}
	z.linkFree(idx, order)
}

// refIndex resolves addr to the frame whose refcount actually owns it:
// the compound head if addr is part of a compound allocation, else addr
// itself.
func (z *Zone) refIndex(addr Pa_t) uint32 {
	idx := z.idxOf(addr)
	f := &z.frames[idx]
	if f.Compound {
		return f.CompoundHead - z.startPFN
	}
	return idx
}

// IncrementRef increments the reference count of the frame (or compound
// head) owning addr.
func (z *Zone) IncrementRef(addr Pa_t) {
	z.mu.Lock()
	defer z.mu.Unlock()
	idx := z.refIndex(addr)
	z.frames[idx].Refcnt++
}

// DecrementRef decrements the reference count of the frame (or compound
// head) owning addr, freeing it via Free when it reaches zero.
func (z *Zone) DecrementRef(addr Pa_t) {
	z.mu.Lock()
	f := &z.frames[z.idxOf(addr)]
	idx := z.idxOf(addr)
	if f.Compound {
		idx = f.CompoundHead - z.startPFN
	}
	hf := &z.frames[idx]
	hf.Refcnt--
	if hf.Refcnt < 0 {
		panic("negative refcount")
	}
	zero := hf.Refcnt == 0
	order := int(hf.CompoundOrder)
	z.mu.Unlock()
	if zero {
		z.Free(z.paOf(idx), order)
	}
}

// Refcnt returns the current reference count of the frame owning addr.
func (z *Zone) Refcnt(addr Pa_t) int {
	z.mu.Lock()
	defer z.mu.Unlock()
	return int(z.frames[z.refIndex(addr)].Refcnt)
}

// FreeListLengths returns the number of blocks on each order's free list,
// used by tests to check that a full alloc/free round trip leaves every
// free list exactly as it started.
func (z *Zone) FreeListLengths() [MaxOrder + 1]int {
	z.mu.Lock()
	defer z.mu.Unlock()
	var lens [MaxOrder + 1]int
	for o := 0; o <= MaxOrder; o++ {
		for i := z.freeHead[o]; i != noLink; i = z.frames[i].freeNext {
			lens[o]++
		}
	}
	return lens
}
