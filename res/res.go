// Package res implements resource admission: before a kernel operation
// that may allocate a bounded but nonzero number of pages, it reserves
// that many pages from the "in-flight" budget so a pile of concurrent
// requests cannot exhaust the heap in ways allocator exhaustion handling
// can't see coming one call at a time.
//
// Shipped empty in the retrieval pack; reconstructed from its call sites
// in vm.K2user_inner/User2k_inner (res.Resadd_noblock(gimme)).
package res

import "sync/atomic"

// budget is the number of pages available for reservation by bounded
// operations, independent of the physical frame allocator's own free
// count — it exists to fail fast under contention rather than let every
// caller race the allocator individually.
var budget int64

// SetBudget configures the total reservable budget; called once at boot
// from kmem after the zones are sized.
func SetBudget(pages int) {
	atomic.StoreInt64(&budget, int64(pages))
}

// Resadd_noblock reserves n pages from the budget without blocking. It
// returns false if the budget is exhausted, in which case the caller
// must translate that into -defs.ENOHEAP.
func Resadd_noblock(n int) bool {
	for {
		cur := atomic.LoadInt64(&budget)
		if cur < int64(n) {
			return false
		}
		if atomic.CompareAndSwapInt64(&budget, cur, cur-int64(n)) {
			return true
		}
	}
}

// Resadd returns n reserved pages to the budget.
func Resadd(n int) {
	atomic.AddInt64(&budget, int64(n))
}
