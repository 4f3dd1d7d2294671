// Package bounds names the call sites that admit bounded kernel-heap
// consumption so res.Resadd_noblock can account for worst-case demand
// before a long-running copy loop starts.
//
// Shipped empty in the retrieval pack; reconstructed from its call sites in
// vm.K2user_inner/User2k_inner (bounds.Bounds(bounds.B_ASPACE_T_K2USER_INNER)).
package bounds

// Bound_t names one bounded operation and its worst-case heap cost in
// pages, so res can check the cost against available memory up front
// instead of discovering exhaustion mid-copy.
type Bound_t int

const (
	B_ASPACE_T_K2USER_INNER Bound_t = iota
	B_ASPACE_T_USER2K_INNER
	B_VM_T_PGFAULT
	B_FS_T_READ
	B_FS_T_WRITE
	B_USERBUF_T__TX
	B_USERIOVEC_T_IOV_INIT
	B_USERIOVEC_T__TX
	b_count
)

// costs holds the worst-case number of pages each bounded operation may
// touch in a single invocation; one page per copy step is the current
// bound for every registered site.
var costs = [b_count]int{
	B_ASPACE_T_K2USER_INNER: 1,
	B_ASPACE_T_USER2K_INNER: 1,
	B_VM_T_PGFAULT:          1,
	B_FS_T_READ:             1,
	B_FS_T_WRITE:            1,
	B_USERBUF_T__TX:         1,
	B_USERIOVEC_T_IOV_INIT:  1,
	B_USERIOVEC_T__TX:       1,
}

// Bounds returns the worst-case page cost of the named bounded operation.
func Bounds(b Bound_t) int {
	return costs[b]
}
