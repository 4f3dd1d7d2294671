// Package mem implements the physical frame allocator (a buddy allocator)
// and the slab allocator layered on it. Address space and page-table
// management live in package vm; this package only ever deals in
// physical frames.
//
// The Pa_t/Refup/Refdown reference-counting discipline is generalized to
// the order/zone/watermark model
// original_source/include/kernel/{buddy_allocator.h,zone.h} describes,
// on top of a single frame-addressed byte store rather than a direct
// map.
package mem

import "github.com/pkg/errors"

// PGSHIFT is the base-2 exponent of the page size.
const PGSHIFT = 12

// PGSIZE is the size of a single page in bytes.
const PGSIZE = 1 << PGSHIFT

// PGOFFSET masks the in-page offset of an address.
const PGOFFSET = Pa_t(PGSIZE - 1)

// PGMASK masks the page-aligned part of an address.
const PGMASK = ^PGOFFSET

// MaxOrder is the largest buddy order served (2^20 pages == 4GiB runs).
const MaxOrder = 20

// Pa_t is a physical address.
type Pa_t uintptr

// PFN returns the page-frame number for a physical address.
func (p Pa_t) PFN() uint32 { return uint32(p >> PGSHIFT) }

// PFNToPa converts a page-frame number back to a physical address.
func PFNToPa(pfn uint32) Pa_t { return Pa_t(pfn) << PGSHIFT }

// errAllocExhausted classifies "allocator exhaustion": it
// never escapes to a caller as a Go error, only as a nil/false return —
// kept here so zone/slab code can wrap a cause for logging without
// changing the ABI-facing return value.
var errAllocExhausted = errors.New("allocator exhaustion")
