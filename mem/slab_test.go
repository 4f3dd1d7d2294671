package mem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlabAllocFreeDistinctObjects(t *testing.T) {
	z := NewZone(ZoneNormal, 0, 1<<10)
	a := NewSlabAllocator(z)

	seen := make(map[Pa_t]bool)
	for i := 0; i < 100; i++ {
		pa, ok := a.Kmalloc(32)
		require.True(t, ok)
		assert.False(t, seen[pa], "kmalloc must never hand out the same object twice while live")
		seen[pa] = true
	}
}

func TestSlabClassSelection(t *testing.T) {
	assert.Equal(t, 0, classFor(1))
	assert.Equal(t, 0, classFor(8))
	assert.Equal(t, 1, classFor(9))
	assert.Equal(t, len(sizeClasses)-1, classFor(2048))
	assert.Equal(t, -1, classFor(2049))
}

func TestSlabFreeReturnsPageToZone(t *testing.T) {
	z := NewZone(ZoneNormal, 0, 1<<10)
	a := NewSlabAllocator(z)

	before := z.FreeListLengths()

	objsPerPage := PGSIZE / 2048
	var objs []Pa_t
	for i := 0; i < objsPerPage; i++ {
		pa, ok := a.Kmalloc(2048)
		require.True(t, ok)
		objs = append(objs, pa)
	}

	for _, pa := range objs {
		a.Kfree(pa, 2048)
	}

	after := z.FreeListLengths()
	assert.Equal(t, before, after, "freeing every object in a slab must return its page to the zone")
}

func TestFrameOrderRoundsUpToWholeFrames(t *testing.T) {
	assert.Equal(t, 0, frameOrder(1))
	assert.Equal(t, 0, frameOrder(PGSIZE))
	assert.Equal(t, 1, frameOrder(PGSIZE+1))
	assert.Equal(t, 2, frameOrder(3*PGSIZE))
}

func TestKmallocLargeRequestBypassesSlabClasses(t *testing.T) {
	z := NewZone(ZoneNormal, 0, 1<<10)
	a := NewSlabAllocator(z)

	before := z.FreeListLengths()
	pa, ok := a.Kmalloc(3 * PGSIZE)
	require.True(t, ok)
	assert.Zero(t, pa&PGOFFSET, "a large allocation must start on a frame boundary")

	after := z.FreeListLengths()
	assert.NotEqual(t, before, after, "a large kmalloc must draw straight from the zone, not a slab class")

	a.Kfree(pa, 3*PGSIZE)
	assert.Equal(t, before, z.FreeListLengths(), "freeing a large allocation must return its frames to the zone")
}

func TestKfreeLargeMisalignedAddrPanics(t *testing.T) {
	z := NewZone(ZoneNormal, 0, 1<<10)
	a := NewSlabAllocator(z)

	pa, ok := a.Kmalloc(3 * PGSIZE)
	require.True(t, ok)

	assert.Panics(t, func() { a.kfreeLarge(pa+1, 3*PGSIZE) })
}

func TestSlabPartialReuseBeforeNewPage(t *testing.T) {
	z := NewZone(ZoneNormal, 0, 1<<10)
	a := NewSlabAllocator(z)

	// a second live object keeps the slab partial once pa1 is freed, so
	// Kfree does not hand the slab's page back to the zone.
	_, ok := a.Kmalloc(16)
	require.True(t, ok)
	pa1, ok := a.Kmalloc(16)
	require.True(t, ok)
	a.Kfree(pa1, 16)

	before := z.FreeListLengths()
	pa2, ok := a.Kmalloc(16)
	require.True(t, ok)
	after := z.FreeListLengths()

	assert.Equal(t, pa1, pa2, "a freed slot should be reused before drawing a fresh page")
	assert.Equal(t, before, after, "reusing a freed slot must not touch the zone's free lists")
}
