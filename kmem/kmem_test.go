package kmem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mem"
)

func setup(t *testing.T) {
	t.Helper()
	z := mem.NewZone(mem.ZoneNormal, 0, 1<<12)
	r := mem.NewRAM(1 << 12 * mem.PGSIZE)
	ResetForTest(z, r)
}

func TestAllocPageZeroed(t *testing.T) {
	setup(t)
	pa, err := AllocPage()
	require.Zero(t, err)

	view := Bytes(pa, mem.PGSIZE)
	for _, b := range view {
		assert.Zero(t, b)
	}
}

func TestAllocFreeRefcount(t *testing.T) {
	setup(t)
	pa, err := AllocPage()
	require.Zero(t, err)
	assert.Zero(t, Refcnt(pa), "AllocPage hands back an unowned frame; callers claim it explicitly")

	IncRef(pa)
	assert.Equal(t, 1, Refcnt(pa))

	IncRef(pa)
	assert.Equal(t, 2, Refcnt(pa))

	DecRef(pa)
	DecRef(pa)
}

func TestKmallocKfreeRoundTrip(t *testing.T) {
	setup(t)
	pa, err := Kmalloc(64)
	require.Zero(t, err)
	Kfree(pa, 64)
}

func TestVmallocRoundTrip(t *testing.T) {
	InitVmalloc(0x1000, 0x10000)

	a, err := Vmalloc(0x2000)
	require.Zero(t, err)
	b, err := Vmalloc(0x1000)
	require.Zero(t, err)
	assert.NotEqual(t, a, b)

	Vfree(a, 0x2000)
	Vfree(b, 0x1000)

	// after returning everything, a single request for the whole arena
	// must succeed again -- proves free extents coalesced back together.
	whole, err := Vmalloc(0x10000)
	require.Zero(t, err)
	assert.Equal(t, uintptr(0x1000), whole)
}

func TestVmallocExhaustion(t *testing.T) {
	InitVmalloc(0, 0x1000)
	_, err := Vmalloc(0x1000)
	require.Zero(t, err)
	_, err = Vmalloc(1)
	assert.NotZero(t, err)
}
