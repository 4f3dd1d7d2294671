package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kmem"
	"mem"
)

func setupVM(t *testing.T) {
	t.Helper()
	z := mem.NewZone(mem.ZoneNormal, 0, 1<<14)
	r := mem.NewRAM(1 << 14 * mem.PGSIZE)
	kmem.ResetForTest(z, r)
}

func TestVmadAnonPagefaultDemandZero(t *testing.T) {
	setupVM(t)
	as, err := NewVm_t()
	require.Zero(t, err)

	start := Mmapmin
	as.Vmadd_anon(start, PGSIZE, PTE_U|PTE_W)

	buf, err := as.Userdmap8r(start)
	require.Zero(t, err)
	assert.Len(t, buf, PGSIZE)
	for _, b := range buf {
		assert.Zero(t, b, "demand-zero page must read as all zero before any write")
	}
}

func TestCOWWriteTriggersPrivateCopy(t *testing.T) {
	setupVM(t)
	parent, err := NewVm_t()
	require.Zero(t, err)

	start := Mmapmin
	parent.Vmadd_anon(start, PGSIZE, PTE_U|PTE_W)

	// fault in a writable page in the parent first so it has a private,
	// non-zero-page frame to share.
	werr := parent.Userwriten(start, 4, 0x41424344)
	require.Zero(t, werr)

	child, err := NewVm_t()
	require.Zero(t, err)

	parent.Lock_pmap()
	ferr := CopyMemorySpaceCOW(parent, child)
	parent.Unlock_pmap()
	require.Zero(t, ferr)

	// both parent and child must read the same value post-fork
	pv, _ := parent.Userreadn(start, 4)
	cv, err := child.Userreadn(start, 4)
	require.Zero(t, err)
	assert.Equal(t, pv, cv)

	// writing in the child must not change what the parent sees (COW)
	werr = child.Userwriten(start, 4, 0x11223344)
	require.Zero(t, werr)
	cv2, _ := child.Userreadn(start, 4)
	pv2, _ := parent.Userreadn(start, 4)
	assert.Equal(t, 0x11223344, cv2)
	assert.Equal(t, pv, pv2, "parent's copy must be unaffected by the child's post-fork write")
}

func TestVmregionDisjointAndBounded(t *testing.T) {
	r := &Vmregion_t{}
	vmi1 := &Vminfo_t{Mtype: VANON, Pgn: uintptr(Mmapmin) >> PGSHIFT, Pglen: 1, Perms: uint(PTE_U | PTE_W)}
	r.insert(vmi1)

	overlapping := &Vminfo_t{Mtype: VANON, Pgn: uintptr(Mmapmin) >> PGSHIFT, Pglen: 1, Perms: uint(PTE_U)}
	assert.Panics(t, func() { r.insert(overlapping) })
}

func TestVmregionEmptyFindsGap(t *testing.T) {
	r := &Vmregion_t{}
	vmi := &Vminfo_t{Mtype: VANON, Pgn: uintptr(Mmapmin) >> PGSHIFT, Pglen: 1, Perms: uint(PTE_U | PTE_W)}
	r.insert(vmi)

	start, l := r.empty(uintptr(Mmapmin), PGSIZE)
	assert.GreaterOrEqual(t, start, uintptr(Mmapmin+PGSIZE))
	assert.GreaterOrEqual(t, l, uintptr(PGSIZE))
}
