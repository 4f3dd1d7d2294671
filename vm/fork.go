package vm

import (
	"defs"
	"kmem"
)

// CopyMemorySpaceCOW populates dst so that it shares every user frame
// with src, read-only, exactly as the COW duplication
// algorithm specifies (invoked from fork):
//
//  1. every kernel directory slot is shared by pointer copy of the PDE;
//  2. every present user PDE is cloned into a fresh page table; each
//     writable PTE in the parent has its writable and WASCOW bits cleared
//     and the COW bit set, its frame's ref-count incremented, and the resulting
//     PTE copied into the child. Non-writable PTEs are copied as-is
//     (ref-count still incremented). Absent PTEs are copied as-is.
//
// Both address spaces must already be locked by the caller (fork holds
// the parent's lock and the child isn't visible to anyone else yet).
func CopyMemorySpaceCOW(src, dst *Vm_t) defs.Err_t {
	for i := 0; i < PDENTRIES; i++ {
		pde := src.Pmap[i]
		if pde&PTE_P == 0 {
			continue
		}
		if pde&PTE_U == 0 {
			// kernel slot: direct-map window, APIC window, etc. -- shared
			// by every address space, so a pointer copy of the PDE is
			// enough.
			dst.Pmap[i] = pde
			continue
		}

		srcpt := getPT(pde)
		dstpa, dstpt, err := newPTPage()
		if err != 0 {
			return err
		}
		dst.Pmap[i] = dstpa | (pde &^ PTE_ADDR) | PTE_P

		for j := 0; j < PTENTRIES; j++ {
			pte := srcpt[j]
			if pte&PTE_P == 0 {
				dstpt[j] = pte
				continue
			}
			if pte&PTE_W != 0 {
				pte = pte&^(PTE_W|PTE_WASCOW) | PTE_COW
				srcpt[j] = pte
			}
			kmem.IncRef(pte & PTE_ADDR)
			dstpt[j] = pte
		}
	}

	dst.Vmregion.regions = append(dst.Vmregion.regions, src.Vmregion.regions...)
	for _, v := range dst.Vmregion.regions {
		if v.file.mfile != nil && v.file.mfile.mfops != nil {
			v.file.mfile.mfops.Reopen()
		}
	}

	// the parent's previously-writable PTEs were just marked read-only;
	// every CPU with this pmap loaded must stop using stale TLB entries.
	src.TlbshootAll()
	return 0
}
