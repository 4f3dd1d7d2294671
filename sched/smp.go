package sched

import (
	"sync"
	"sync/atomic"
)

// LAPIC_i is the narrow capability bring-up needs from the local APIC:
// sending the INIT and startup IPIs that kick an AP out of its halted
// reset state. Package apic supplies the real xAPIC/IOAPIC-backed
// implementation; this interface exists so sched can be built and
// tested before apic is.
type LAPIC_i interface {
	SendInit(target int)
	SendSipi(vector uint8, target int)
}

// ReadyCount is the number of APs that have finished ap_entry and
// incremented it, mirroring original_source's volatile
// cpu_ready_count -- exported so a test or a boot progress log can
// observe it.
var ReadyCount int32

// BringUp drives the INIT-wait-SIPI-wait-SIPI sequence for every AP
// (CPU ids [1, ncpu)), then waits for all of them to finish their
// ap_entry before returning, mirroring smp_init's "wait until the ready
// counter equals cpu_count-1" -- a real AP spins on cpu_ready_count
// after executing a hand-written assembly trampoline; there is neither
// real hardware nor a trampoline to wait on here, so each AP's ap_entry
// runs as a goroutine and a sync.WaitGroup stands in for the busy-wait,
// while ReadyCount is still maintained as the observable counter the
// original API exposes.
//
// trampolinePhys supplies the SIPI startup vector, computed the same
// way as smp_init: (trampolinePhys >> 12) & 0xFF.
func BringUp(lapic LAPIC_i, ncpu int, trampolinePhys uintptr, apEntry func(cpuid int)) {
	atomic.StoreInt32(&ReadyCount, 0)
	vector := uint8((trampolinePhys >> 12) & 0xFF)

	var wg sync.WaitGroup
	for id := 1; id < ncpu; id++ {
		lapic.SendInit(id)
		lapic.SendSipi(vector, id)
		lapic.SendSipi(vector, id)

		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			apEntry(id)
			atomic.AddInt32(&ReadyCount, 1)
		}(id)
	}
	wg.Wait()
}

// DefaultApEntry performs the portion of ap_entry's init sequence that
// has a hosted meaning: installing cpu's idle task as current, the step
// that in original_source follows LAPIC/GDT/IDT/TSS/page-directory
// setup (hal/irq/vm concerns this simulation's apEntry callback is
// responsible for running before this). Enabling interrupts and halting
// in a loop have no effect to model without real hardware, so they are
// omitted.
func DefaultApEntry(cpu int) {
	mu.Lock()
	defer mu.Unlock()
	requireInit()
	current[cpu] = idleTasks[cpu]
}
