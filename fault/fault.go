// Package fault installs the page-fault vector's handler: translate a
// trap frame's CR2/error-code pair into a vm.Vm_t.Pgfault call against
// whatever task was running, and halt the CPU on an unresolved fault,
// matching how every other unrecoverable exception is handled.
//
// Grounded on vm.Sys_pgfault's COW fast path (ref-count-1 claim without
// a copy) and original_source/kernel/core/kernel.cpp's page_fault_handler,
// whose unhandled path dumps the frame and halts unconditionally (hlt),
// leaving process termination an unimplemented TODO.
package fault

import (
	"fmt"

	"caller"
	"defs"
	"irq"
	"sched"
)

var reportFn = func(format string, args ...interface{}) {
	fmt.Printf("[fault] "+format+"\n", args...)
}

// Install registers the page-fault vector. Call once at boot, after
// irq.SetController and before interrupts are enabled.
func Install() {
	irq.Register(irq.VectorPageFault, handle)
}

// handle runs the dispatcher contract for VectorPageFault: cpu is
// whichever CPU took the fault, tf carries CR2 (the faulting address)
// and ErrorCode (present/write/user bits, PTE_P|PTE_W|PTE_U-shaped).
func handle(cpu int, tf *irq.TrapFrame_t) {
	t := sched.Current(cpu)
	if t == nil || t.Ctx == nil || t.Ctx.As == nil {
		panicKernelFault(cpu, tf)
		return
	}

	err := t.Ctx.As.Pgfault(t.Id, uintptr(tf.Cr2), uintptr(tf.ErrorCode))
	if err == 0 {
		return
	}

	if tf.Cs&0x3 == 0 {
		// The fault came from ring 0: a real kernel bug, not a user
		// program stepping out of bounds. There's no address space to
		// kill and recover from, so report and stop.
		panicKernelFault(cpu, tf)
		return
	}

	haltUnresolvedFault(cpu, t.Id, tf, err)
}

// haltUnresolvedFault reports a page fault that landed outside every VMA
// in the task's address space and halts the CPU, the same fate as every
// other unrecoverable exception in irq/handlers.go. There is no process
// termination path here yet.
func haltUnresolvedFault(cpu int, tid defs.Tid_t, tf *irq.TrapFrame_t, err defs.Err_t) {
	reportFn("unresolved page fault: pid=%d eip=%#x cr2=%#x err=%#x (%d)",
		tid, tf.Eip, tf.Cr2, tf.ErrorCode, err)
	irq.HaltCPU(cpu)
}

// panicKernelFault dumps the frame and halts; a page fault in ring 0 or
// with no current task means something in the kernel itself is broken,
// and there is no address space to blame instead.
func panicKernelFault(cpu int, tf *irq.TrapFrame_t) {
	reportFn("kernel page fault on cpu %d: eip=%#x cs=%#x cr2=%#x err=%#x",
		cpu, tf.Eip, tf.Cs, tf.Cr2, tf.ErrorCode)
	// The faulting eip/cr2 pair names where the simulated machine was;
	// the Go call stack below it names where in this process's own
	// code the fault was raised from, which is the more useful trail
	// on a host build with no debugger attached to the "hardware".
	caller.Callerdump(2)
	irq.HaltCPU(cpu)
}
