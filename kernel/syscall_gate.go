package kernel

import (
	"irq"
	"sched"
	"syscall"
)

// installSyscallGate registers the software-interrupt vector user mode
// issues `int 0x80` against, translating a trap frame into the
// (cpu, task, a1-a4) shape syscall.Dispatch expects and writing its
// result back into EAX -- the one piece of vector wiring that belongs
// to neither irq (which only knows about raw vectors) nor syscall
// (which only knows about argument words), grounded on
// original_source's interrupt service routine for INT 0x80 reading the
// same four registers off its trap frame before calling into the
// syscall table.
func installSyscallGate() {
	irq.Register(irq.VectorSyscall, func(cpu int, tf *irq.TrapFrame_t) {
		t := sched.Current(cpu)
		if t == nil {
			return
		}
		ret := syscall.Dispatch(cpu, t, tf.Eax, tf.Ebx, tf.Ecx, tf.Edx, tf.Esi)
		// Dispatch runs with the frame already snapshotted into t.Regs by
		// irq.Dispatch; writing the result there (rather than tf directly)
		// means it survives irq.Dispatch's post-handler restoreFrame,
		// which always repopulates tf from whichever task is current
		// afterward.
		t.Regs.Eax = uint32(ret)
	})
}
