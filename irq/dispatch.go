package irq

import (
	"fmt"

	"proc"
	"sched"
)

// Handler_t handles one vector. cpu is the CPU the interrupt landed on;
// tf is the frame Dispatch just saved into the current task (handlers
// that need to inspect or rewrite register state, e.g. syscall argument
// marshalling, read/write tf directly).
type Handler_t func(cpu int, tf *TrapFrame_t)

var (
	handlers     [256]Handler_t
	controller   Controller
	tss          TSS_i
	unregistered [256]uint32
	reportFn     = func(format string, args ...interface{}) {
		fmt.Printf("[irq] "+format+"\n", args...)
	}
)

// SetController installs the active interrupt controller variant (PIC8259
// or the xAPIC/IOAPIC pair); Dispatch asks it for EOI after every vector.
func SetController(c Controller) {
	controller = c
}

// SetTSS installs the task-state-segment updater Dispatch calls after a
// context switch so the next ring3->ring0 transition uses the right
// kernel stack and page directory.
func SetTSS(t TSS_i) {
	tss = t
}

// Register installs h as the handler for vector. A nil h clears it.
func Register(vector uint8, h Handler_t) {
	handlers[vector] = h
}

// Registered reports whether vector currently has a handler, for tests
// and boot-time sanity checks.
func Registered(vector uint8) bool {
	return handlers[vector] != nil
}

func saveFrame(t *proc.Task_t, tf *TrapFrame_t) {
	r := &t.Regs
	r.Eax, r.Ebx, r.Ecx, r.Edx = tf.Eax, tf.Ebx, tf.Ecx, tf.Edx
	r.Esi, r.Edi, r.Ebp = tf.Esi, tf.Edi, tf.Ebp
	r.Eip = tf.Eip
	r.Cs = uint16(tf.Cs)
	r.Eflags = tf.Eflags
	if tf.Cs&0x3 != 0 {
		// privilege-level change: hardware also pushed esp/ss
		r.Esp = tf.Esp
		r.Ss = uint16(tf.Ss)
	} else {
		r.Esp = tf.Esp
	}
}

func restoreFrame(t *proc.Task_t, tf *TrapFrame_t) {
	r := &t.Regs
	tf.Eax, tf.Ebx, tf.Ecx, tf.Edx = r.Eax, r.Ebx, r.Ecx, r.Edx
	tf.Esi, tf.Edi, tf.Ebp = r.Esi, r.Edi, r.Ebp
	tf.Eip = r.Eip
	tf.Cs = uint32(r.Cs)
	tf.Eflags = r.Eflags
	tf.Esp = r.Esp
	tf.Ss = uint32(r.Ss)
}

// Dispatch runs the dispatcher contract for one interrupt: save the
// interrupted task's register snapshot, run the registered handler (or
// rate-limit a warning if none is registered), signal EOI, then restore
// whatever task is now current -- the handler may have called the
// scheduler and switched it -- and update the TSS for that task.
func Dispatch(cpu int, vector uint8, tf *TrapFrame_t) {
	tf.Vector = vector

	if cur := sched.Current(cpu); cur != nil {
		saveFrame(cur, tf)
	}

	if h := handlers[vector]; h != nil {
		h(cpu, tf)
	} else {
		warnUnregistered(vector)
	}

	if controller != nil {
		if va, ok := controller.(VectorAware); ok {
			va.SetCurrentVector(vector)
		}
		controller.SendEOI()
	}

	next := sched.Current(cpu)
	if next != nil {
		restoreFrame(next, tf)
		if tss != nil {
			tss.SetKernelStack(next.Kstack.Esp0)
			tss.SetPageDir(next.Regs.Cr3)
		}
	}
}

// warnUnregistered logs the first occurrence of an unhandled vector and
// every 1000th one thereafter, so a storm of spurious interrupts doesn't
// flood the log.
func warnUnregistered(vector uint8) {
	n := unregistered[vector]
	unregistered[vector] = n + 1
	if n == 0 || n%1000 == 0 {
		reportFn("unregistered vector %#x (count=%d)", vector, n+1)
	}
}

// ResetForTest clears the handler table and controller/TSS hooks between
// test cases.
func ResetForTest() {
	handlers = [256]Handler_t{}
	unregistered = [256]uint32{}
	controller = nil
	tss = nil
}
