package irq

import "sched"

// HaltCPU is called by the default fault handlers after dumping state for
// an exception nothing can recover from. kernel.Boot installs a
// primitive that records the CPU as halted; tests that do not boot leave
// it at the default, which just panics so a bad trace is impossible to
// miss.
var HaltCPU = func(cpu int) {
	panic("irq: halt requested with no HaltCPU installed")
}

// InstallTimerHandler registers the timer IRQ to drive the scheduler's
// tick entry, the only thing the dispatcher itself needs to know about
// scheduling.
func InstallTimerHandler() {
	Register(VectorTimer, func(cpu int, tf *TrapFrame_t) {
		sched.Tick(cpu)
	})
}

// InstallFaultHandlers registers the exceptions that have no recovery
// path of their own: general protection, stack fault and segment-not-
// present all log the frame and halt the CPU. Page faults are handled
// separately by whatever registers VectorPageFault (see package fault);
// leaving it unregistered here means a page fault before that
// registration falls through to the rate-limited warning instead of
// silently corrupting state.
func InstallFaultHandlers() {
	fatal := func(name string) Handler_t {
		return func(cpu int, tf *TrapFrame_t) {
			reportFn("%s on cpu %d: eip=%#x cs=%#x eflags=%#x err=%#x",
				name, cpu, tf.Eip, tf.Cs, tf.Eflags, tf.ErrorCode)
			HaltCPU(cpu)
		}
	}
	Register(VectorSegmentNP, fatal("segment not present"))
	Register(VectorStackFault, fatal("stack fault"))
	Register(VectorGPFault, fatal("general protection fault"))
}
