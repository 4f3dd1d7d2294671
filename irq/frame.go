// Package irq dispatches hardware interrupts, CPU exceptions and the
// syscall gate through a 256-entry handler table, following the uniform
// trap-frame contract an assembly stub establishes before calling into
// Go: save registers, call the dispatcher with a vector number and a
// frame pointer, restore whatever is current afterward.
package irq

// TrapFrame_t is the uniform frame an assembly stub builds on entry: the
// general-purpose registers it pushes explicitly, followed by whatever
// the CPU itself pushed (error code only present for exceptions that
// define one; Esp/Ss only present when the interrupt crossed a privilege
// boundary from ring 3).
type TrapFrame_t struct {
	Eax, Ebx, Ecx, Edx uint32
	Esi, Edi, Ebp      uint32

	Vector    uint8
	ErrorCode uint32

	// Cr2 is the faulting linear address, valid only for VectorPageFault
	// (the real CPU loads CR2 on a page fault and leaves it alone for
	// every other exception; the stub copies it in only for that vector).
	Cr2 uint32

	Eip    uint32
	Cs     uint32
	Eflags uint32
	Esp    uint32
	Ss     uint32
}
