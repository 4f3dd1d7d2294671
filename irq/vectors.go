package irq

// CPU exception vectors (0x00-0x1F), numbered per the IA-32 architecture
// and original_source/include/arch/x86/interrupt.h.
const (
	VectorDivideError  = 0x00
	VectorDebug        = 0x01
	VectorNMI          = 0x02
	VectorBreakpoint   = 0x03
	VectorOverflow     = 0x04
	VectorBoundRange   = 0x05
	VectorInvalidOp    = 0x06
	VectorDeviceNA     = 0x07
	VectorDoubleFault  = 0x08
	VectorInvalidTSS   = 0x0A
	VectorSegmentNP    = 0x0B
	VectorStackFault   = 0x0C
	VectorGPFault      = 0x0D
	VectorPageFault    = 0x0E
)

// External IRQ base. The PIC remaps IRQ0-15 to VectorIRQBase..+15; the
// APIC variant additionally uses vectors up to 0x3F for IPIs.
const VectorIRQBase = 0x20

// VectorTimer is the vector the PIC remaps the timer line to. The APIC
// variant routes its timer to its own vector (apicTimerVector) instead.
const VectorTimer = VectorIRQBase + 0

// VectorSyscall is the software-interrupt gate user mode issues `int`
// against, the traditional Linux-compatible value.
const VectorSyscall = 0x80
