package apic

// Local APIC register offsets and ICR fields, named after
// original_source's apic.h.
const (
	lapicEOI  = 0xB0
	lapicSIVR = 0xF0
	lapicICR0 = 0x300
	lapicICR1 = 0x310

	lapicLVTTimer     = 0x320
	lapicInitialCount = 0x380
	lapicDivideConfig = 0x3E0

	icrDeliveryInit = 5
	icrDeliverySipi = 6
	icrLevelAssert  = 1 << 14
	icrTriggerLevel = 1 << 15
	icrPendingMask  = 1 << 12
	icrDestShift    = 24

	apicTimerVector     = 0x30
	apicTimerPeriodic   = 0x20000
	apicTimerDivide16   = 0x3
	apicClockFrequency  = 100_000_000
)

// LAPIC drives one CPU's local APIC: spurious-vector setup, EOI, the
// timer LVT entry, and the INIT/SIPI sequence used to bring up
// application processors. Grounded on original_source's apic_init,
// apic_send_eoi, apic_send_init/apic_send_sipi and
// APICController::init_timer/set_timer_frequency.
type LAPIC struct {
	mmio MMIO
}

// NewLAPIC builds a LAPIC driver over the given MMIO backend (the real
// one maps physical address 0xFEE00000; a test backend is a plain
// register file).
func NewLAPIC(mmio MMIO) *LAPIC {
	return &LAPIC{mmio: mmio}
}

func (l *LAPIC) Init() {
	l.mmio.Write32(lapicSIVR, 0x100|0xFF)
}

func (l *LAPIC) SendEOI() {
	l.mmio.Write32(lapicEOI, 0)
}

func (l *LAPIC) waitIdle() {
	for l.mmio.Read32(lapicICR0)&icrPendingMask != 0 {
	}
}

// SendInit issues the INIT IPI to target, asserted and level-triggered,
// matching apic_send_init.
func (l *LAPIC) SendInit(target int) {
	l.mmio.Write32(lapicICR1, uint32(target)<<icrDestShift)
	icr := uint32(icrDeliveryInit) << 8
	icr |= icrLevelAssert | icrTriggerLevel
	l.mmio.Write32(lapicICR0, icr)
	l.waitIdle()
}

// SendSipi issues a startup IPI to target with the given trampoline
// vector (the trampoline's physical page number), matching
// apic_send_sipi.
func (l *LAPIC) SendSipi(vector uint8, target int) {
	l.mmio.Write32(lapicICR1, uint32(target)<<icrDestShift)
	icr := uint32(vector)
	icr |= uint32(icrDeliverySipi) << 8
	icr |= icrLevelAssert | icrTriggerLevel
	l.mmio.Write32(lapicICR0, icr)
	l.waitIdle()
}

func (l *LAPIC) InitTimer() {
	l.mmio.Write32(lapicLVTTimer, apicTimerPeriodic|apicTimerVector)
	l.SetTimerFrequency(100)
}

func (l *LAPIC) SetTimerFrequency(hz uint32) {
	initial := apicClockFrequency / (hz * (apicTimerDivide16 + 1))
	l.mmio.Write32(lapicLVTTimer, apicTimerVector|apicTimerPeriodic)
	l.mmio.Write32(lapicInitialCount, initial)
	l.mmio.Write32(lapicDivideConfig, apicTimerDivide16)
}
