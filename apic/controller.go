package apic

// XApic combines a LAPIC and an IOAPIC into the controller variant
// irq.Dispatch drives once SMP bring-up has run: IOAPIC owns IRQ
// enable/disable and vector assignment, LAPIC owns EOI, the timer LVT
// and the INIT/SIPI IPIs bring-up needs (so XApic also satisfies
// sched.LAPIC_i by embedding LAPIC's two IPI methods). Grounded on
// original_source's single APICController class, split here along the
// seam the pack's capability-interface style favors.
type XApic struct {
	*LAPIC
	io *IOAPIC
}

// NewXApic wires a LAPIC and IOAPIC pair into one controller.
func NewXApic(lapic *LAPIC, ioapic *IOAPIC) *XApic {
	return &XApic{LAPIC: lapic, io: ioapic}
}

// irqVector is the fixed IRQ-line-to-vector mapping ioapic_init used:
// most lines keep the PIC-compatible 0x20+irq mapping, the timer is the
// one exception (routed to the APIC-specific timer vector). Line 16
// also maps to 0x30, the same vector as the timer.
func irqVector(irq uint8) uint8 {
	if irq == 0 {
		return apicTimerVector
	}
	return 0x20 + irq
}

func (x *XApic) Init() {
	x.LAPIC.Init()
	x.io.Init(irqVector)
	x.InitTimer()
}

func (x *XApic) EnableIRQ(irq uint8) {
	x.io.setMasked(irq, false)
}

func (x *XApic) DisableIRQ(irq uint8) {
	x.io.setMasked(irq, true)
}

func (x *XApic) RemapVectors() {
	// the IOAPIC's redirection table already carries the vector
	// assignment; nothing to remap the way the PIC needs.
}

func (x *XApic) Vector(irq uint8) uint8 {
	return irqVector(irq)
}
