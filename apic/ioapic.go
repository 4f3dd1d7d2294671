package apic

const (
	ioapicIORegSel = 0x00
	ioapicIOWin    = 0x10

	ioredtblStart    = 0x10
	ioapicLevelTrig  = 1 << 14
	ioapicMasked     = 1 << 16
	ioapicDestShift  = 56
)

// numRedirEntries is the IOAPIC's redirection-table size; all 24 entries
// the original's ioapic_init configures.
const numRedirEntries = 24

// IOAPIC programs the I/O APIC's redirection table: one entry per IRQ
// line, each routed to a fixed vector, level-triggered and delivered to
// a single destination APIC ID (the BSP, at bring-up time). Grounded on
// original_source's ioapic_init/ioapic_set_irq.
type IOAPIC struct {
	mmio    MMIO
	destAPIC uint32
}

// NewIOAPIC builds an IOAPIC driver over the given MMIO backend
// (physical address 0xFEC00000 on real hardware), delivering every
// vector to destAPIC (the BSP's local APIC ID).
func NewIOAPIC(mmio MMIO, destAPIC uint32) *IOAPIC {
	return &IOAPIC{mmio: mmio, destAPIC: destAPIC}
}

func (io *IOAPIC) read(reg uint32) uint32 {
	io.mmio.Write32(ioapicIORegSel, reg)
	return io.mmio.Read32(ioapicIOWin)
}

func (io *IOAPIC) write(reg, val uint32) {
	io.mmio.Write32(ioapicIORegSel, reg)
	io.mmio.Write32(ioapicIOWin, val)
}

// SetRedirection programs entry irq (0-23) to deliver vector, level-
// triggered, to this IOAPIC's destination APIC. masked controls the
// entry's mask bit.
func (io *IOAPIC) SetRedirection(irq uint8, vector uint8, masked bool) {
	low := uint32(vector) | ioapicLevelTrig
	if masked {
		low |= ioapicMasked
	}
	high := io.destAPIC << 24 // high dword's top byte is the destination field
	reg := ioredtblStart + 2*uint32(irq)
	io.write(reg, low)
	io.write(reg+1, high)
}

// Init unmasks every one of the 24 redirection entries and routes each
// line to the vector vectorFor returns for it (none pre-masked). The
// vectors need not be distinct: that is up to vectorFor.
func (io *IOAPIC) Init(vectorFor func(irq uint8) uint8) {
	for irq := uint8(0); irq < numRedirEntries; irq++ {
		io.SetRedirection(irq, vectorFor(irq), false)
	}
}

func (io *IOAPIC) setMasked(irq uint8, masked bool) {
	reg := ioredtblStart + 2*uint32(irq)
	low := io.read(reg)
	if masked {
		low |= ioapicMasked
	} else {
		low &^= ioapicMasked
	}
	io.write(reg, low)
}
