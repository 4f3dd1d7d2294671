// Package apic implements the interrupt-controller variants irq.Dispatch
// talks to through irq.Controller: the legacy 8259 PIC pair and the
// xAPIC/IOAPIC pair used once SMP bring-up is active. Both variants are
// expressed over narrow port-I/O and MMIO capability interfaces rather
// than touching memory or ports directly, so they can be driven by a
// simulated backend in tests and by the real thing once hal supplies it.
package apic

// Ports is the raw port-I/O capability the PIC and the PIT timer need.
type Ports interface {
	Out8(port uint16, val uint8)
	In8(port uint16) uint8
}

// MMIO is the raw memory-mapped-register capability the local APIC and
// IOAPIC need. Both devices are addressed as a base plus a register
// offset; real hardware maps that range uncached, a simulated backend
// just backs it with a byte slice or a map.
type MMIO interface {
	Read32(offset uint32) uint32
	Write32(offset uint32, val uint32)
}
