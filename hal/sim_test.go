package hal

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"apic"
)

func TestSimPortsDrivesPIC8259(t *testing.T) {
	ports := NewSimPorts()
	pic := apic.NewPIC8259(ports)
	pic.Init()
	// After Init every IRQ line is masked.
	pic.EnableIRQ(0)
	assert.Equal(t, uint8(0), ports.In8(0x21)&0x1)
}

func TestSimMMIODrivesLAPIC(t *testing.T) {
	mmio := NewSimMMIO()
	lapic := apic.NewLAPIC(mmio)
	lapic.Init()
	lapic.SendEOI()
	assert.Equal(t, uint32(0), mmio.Read32(0xB0))
}

func TestSimTSSRecordsLastWrite(t *testing.T) {
	var tss SimTSS
	tss.SetKernelStack(0xdead0000)
	tss.SetPageDir(0xbeef0000)
	assert.Equal(t, uint32(0xdead0000), tss.KernelStack())
	assert.Equal(t, uint32(0xbeef0000), tss.PageDir())
}
