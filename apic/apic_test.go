package apic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakePorts struct {
	regs map[uint16][]uint8
}

func newFakePorts() *fakePorts {
	return &fakePorts{regs: make(map[uint16][]uint8)}
}

func (f *fakePorts) Out8(port uint16, val uint8) {
	f.regs[port] = append(f.regs[port], val)
}

func (f *fakePorts) In8(port uint16) uint8 {
	vs := f.regs[port]
	if len(vs) == 0 {
		return 0
	}
	return vs[len(vs)-1]
}

type mmioWrite struct {
	off, val uint32
}

type fakeMMIO struct {
	regs  map[uint32]uint32
	trace []mmioWrite
}

func newFakeMMIO() *fakeMMIO {
	return &fakeMMIO{regs: make(map[uint32]uint32)}
}

func (f *fakeMMIO) Read32(off uint32) uint32 { return f.regs[off] }
func (f *fakeMMIO) Write32(off uint32, v uint32) {
	f.regs[off] = v
	f.trace = append(f.trace, mmioWrite{off, v})
}

func TestPIC8259InitRemapsAndMasks(t *testing.T) {
	ports := newFakePorts()
	pic := NewPIC8259(ports)
	pic.Init()

	assert.Equal(t, uint8(0xFF), ports.In8(pic1Data))
	assert.Equal(t, uint8(0xFF), ports.In8(pic2Data))
}

func TestPIC8259EnableDisableIRQ(t *testing.T) {
	ports := newFakePorts()
	pic := NewPIC8259(ports)
	pic.Init()

	pic.EnableIRQ(3)
	assert.Equal(t, uint8(0xFF&^(1<<3)), ports.In8(pic1Data))

	pic.DisableIRQ(3)
	assert.Equal(t, uint8(0xFF), ports.In8(pic1Data))

	pic.EnableIRQ(10)
	assert.Equal(t, uint8(0xFF&^(1<<2)), ports.In8(pic2Data))
}

func TestPIC8259VectorMapping(t *testing.T) {
	pic := NewPIC8259(newFakePorts())
	assert.Equal(t, uint8(0x20), pic.Vector(0))
	assert.Equal(t, uint8(0x2F), pic.Vector(15))
}

func TestPIC8259SendEOISendsToBothControllersForSlaveVector(t *testing.T) {
	ports := newFakePorts()
	pic := NewPIC8259(ports)
	pic.SetCurrentVector(0x2A) // IRQ10, on the slave PIC
	pic.SendEOI()

	assert.Contains(t, ports.regs[pic1Command], uint8(0x20))
	assert.Contains(t, ports.regs[pic2Command], uint8(0x20))
}

func TestLAPICSendInitAndSipiProgramICR(t *testing.T) {
	mmio := newFakeMMIO()
	l := NewLAPIC(mmio)

	l.SendInit(2)
	assert.Equal(t, uint32(2)<<24, mmio.regs[lapicICR1])
	assert.Equal(t, uint32(icrDeliveryInit)<<8|icrLevelAssert|icrTriggerLevel, mmio.regs[lapicICR0])

	l.SendSipi(0x08, 2)
	assert.Equal(t, uint32(0x08)|uint32(icrDeliverySipi)<<8|icrLevelAssert|icrTriggerLevel, mmio.regs[lapicICR0])
}

func TestLAPICSendEOIWritesZero(t *testing.T) {
	mmio := newFakeMMIO()
	mmio.regs[lapicEOI] = 7
	l := NewLAPIC(mmio)
	l.SendEOI()
	assert.Equal(t, uint32(0), mmio.regs[lapicEOI])
}

func TestIOAPICSetRedirectionSplitsHighLow(t *testing.T) {
	mmio := newFakeMMIO()
	io := NewIOAPIC(mmio, 0x01)
	io.SetRedirection(5, 0x25, false)

	// four writes in order: select(low reg), window(low value),
	// select(high reg), window(high value).
	require := mmio.trace
	assertLen(t, require, 4)
	assert.Equal(t, uint32(ioredtblStart+2*5), require[0].val)
	assert.Equal(t, uint32(0x25)|uint32(ioapicLevelTrig), require[1].val)
	assert.Equal(t, uint32(ioredtblStart+2*5+1), require[2].val)
	assert.Equal(t, uint32(0x01)<<24, require[3].val)
}

func assertLen(t *testing.T, trace []mmioWrite, n int) {
	t.Helper()
	assert.Equal(t, n, len(trace))
}

func TestXApicEnableDisableDelegatesToIOAPIC(t *testing.T) {
	lmmio := newFakeMMIO()
	iommio := newFakeMMIO()
	x := NewXApic(NewLAPIC(lmmio), NewIOAPIC(iommio, 0))

	x.EnableIRQ(1)
	x.DisableIRQ(1)
	assert.NotEmpty(t, iommio.trace)
}

func TestXApicVectorMapping(t *testing.T) {
	x := NewXApic(NewLAPIC(newFakeMMIO()), NewIOAPIC(newFakeMMIO(), 0))
	assert.Equal(t, uint8(apicTimerVector), x.Vector(0))
	assert.Equal(t, uint8(0x21), x.Vector(1))
}
