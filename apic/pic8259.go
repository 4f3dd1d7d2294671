package apic

// Port and ICW/OCW constants, named after original_source's pic8259.h.
const (
	pic1Command = 0x20
	pic1Data    = 0x21
	pic2Command = 0xA0
	pic2Data    = 0xA1

	icw1Init = 0x10
	icw1Icw4 = 0x01
	icw4_8086 = 0x01
	picEOI   = 0x20

	pic1VectorOffset = 0x20
	pic2VectorOffset = 0x28
	pic1CascadeIRQ   = 0x04
	pic2CascadeID    = 0x02

	pitMode     = 0x43
	pitChannel0 = 0x40
	pitBaseFreq = 1193180

	defaultTimerHz = 100
)

// PIC8259 drives the legacy master/slave 8259A pair plus the PIT channel
// 0 for the timer tick, grounded on original_source's PIC8259 class.
type PIC8259 struct {
	ports   Ports
	current uint8
}

// NewPIC8259 builds a controller over the given port-I/O backend.
func NewPIC8259(ports Ports) *PIC8259 {
	return &PIC8259{ports: ports}
}

func (p *PIC8259) Init() {
	p.RemapVectors()

	p.ports.Out8(pic1Data, pic1CascadeIRQ)
	p.ports.Out8(pic2Data, pic2CascadeID)

	p.ports.Out8(pic1Data, icw4_8086)
	p.ports.Out8(pic2Data, icw4_8086)

	// mask everything; callers enable what they need via EnableIRQ
	p.ports.Out8(pic1Data, 0xFF)
	p.ports.Out8(pic2Data, 0xFF)

	p.InitTimer()
}

func (p *PIC8259) RemapVectors() {
	p.ports.Out8(pic1Command, icw1Init|icw1Icw4)
	p.ports.Out8(pic2Command, icw1Init|icw1Icw4)
	p.ports.Out8(pic1Data, pic1VectorOffset)
	p.ports.Out8(pic2Data, pic2VectorOffset)
}

func (p *PIC8259) SendEOI() {
	if p.current >= pic1VectorOffset && p.current <= pic1VectorOffset+15 {
		p.ports.Out8(pic1Command, picEOI)
		if p.current >= pic2VectorOffset {
			p.ports.Out8(pic2Command, picEOI)
		}
	}
}

func (p *PIC8259) EnableIRQ(irq uint8) {
	port, bit := p.portAndBit(irq)
	v := p.ports.In8(port)
	p.ports.Out8(port, v&^(1<<bit))
}

func (p *PIC8259) DisableIRQ(irq uint8) {
	port, bit := p.portAndBit(irq)
	v := p.ports.In8(port)
	p.ports.Out8(port, v|(1<<bit))
}

func (p *PIC8259) portAndBit(irq uint8) (uint16, uint8) {
	if irq < 8 {
		return pic1Data, irq
	}
	return pic2Data, irq - 8
}

// Vector maps IRQ line to delivered vector: the PIC remaps IRQ0-15
// straight onto 0x20-0x2F.
func (p *PIC8259) Vector(irq uint8) uint8 {
	return pic1VectorOffset + irq
}

func (p *PIC8259) InitTimer() {
	p.ports.Out8(pitMode, 0x36)
	p.SetTimerFrequency(defaultTimerHz)
}

func (p *PIC8259) SetTimerFrequency(hz uint32) {
	divisor := uint16(pitBaseFreq / hz)
	p.ports.Out8(pitChannel0, uint8(divisor&0xFF))
	p.ports.Out8(pitChannel0, uint8(divisor>>8))
}

// SetCurrentVector records the vector currently being serviced, so
// SendEOI knows whether (and which PICs) to acknowledge. The dispatcher
// calls this before SendEOI; tests may call it directly.
func (p *PIC8259) SetCurrentVector(v uint8) {
	p.current = v
}
