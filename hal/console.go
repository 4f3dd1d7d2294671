package hal

import (
	"sync"

	"circbuf"
	"defs"
	"fdops"
)

// Console is a bidirectional byte device over two circbuf rings: Write
// feeds the output ring, which Drain drains to whatever prints to the
// host terminal; Feed pushes simulated keystrokes into the input ring,
// which Read drains for a reader task. Grounded on ufs/driver.go's
// console_t, made real instead of a no-op stub -- that stub's
// Cons_read always failed and Cons_write discarded its input, since it
// existed only to satisfy a type signature in tests.
type Console struct {
	mu       sync.Mutex
	in, out  circbuf.Circbuf_t
	fdops.NopMmap
	fdops.NopIterate
}

const consoleRingSize = 4096

// NewConsole returns a Console with both rings sized at one page.
func NewConsole() *Console {
	c := &Console{}
	c.in.Cb_init(consoleRingSize)
	c.out.Cb_init(consoleRingSize)
	return c
}

// Feed appends simulated keystrokes to the input ring, as if typed at
// the host terminal. Returns the number of bytes actually accepted;
// the caller drops the rest if the ring is full.
func (c *Console) Feed(b []byte) (int, defs.Err_t) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.in.Copyin(&rawUserio{data: b})
}

// Drain removes up to len(buf) bytes from the output ring into buf,
// returning how many were copied.
func (c *Console) Drain(buf []byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	dst := &rawUserio{}
	n, _ := c.out.Copyout_n(dst, len(buf))
	copy(buf, dst.written)
	return n
}

func (c *Console) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.in.Copyout(dst)
}

func (c *Console) Write(src fdops.Userio_i) (int, defs.Err_t) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Copyin(src)
}

func (c *Console) Seek(off int, whence int) (int, defs.Err_t) { return 0, -defs.ESPIPE }
func (c *Console) Close() defs.Err_t                           { return 0 }
func (c *Console) Reopen() defs.Err_t                          { return 0 }
func (c *Console) Pathi() uint                                 { return 0 }

// rawUserio adapts a plain byte slice to fdops.Userio_i, for Console's
// host-facing Feed/Drain entry points where there's no user virtual
// address to read from or write to.
type rawUserio struct {
	data    []byte
	off     int
	written []byte
}

func (r *rawUserio) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, r.data[r.off:])
	r.off += n
	return n, 0
}

func (r *rawUserio) Uiowrite(src []uint8) (int, defs.Err_t) {
	r.written = append(r.written, src...)
	return len(src), 0
}

func (r *rawUserio) Remain() int  { return len(r.data) - r.off }
func (r *rawUserio) Totalsz() int { return len(r.data) }
