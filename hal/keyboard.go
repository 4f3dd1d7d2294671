package hal

import (
	"sync"

	"circbuf"
	"defs"
	"fdops"
)

const keyboardRingSize = 256

// Keyboard is a one-directional byte device: Feed appends scancodes (or
// simulated keystrokes) as they arrive, Read drains them for whatever
// reads /dev/kbd. Grounded the same way Console is, on ufs/driver.go's
// console_t, generalized to a dedicated input-only device since the
// real keyboard never has an output ring to drain.
type Keyboard struct {
	mu  sync.Mutex
	buf circbuf.Circbuf_t
}

// NewKeyboard returns a Keyboard with a keyboardRingSize-byte input ring.
func NewKeyboard() *Keyboard {
	k := &Keyboard{}
	k.buf.Cb_init(keyboardRingSize)
	return k
}

// Feed appends scancodes to the ring, dropping whatever doesn't fit.
func (k *Keyboard) Feed(b []byte) (int, defs.Err_t) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.buf.Copyin(&rawUserio{data: b})
}

func (k *Keyboard) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.buf.Copyout(dst)
}
