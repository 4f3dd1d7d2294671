package mem

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRAMZeroAndWrite(t *testing.T) {
	r := NewRAM(4 * PGSIZE)
	page := r.Page(Pa_t(PGSIZE))
	for i := range page {
		page[i] = 0xAB
	}

	r.Zero(Pa_t(PGSIZE))
	again := r.Page(Pa_t(PGSIZE))
	for _, b := range again {
		assert.Zero(t, b)
	}
}

func TestRAMBytesViewIsSharedBacking(t *testing.T) {
	r := NewRAM(PGSIZE)
	view := r.Bytes(0, 16)
	view[0] = 0x42
	assert.Equal(t, byte(0x42), r.Bytes(0, 1)[0])
}
