package hal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleWriteThenDrain(t *testing.T) {
	c := NewConsole()
	n, err := c.Write(&rawUserio{data: []byte("hello kernel")})
	require.Zero(t, err)
	assert.Equal(t, len("hello kernel"), n)

	buf := make([]byte, 64)
	got := c.Drain(buf)
	assert.Equal(t, "hello kernel", string(buf[:got]))
}

func TestConsoleFeedThenRead(t *testing.T) {
	c := NewConsole()
	n, err := c.Feed([]byte("ls\n"))
	require.Zero(t, err)
	assert.Equal(t, 3, n)

	dst := &rawUserio{}
	rn, rerr := c.Read(dst)
	require.Zero(t, rerr)
	assert.Equal(t, 3, rn)
	assert.Equal(t, "ls\n", string(dst.written))
}

func TestConsoleSeekUnsupported(t *testing.T) {
	c := NewConsole()
	_, err := c.Seek(0, 0)
	assert.NotZero(t, err)
}

func TestConsoleSatisfiesNopIterateAndMmap(t *testing.T) {
	c := NewConsole()
	_, _, _, _, ok := c.Iterate(0)
	assert.False(t, ok)
	_, err := c.Mmap(0, 0, 0)
	assert.NotZero(t, err)
}
