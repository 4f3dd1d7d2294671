package proc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"defs"
	"fd"
	"fdops"
)

// fakeConsole is a minimal Fdops_i stand-in, just enough to exercise fd
// table plumbing without pulling in a real console device.
type fakeConsole struct {
	fdops.NopMmap
	fdops.NopIterate
	reopens int
	closed  bool
}

func (f *fakeConsole) Read(dst fdops.Userio_i) (int, defs.Err_t)  { return 0, 0 }
func (f *fakeConsole) Write(src fdops.Userio_i) (int, defs.Err_t) { return 0, 0 }
func (f *fakeConsole) Seek(off int, whence int) (int, defs.Err_t) { return 0, -defs.ESPIPE }
func (f *fakeConsole) Close() defs.Err_t                          { f.closed = true; return 0 }
func (f *fakeConsole) Reopen() defs.Err_t                         { f.reopens++; return 0 }
func (f *fakeConsole) Pathi() uint                                { return 0 }

func TestBindStdFdsPopulatesFirstThreeSlots(t *testing.T) {
	setupProc(t)
	ctx, err := NewContext(1)
	require.Zero(t, err)

	console := &fakeConsole{}
	require.Zero(t, ctx.BindStdFds(console))

	for i := 0; i < 3; i++ {
		f, ok := ctx.Getfd(i)
		require.True(t, ok)
		assert.Same(t, console, f.Fops)
	}
	_, ok := ctx.Getfd(3)
	assert.False(t, ok)
}

func TestInheritStdFdsClonesParentConsole(t *testing.T) {
	setupProc(t)
	parent, err := NewContext(1)
	require.Zero(t, err)
	console := &fakeConsole{}
	require.Zero(t, parent.BindStdFds(console))

	child, err := NewContext(2)
	require.Zero(t, err)
	require.Zero(t, child.InheritStdFds(parent))

	for i := 0; i < 3; i++ {
		f, ok := child.Getfd(i)
		require.True(t, ok)
		assert.Same(t, console, f.Fops)
	}
	// Reopen is called once for BindStdFds's two Copyfd dups, plus once
	// more per descriptor InheritStdFds copies.
	assert.Equal(t, 5, console.reopens)
}

func TestAllocfdSkipsReservedSlots(t *testing.T) {
	setupProc(t)
	ctx, err := NewContext(1)
	require.Zero(t, err)

	console := &fakeConsole{}
	n, err := ctx.Allocfd(&fd.Fd_t{Fops: console, Perms: fd.FD_READ})
	require.Zero(t, err)
	assert.GreaterOrEqual(t, n, 3)
}

func TestClosefdFreesSlot(t *testing.T) {
	setupProc(t)
	ctx, err := NewContext(1)
	require.Zero(t, err)
	console := &fakeConsole{}
	n, err := ctx.Allocfd(&fd.Fd_t{Fops: console, Perms: fd.FD_READ})
	require.Zero(t, err)

	require.Zero(t, ctx.Closefd(n))
	assert.True(t, console.closed)
	_, ok := ctx.Getfd(n)
	assert.False(t, ok)
}

func TestForkClonesFdsAndCwd(t *testing.T) {
	setupProc(t)
	parent, err := NewContext(1)
	require.Zero(t, err)
	console := &fakeConsole{}
	require.Zero(t, parent.BindStdFds(console))
	parent.SetCwd(parent.Fds[0])

	child, err := parent.Fork(2)
	require.Zero(t, err)

	assert.NotSame(t, parent.As, child.As)
	for i := 0; i < 3; i++ {
		pf, _ := parent.Getfd(i)
		cf, _ := child.Getfd(i)
		assert.NotSame(t, pf, cf, "fork must duplicate the Fd_t, not alias it")
		assert.Same(t, pf.Fops, cf.Fops)
	}
	assert.NotSame(t, parent.Cwd, child.Cwd)
	assert.Equal(t, string(parent.Cwd.Path), string(child.Cwd.Path))
}
