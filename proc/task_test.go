package proc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kmem"
	"limits"
	"mem"
)

func setupProc(t *testing.T) {
	t.Helper()
	z := mem.NewZone(mem.ZoneNormal, 0, 1<<14)
	r := mem.NewRAM(1 << 14 * mem.PGSIZE)
	kmem.ResetForTest(z, r)
}

func TestNewTaskKernelStack(t *testing.T) {
	setupProc(t)
	ctx, err := NewContext(1)
	require.Zero(t, err)

	task, err := NewTask(1, "init", ctx, 0)
	require.Zero(t, err)

	assert.Equal(t, TaskNew, task.State)
	assert.Equal(t, DefaultTimeSlice, task.TimeSlice)
	assert.NotZero(t, task.Regs.Esp, "kernel stack must have a non-zero initial ESP")
	assert.Equal(t, task.Regs.Esp, task.Kstack.Esp0)
	assert.Equal(t, uint32(kernelCS), task.Regs.Cs)
}

func TestNewUserTaskEagerlyBacksStack(t *testing.T) {
	setupProc(t)
	ctx, err := NewContext(1)
	require.Zero(t, err)

	task, err := NewUserTask(1, "sh", ctx, 0)
	require.Zero(t, err)
	require.NotZero(t, task.Ustack.Base)
	assert.Equal(t, uintptr(UstackSize), task.Ustack.Size)

	// eagerly backed: reading the freshly mapped stack must not fault,
	// and must read back as zero without ever taking a copy-on-write
	// private-copy path first.
	v, err := ctx.As.Userreadn(int(task.Ustack.Base), 4)
	require.Zero(t, err)
	assert.Zero(t, v)
}

func TestSwitchToUserModeSetsEntryAndFlags(t *testing.T) {
	setupProc(t)
	ctx, err := NewContext(1)
	require.Zero(t, err)
	task, err := NewUserTask(1, "sh", ctx, 0)
	require.Zero(t, err)

	task.SwitchToUserMode(0x08048000)

	assert.Equal(t, uint32(0x08048000), task.Regs.Eip)
	assert.Equal(t, uint32(userCS), task.Regs.Cs)
	assert.NotZero(t, task.Regs.Eflags&(1<<9), "EFLAGS.IF must be set before entering ring 3")
	assert.Equal(t, TaskReady, task.State)
	assert.Equal(t, uint32(task.Ustack.Base)+uint32(task.Ustack.Size), task.Regs.Esp)
}

func TestRunnableExcludesBlockedStates(t *testing.T) {
	task := &Task_t{State: TaskReady}
	assert.True(t, task.Runnable())

	task.State = TaskSleeping
	assert.False(t, task.Runnable())

	task.State = TaskWaiting
	assert.False(t, task.Runnable())

	task.State = TaskExited
	assert.False(t, task.Runnable())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "running", TaskRunning.String())
	assert.Equal(t, "exited", TaskExited.String())
}

func TestTaskFreeReturnsKernelStackPages(t *testing.T) {
	setupProc(t)

	ctx, err := NewContext(1)
	require.Zero(t, err)
	// measured after NewContext: Free releases the kernel stack, not the
	// context's page directory.
	before := kmem.FreePages()
	task, err := NewTask(1, "init", ctx, 0)
	require.Zero(t, err)
	assert.Less(t, kmem.FreePages(), before)

	task.Free()
	assert.Equal(t, before, kmem.FreePages())
}

func TestNewTaskRespectsSysprocsLimit(t *testing.T) {
	setupProc(t)
	t.Cleanup(ResetForTest)
	limits.Syslimit.Sysprocs = 1

	ctx, err := NewContext(1)
	require.Zero(t, err)

	first, err := NewTask(1, "one", ctx, 0)
	require.Zero(t, err)

	_, err = NewTask(2, "two", ctx, 0)
	assert.NotZero(t, err)

	first.Free()
	third, err := NewTask(3, "three", ctx, 0)
	require.Zero(t, err)
	third.Free()
}

func TestTaskLookupFindsRegisteredNote(t *testing.T) {
	setupProc(t)
	t.Cleanup(ResetForTest)

	ctx, err := NewContext(1)
	require.Zero(t, err)
	task, err := NewTask(7, "init", ctx, 0)
	require.Zero(t, err)

	note, ok := Lookup(7)
	require.True(t, ok)
	assert.True(t, note.Alive)

	task.MarkExited()
	assert.False(t, note.Alive)

	task.Free()
	_, ok = Lookup(7)
	assert.False(t, ok)
}
