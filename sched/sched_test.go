package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proc"
)

func TestInitInstallsIdleAsCurrent(t *testing.T) {
	ResetForTest()
	idle := []*proc.Task_t{{Id: 100}, {Id: 101}}
	Init(2, idle)
	defer ResetForTest()

	assert.Same(t, idle[0], Current(0))
	assert.Same(t, idle[1], Current(1))
}

func TestTickDecrementsTimeSliceWithoutSwitch(t *testing.T) {
	ResetForTest()
	idle := []*proc.Task_t{{Id: 100}}
	Init(1, idle)
	defer ResetForTest()

	task := &proc.Task_t{Id: 1, State: proc.TaskReady, TimeSlice: 2}
	Enqueue(0, task)

	// first tick: idle is current and uncharged, so it switches to the
	// one ready task unconditionally.
	require.True(t, Tick(0))
	require.Same(t, task, Current(0))

	// second tick: task's slice drops from 2 to 1, still positive, so no
	// switch and it keeps running.
	switched := Tick(0)
	assert.False(t, switched)
	assert.Same(t, task, Current(0))
	assert.Equal(t, 1, task.TimeSlice)
}

func TestSchedulingDecisionRoundRobin(t *testing.T) {
	ResetForTest()
	idle := []*proc.Task_t{{Id: 100}}
	Init(1, idle)
	defer ResetForTest()

	a := &proc.Task_t{Id: 1, State: proc.TaskReady, TimeSlice: 1}
	b := &proc.Task_t{Id: 2, State: proc.TaskReady, TimeSlice: 1}
	Enqueue(0, a)
	Enqueue(0, b)

	// idle is current; first tick with idle current (time slice not
	// charged) should pop 'a' since the local queue is non-empty.
	switched := Tick(0)
	require.True(t, switched)
	assert.Same(t, a, Current(0))

	// a's slice is 1: this tick expires it, re-enqueues a, and must
	// pick up 'b' next (FIFO).
	switched = Tick(0)
	require.True(t, switched)
	assert.Same(t, b, Current(0))

	// b's slice expires too; a is back at the head of the queue.
	switched = Tick(0)
	require.True(t, switched)
	assert.Same(t, a, Current(0))
}

func TestWorkStealingPrefersLowestCPUId(t *testing.T) {
	ResetForTest()
	idle := []*proc.Task_t{{Id: 100}, {Id: 101}, {Id: 102}}
	Init(3, idle)
	defer ResetForTest()

	onCPU1 := &proc.Task_t{Id: 1, State: proc.TaskReady, TimeSlice: 5}
	onCPU2 := &proc.Task_t{Id: 2, State: proc.TaskReady, TimeSlice: 5}
	Enqueue(1, onCPU1)
	Enqueue(2, onCPU2)

	// CPU 0's local queue is empty and both CPU 1 and CPU 2 have ready
	// work; the scan must take CPU 1's task, not CPU 2's.
	switched := Tick(0)
	require.True(t, switched)
	assert.Same(t, onCPU1, Current(0))
}

func TestWorkStealingFallsBackToHigherCPUId(t *testing.T) {
	ResetForTest()
	idle := []*proc.Task_t{{Id: 100}, {Id: 101}, {Id: 102}}
	Init(3, idle)
	defer ResetForTest()

	onCPU2 := &proc.Task_t{Id: 2, State: proc.TaskReady, TimeSlice: 5}
	Enqueue(2, onCPU2)

	// CPU 1 has nothing to steal, so the scan must fall through to CPU 2.
	switched := Tick(0)
	require.True(t, switched)
	assert.Same(t, onCPU2, Current(0))
}

func TestTickReturnsIdleWhenNothingRunnable(t *testing.T) {
	ResetForTest()
	idle := []*proc.Task_t{{Id: 100}}
	Init(1, idle)
	defer ResetForTest()

	switched := Tick(0)
	assert.True(t, switched)
	assert.Same(t, idle[0], Current(0))
}

func TestYieldForcesImmediateReschedule(t *testing.T) {
	ResetForTest()
	idle := []*proc.Task_t{{Id: 100}}
	Init(1, idle)
	defer ResetForTest()

	a := &proc.Task_t{Id: 1, State: proc.TaskReady, TimeSlice: proc.DefaultTimeSlice}
	b := &proc.Task_t{Id: 2, State: proc.TaskReady, TimeSlice: proc.DefaultTimeSlice}
	Enqueue(0, a)
	Enqueue(0, b)

	Tick(0)
	require.Same(t, a, Current(0))

	Yield(0)
	assert.Same(t, b, Current(0))
}
