package sched

import (
	"sync"

	"proc"
	"stats"
	"tinfo"
)

// mirrorCurrent keeps tinfo's per-CPU current-thread table in step with
// this package's own current-task slot, for callers that only hold a
// tid and need to reach a task's kill/wait note rather than its full
// schedulable state. Tasks built directly in a test, bypassing
// proc.NewTask, have no Note and are skipped.
func mirrorCurrent(cpu int, t *proc.Task_t) {
	if t == nil || t.Note == nil {
		return
	}
	tinfo.SetCurrent(cpu, t.Note)
}

var (
	mu        sync.RWMutex
	runqueues []*Runqueue_t
	idleTasks []*proc.Task_t
	current   []*proc.Task_t
	numCPU    int
	ready     bool
)

func requireInit() {
	if !ready {
		panic("sched: Init not called")
	}
}

// Init sizes the per-CPU scheduler state. idle must hold exactly one
// never-enqueued idle task per CPU; Init installs idle[i] as CPU i's
// initial current task, matching an idle task running until the first
// tick picks something else.
func Init(ncpu int, idle []*proc.Task_t) {
	if len(idle) != ncpu {
		panic("one idle task per cpu required")
	}
	mu.Lock()
	defer mu.Unlock()
	numCPU = ncpu
	runqueues = make([]*Runqueue_t, ncpu)
	for i := range runqueues {
		runqueues[i] = &Runqueue_t{}
	}
	idleTasks = append([]*proc.Task_t(nil), idle...)
	current = make([]*proc.Task_t, ncpu)
	tinfo.SetNumCPU(ncpu)
	for i, t := range idle {
		t.LastCPU = i
		t.State = proc.TaskRunning
		current[i] = t
		mirrorCurrent(i, t)
	}
	ready = true
}

// NumCPU returns the CPU count Init was called with.
func NumCPU() int {
	mu.RLock()
	defer mu.RUnlock()
	requireInit()
	return numCPU
}

func isIdle(cpu int, t *proc.Task_t) bool {
	return t == idleTasks[cpu]
}

// Current returns the task presently running on cpu.
func Current(cpu int) *proc.Task_t {
	mu.RLock()
	defer mu.RUnlock()
	requireInit()
	return current[cpu]
}

// Enqueue places t on cpu's run queue, marking it ready. Used both by
// the scheduling decision itself (re-enqueuing an expired-slice task)
// and by external callers placing a newly created task (fork, a woken
// sleeper) onto a specific CPU.
func Enqueue(cpu int, t *proc.Task_t) {
	requireInit()
	t.State = proc.TaskReady
	runqueues[cpu].PushBack(t)
}

// stealFrom scans every CPU's run queue other than cpu, lowest id
// first, and removes the first ready task found -- the ordering
// guarantee the scheduling decision promises: across CPUs no FIFO
// ordering holds, but the scan itself is deterministic low-to-high.
func stealFrom(cpu int) *proc.Task_t {
	for i := 0; i < numCPU; i++ {
		if i == cpu {
			continue
		}
		if t := runqueues[i].PopFront(); t != nil {
			return t
		}
	}
	return nil
}

// tickNanos is the wall-clock span one scheduler tick charges to the
// running task's accounting record. Mirrors the 100Hz timer frequency
// apic.defaultTimerHz/syscall.TicksPerSecond both already assume;
// duplicated here rather than imported to avoid a sched<->syscall cycle.
const tickNanos = 1e9 / 100

// Tick runs the scheduling decision for cpu: charge the running task's
// time slice, and if it just expired, pick the next task to run --
// local queue first, then work-stealing, then the idle task. It is
// called from the timer ISR on every tick and whenever a task
// voluntarily yields (Yield calls it with an immediately-expired slice).
// It reports whether a context switch is required.
func Tick(cpu int) bool {
	mu.Lock()
	defer mu.Unlock()
	requireInit()

	cur := current[cpu]
	if cur != nil && !isIdle(cpu, cur) {
		cur.Utadd(tickNanos)
		cur.TimeSlice--
		if cur.TimeSlice > 0 {
			return false
		}
	}

	if cur != nil && !isIdle(cpu, cur) {
		cur.TimeSlice = proc.DefaultTimeSlice
		if cur.Runnable() {
			cur.State = proc.TaskReady
			runqueues[cpu].PushBack(cur)
		}
	}

	next := runqueues[cpu].PopFront()
	if next == nil {
		next = stealFrom(cpu)
		if next != nil {
			stats.SchedSteals.Inc()
		}
	}
	if next == nil {
		next = idleTasks[cpu]
	}

	next.State = proc.TaskRunning
	next.LastCPU = cpu
	current[cpu] = next
	mirrorCurrent(cpu, next)
	stats.SchedTicks.Inc()
	return true
}

// Yield forces an immediate reschedule of cpu's current task, as if its
// time slice had just expired -- used by blocking syscalls and
// voluntary sleeps rather than waiting for the next timer tick.
func Yield(cpu int) bool {
	mu.Lock()
	requireInit()
	cur := current[cpu]
	mu.Unlock()
	if cur != nil {
		cur.TimeSlice = 0
	}
	return Tick(cpu)
}

// ResetForTest clears scheduler state between test cases.
func ResetForTest() {
	mu.Lock()
	defer mu.Unlock()
	runqueues = nil
	idleTasks = nil
	current = nil
	numCPU = 0
	ready = false
}
