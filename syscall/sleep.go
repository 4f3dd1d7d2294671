package syscall

import (
	"sync"

	"proc"
	"sched"
)

// TicksPerSecond is the timer frequency nanosleep converts durations
// against; the kernel package's timer controller is expected to be
// programmed at this rate (apic.SetTimerFrequency / PIC8259's PIT
// divisor) so a sleeper's tick countdown matches wall-clock time.
const TicksPerSecond = 100

type sleeper struct {
	t      *proc.Task_t
	ticks  int
	cpu    int
	next   *sleeper
}

var (
	sleepMu   sync.Mutex
	sleepList [nCPUSlots]*sleeper
)

// nCPUSlots bounds the number of CPUs whose sleeper lists this package
// tracks; generous enough for any configuration the scheduler supports
// in a hosted build.
const nCPUSlots = 64

func resetSleepersForTest() {
	sleepMu.Lock()
	defer sleepMu.Unlock()
	sleepList = [nCPUSlots]*sleeper{}
}

// sleepFor parks t on cpu's sleeper list for the given tick count. The
// caller is responsible for marking t as TaskSleeping and yielding
// before this duration has any effect on scheduling.
func sleepFor(cpu int, t *proc.Task_t, ticks int) {
	if ticks <= 0 {
		return
	}
	sleepMu.Lock()
	defer sleepMu.Unlock()
	sleepList[cpu] = &sleeper{t: t, ticks: ticks, cpu: cpu, next: sleepList[cpu]}
}

// Tick advances cpu's sleeper list by one tick, waking (re-enqueuing)
// every task whose countdown reaches zero. The kernel package calls
// this from the same timer handler that drives sched.Tick, so sleepers
// wake on the same clock tasks are scheduled against.
func Tick(cpu int) {
	if cpu < 0 || cpu >= nCPUSlots {
		return
	}
	sleepMu.Lock()
	var head *sleeper
	var woke []*sleeper
	for s := sleepList[cpu]; s != nil; {
		next := s.next
		s.ticks--
		if s.ticks <= 0 {
			woke = append(woke, s)
		} else {
			s.next = head
			head = s
		}
		s = next
	}
	sleepList[cpu] = head
	sleepMu.Unlock()

	for _, s := range woke {
		s.t.State = proc.TaskReady
		sched.Enqueue(s.cpu, s.t)
	}
}
