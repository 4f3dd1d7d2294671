package tinfo

import "sync"

import "defs"

// Tnote_t stores per-thread state used by the kill/wait protocol.
type Tnote_t struct {
	State    interface{}
	Alive    bool
	Killed   bool
	Isdoomed bool
	// protects Killed, Killnaps.Cond and Kerr, and is a leaf lock
	sync.Mutex
	Killnaps struct {
		Killch chan bool
		Cond   *sync.Cond
		Kerr   defs.Err_t
	}
}

// Doomed reports whether the thread is marked as doomed.
func (t *Tnote_t) Doomed() bool {
	return t.Isdoomed
}

// Threadinfo_t tracks all thread notes.
type Threadinfo_t struct {
	Notes map[defs.Tid_t]*Tnote_t
	sync.Mutex
}

// Init initializes the thread info map.
func (t *Threadinfo_t) Init() {
	t.Notes = make(map[defs.Tid_t]*Tnote_t)
}

// current holds the running thread's note per CPU. A real kernel's
// "current thread" is inherently a per-CPU fact (there is exactly one
// running task per core), so this is tracked as an explicit per-CPU
// slice, sized by sched.NumCPU at boot and kept in step with package
// sched's own current-task slot by sched.Init/Tick.
var (
	mu      sync.RWMutex
	current []*Tnote_t
)

// SetNumCPU sizes the per-CPU current-thread table. Called once at boot.
func SetNumCPU(n int) {
	mu.Lock()
	defer mu.Unlock()
	current = make([]*Tnote_t, n)
}

// Current returns the thread note running on cpu.
func Current(cpu int) *Tnote_t {
	mu.RLock()
	defer mu.RUnlock()
	p := current[cpu]
	if p == nil {
		panic("no current thread on this cpu")
	}
	return p
}

// SetCurrent installs p as the thread note running on cpu.
func SetCurrent(cpu int, p *Tnote_t) {
	if p == nil {
		panic("nuts")
	}
	mu.Lock()
	defer mu.Unlock()
	current[cpu] = p
}

// ClearCurrent removes the thread note running on cpu.
func ClearCurrent(cpu int) {
	mu.Lock()
	defer mu.Unlock()
	if current[cpu] == nil {
		panic("nuts")
	}
	current[cpu] = nil
}
