// Package proc defines the scheduling entity (Task_t) and address-space
// container (Context_t) the sched package's run queues move between
// CPUs.
//
// Grounded on original_source's Task/Context/Stacks/Registers structs
// (include/kernel/process.h, kernel/process/process.cpp's alloc_stack),
// expressed in the idiom package accnt's Accnt_t, fd.Fd_t/Cwd_t, and
// vm.Vm_t already carry in this tree: a task's accumulated time is an
// embedded accnt.Accnt_t rather than a raw tick counter, and a context's
// fd table and cwd reuse package fd directly instead of reimplementing
// them.
package proc

import (
	"sync"

	"accnt"
	"defs"
	"kmem"
	"limits"
	"mem"
	"tinfo"
	"vm"
)

// State_t is a task's position in its lifecycle.
type State_t int

const (
	TaskNew State_t = iota
	TaskReady
	TaskRunning
	TaskSleeping
	TaskWaiting
	TaskTerminated
	TaskExited
)

func (s State_t) String() string {
	switch s {
	case TaskNew:
		return "new"
	case TaskReady:
		return "ready"
	case TaskRunning:
		return "running"
	case TaskSleeping:
		return "sleeping"
	case TaskWaiting:
		return "waiting"
	case TaskTerminated:
		return "terminated"
	case TaskExited:
		return "exited"
	default:
		return "unknown"
	}
}

// DefaultTimeSlice is the number of ticks a task runs before the
// scheduler forces a switch, absent any other event.
const DefaultTimeSlice = 100

// Regs_t is a task's saved register frame: every general-purpose
// register, the six segment selectors, CR3, EIP, and EFLAGS. Trap entry
// copies into this struct from the pushed trap frame; restoring a task
// copies back out before IRET.
type Regs_t struct {
	Eax, Ebx, Ecx, Edx uint32
	Esi, Edi           uint32
	Esp, Ebp           uint32

	Cs, Ds, Ss, Es, Fs, Gs uint16

	Cr3 uint32

	Eip    uint32
	Eflags uint32
}

const (
	kernelCS = 0x08
	kernelDS = 0x10
	userCS   = 0x1b
	userDS   = 0x23
)

// KstackSize is the size of a task's kernel stack, 16 KiB as carved from
// the slab in original_source's Task::alloc_stack.
const KstackSize = 16 * 1024

// Kstack_t is a task's kernel-mode stack: a run of physical pages backing
// it, plus the ESP0/SS0 pair the TSS loads on every ring3->ring0
// transition.
type Kstack_t struct {
	pages []mem.Pa_t
	Esp0  uint32
	Ss0   uint32
}

// allocKstack carves a fresh 16 KiB kernel stack out of individually
// allocated pages (this simulation has no need for physical contiguity,
// unlike a real buddy-backed kmalloc(KERNEL_STACK_SIZE)). Esp0 sits 16
// bytes below the top of the region, matching alloc_stack's
// "kernel_stack + KERNEL_STACK_SIZE - 16".
func allocKstack() (*Kstack_t, defs.Err_t) {
	npg := KstackSize / mem.PGSIZE
	pages := make([]mem.Pa_t, 0, npg)
	for i := 0; i < npg; i++ {
		pa, err := kmem.AllocPage()
		if err != 0 {
			for _, p := range pages {
				kmem.FreePage(p)
			}
			return nil, err
		}
		pages = append(pages, pa)
	}
	top := uint32(pages[len(pages)-1]) + mem.PGSIZE
	return &Kstack_t{
		pages: pages,
		Esp0:  top - 16,
		Ss0:   kernelDS,
	}, 0
}

func (k *Kstack_t) free() {
	for _, p := range k.pages {
		kmem.FreePage(p)
	}
}

// UstackSize is the size of a task's user-mode stack, 4 MiB per
// original_source's USER_STACK_SIZE.
const UstackSize = 4 * 1024 * 1024

// Ustack_t records where a task's user stack VMA sits in its context's
// address space.
type Ustack_t struct {
	Base uintptr
	Size uintptr
}

// allocUstack reserves the first free UstackSize-byte range at or above
// vm.Mmapmin in as and
// eagerly backs every page with a private, zero-filled, writable frame
// -- unlike an ordinary VANON region, which is left demand-zero until
// first touch.
func allocUstack(as *vm.Vm_t) (Ustack_t, defs.Err_t) {
	as.Lock_pmap()
	startva := as.Unusedva_inner(0, UstackSize)
	as.Unlock_pmap()
	if startva == 0 {
		return Ustack_t{}, -defs.ENOMEM
	}
	start := uintptr(startva)

	as.Vmadd_anon(startva, UstackSize, mem.Pa_t(vm.PTE_U|vm.PTE_W))

	for off := uintptr(0); off < UstackSize; off += mem.PGSIZE {
		pa, err := kmem.AllocPage()
		if err != 0 {
			return Ustack_t{}, err
		}
		as.Lock_pmap()
		_, ok := as.Page_insert(int(start+off), pa, mem.Pa_t(vm.PTE_U|vm.PTE_W|vm.PTE_P), true, nil)
		as.Unlock_pmap()
		if !ok {
			kmem.DecRef(pa)
			return Ustack_t{}, -defs.ENOMEM
		}
	}
	return Ustack_t{Base: start, Size: UstackSize}, 0
}

// Task_t is one schedulable entity: exactly the state the scheduler
// needs to save, restore, and queue a task, independent of the address
// space (Context_t) it runs in -- a context may have more than one task
// (thread) running against it.
type Task_t struct {
	sync.Mutex

	Id       defs.Tid_t
	Name     string
	State    State_t
	Priority int

	// TimeSlice counts down from DefaultTimeSlice on every tick; a task
	// that reaches 0 is refilled and re-enqueued by the scheduler.
	TimeSlice int

	accnt.Accnt_t

	Regs   Regs_t
	Kstack *Kstack_t
	Ustack Ustack_t

	// Affinity is a CPU bitmask: bit i set means this task may run on
	// CPU i. Zero means unconstrained.
	Affinity uint64
	LastCPU  int

	Ctx *Context_t

	// ExitStatus is meaningful once State == TaskExited.
	ExitStatus int

	// Note carries the kill/wait state sched mirrors into tinfo's
	// per-CPU current-thread table alongside its own; Exit/MarkKilled
	// flip it so anything consulting tinfo (rather than holding a
	// *Task_t directly) observes the same lifecycle transition.
	Note *tinfo.Tnote_t

	// Next/Prev thread the intrusive doubly linked run-queue list a
	// sched.Runqueue_t holds this task on. A task is linked on at most
	// one run queue at a time, and unlinked while it is some CPU's
	// current task -- sched owns these fields; proc only zeroes them.
	Next, Prev *Task_t
}

// NewTask allocates a new task bound to ctx, with a freshly carved
// kernel stack and a ready-to-use register frame for kernel-mode entry.
// The caller installs the user-mode entry point via SwitchToUserMode
// once the task is ready to run.
func NewTask(id defs.Tid_t, name string, ctx *Context_t, prio int) (*Task_t, defs.Err_t) {
	if !limits.Syslimit.Sysprocs.Take() {
		return nil, -defs.EAGAIN
	}
	ks, err := allocKstack()
	if err != 0 {
		limits.Syslimit.Sysprocs.Give()
		return nil, err
	}
	t := &Task_t{
		Id:        id,
		Name:      name,
		State:     TaskNew,
		Priority:  prio,
		TimeSlice: DefaultTimeSlice,
		Kstack:    ks,
		Ctx:       ctx,
		LastCPU:   -1,
	}
	t.Regs.Cs = kernelCS
	t.Regs.Ds = kernelDS
	t.Regs.Ss = kernelDS
	t.Regs.Esp = ks.Esp0
	t.Regs.Ebp = ks.Esp0
	t.Regs.Cr3 = uint32(ctx.As.P_pmap)
	t.Note = newNote()
	register(id, t.Note)
	return t, 0
}

var threads = func() *tinfo.Threadinfo_t {
	t := &tinfo.Threadinfo_t{}
	t.Init()
	return t
}()

// newNote allocates a fresh kill/wait note with its condition variable
// bound to its own lock, ready for a future blocked waiter to sleep on.
func newNote() *tinfo.Tnote_t {
	n := &tinfo.Tnote_t{Alive: true}
	n.Killnaps.Cond = sync.NewCond(&n.Mutex)
	n.Killnaps.Killch = make(chan bool, 1)
	return n
}

// register files t's note under its tid in the system-wide thread
// registry, so Lookup can find it without a caller having to thread a
// *Task_t pointer everywhere a tid is known instead.
func register(id defs.Tid_t, n *tinfo.Tnote_t) {
	threads.Lock()
	defer threads.Unlock()
	threads.Notes[id] = n
}

// unregister drops id's entry once its task has been freed.
func unregister(id defs.Tid_t) {
	threads.Lock()
	defer threads.Unlock()
	delete(threads.Notes, id)
}

// Lookup returns the kill/wait note registered for tid, if any task
// with that id is currently live.
func Lookup(id defs.Tid_t) (*tinfo.Tnote_t, bool) {
	threads.Lock()
	defer threads.Unlock()
	n, ok := threads.Notes[id]
	return n, ok
}

// ResetForTest clears the thread registry and restores the system-wide
// process limit, undoing whatever a prior test case's tasks left
// registered.
func ResetForTest() {
	threads.Lock()
	threads.Init()
	threads.Unlock()
	limits.ResetForTest()
}

// MarkExited flips the task's note to reflect that it has left the
// scheduler for good, waking anything blocked on Killnaps waiting to
// reap it.
func (t *Task_t) MarkExited() {
	n := t.Note
	if n == nil {
		return
	}
	n.Lock()
	n.Alive = false
	n.Killnaps.Cond.Broadcast()
	n.Unlock()
}

// NewUserTask is NewTask plus an eagerly-backed 4 MiB user stack, ready
// for SwitchToUserMode.
func NewUserTask(id defs.Tid_t, name string, ctx *Context_t, prio int) (*Task_t, defs.Err_t) {
	t, err := NewTask(id, name, ctx, prio)
	if err != 0 {
		return nil, err
	}
	us, err := allocUstack(ctx.As)
	if err != 0 {
		t.Free()
		return nil, err
	}
	t.Ustack = us
	return t, 0
}

// SwitchToUserMode forges the register frame switch_to_user_mode's IRET
// trampoline expects: CS/SS loaded with the user selectors, EIP at
// entry, ESP at the top of the task's user stack, and EFLAGS.IF set so
// interrupts are enabled immediately in ring 3.
func (t *Task_t) SwitchToUserMode(entry uint32) {
	t.Regs.Cs = userCS
	t.Regs.Ds = userDS
	t.Regs.Ss = userDS
	t.Regs.Eip = entry
	t.Regs.Esp = uint32(t.Ustack.Base) + uint32(t.Ustack.Size)
	const eflagsIF = 1 << 9
	t.Regs.Eflags |= eflagsIF
	t.State = TaskReady
}

// ForkTask builds the child task for a fork syscall: a fresh kernel
// stack (never shared across tasks) but the parent's register snapshot
// and user-stack descriptor, since childCtx's address space already
// holds a COW duplicate of the same user-stack VMA at the same virtual
// addresses. Eax is forced to 0 in the child's saved frame so it returns
// 0 from fork, matching the fork syscall's documented child/parent
// return-value split; the caller still needs to set the parent's Eax to
// the new task's id separately.
func ForkTask(id defs.Tid_t, parent *Task_t, childCtx *Context_t) (*Task_t, defs.Err_t) {
	if !limits.Syslimit.Sysprocs.Take() {
		return nil, -defs.EAGAIN
	}
	ks, err := allocKstack()
	if err != 0 {
		limits.Syslimit.Sysprocs.Give()
		return nil, err
	}
	child := &Task_t{
		Id:        id,
		Name:      parent.Name,
		State:     TaskReady,
		Priority:  parent.Priority,
		TimeSlice: DefaultTimeSlice,
		Kstack:    ks,
		Ustack:    parent.Ustack,
		Ctx:       childCtx,
		LastCPU:   -1,
		Note:      newNote(),
	}
	// the parent's saved frame is its ring-3 state at the moment it
	// trapped into the fork syscall (Eip/Esp/Cs/Ss all describe user
	// mode, not the kernel stack) -- the child resumes from exactly that
	// point, so only Eax (the return value) and Cr3 (a different address
	// space) change.
	child.Regs = parent.Regs
	child.Regs.Eax = 0
	child.Regs.Cr3 = uint32(childCtx.As.P_pmap)
	register(id, child.Note)
	return child, 0
}

// Free releases the task's kernel stack and its slot in the system-wide
// process-count limit. The caller is responsible for having already
// dropped the task from every run queue and the scheduler's
// current-task slot.
func (t *Task_t) Free() {
	t.Kstack.free()
	limits.Syslimit.Sysprocs.Give()
	unregister(t.Id)
}

// Runnable reports whether the task can be put on a run queue.
func (t *Task_t) Runnable() bool {
	return t.State != TaskSleeping && t.State != TaskWaiting &&
		t.State != TaskExited && t.State != TaskTerminated
}
