package irq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"defs"
	"kmem"
	"mem"
	"proc"
	"sched"
)

func setupIrq(t *testing.T, ncpu int) []*proc.Task_t {
	t.Helper()
	z := mem.NewZone(mem.ZoneNormal, 0, 1<<16)
	r := mem.NewRAM(1 << 16 * mem.PGSIZE)
	kmem.ResetForTest(z, r)

	idle := make([]*proc.Task_t, ncpu)
	for i := range idle {
		ctx, err := proc.NewContext(1)
		require.Zero(t, err)
		task, err := proc.NewTask(defs.Tid_t(100+i), "idle", ctx, 0)
		require.Zero(t, err)
		idle[i] = task
	}
	sched.ResetForTest()
	sched.Init(ncpu, idle)

	t.Cleanup(func() {
		sched.ResetForTest()
		ResetForTest()
		proc.ResetForTest()
	})
	return idle
}

type fakeController struct {
	eois int
}

func (f *fakeController) Init()                       {}
func (f *fakeController) SendEOI()                     { f.eois++ }
func (f *fakeController) EnableIRQ(irq uint8)          {}
func (f *fakeController) DisableIRQ(irq uint8)         {}
func (f *fakeController) RemapVectors()                {}
func (f *fakeController) Vector(irq uint8) uint8       { return irq }
func (f *fakeController) InitTimer()                   {}
func (f *fakeController) SetTimerFrequency(hz uint32)  {}

type fakeTSS struct {
	esp0 uint32
	cr3  uint32
}

func (f *fakeTSS) SetKernelStack(esp0 uint32) { f.esp0 = esp0 }
func (f *fakeTSS) SetPageDir(cr3 uint32)      { f.cr3 = cr3 }

func TestDispatchSendsEOIAndSavesFrame(t *testing.T) {
	setupIrq(t, 1)
	ResetForTest()
	ctrl := &fakeController{}
	SetController(ctrl)

	called := false
	Register(0x99, func(cpu int, tf *TrapFrame_t) { called = true })

	tf := &TrapFrame_t{Eax: 42, Eip: 0x1000, Cs: 0x08, Eflags: 0x202}
	Dispatch(0, 0x99, tf)

	assert.True(t, called)
	assert.Equal(t, 1, ctrl.eois)
	assert.Equal(t, uint32(42), sched.Current(0).Regs.Eax)
}

func TestDispatchUpdatesTSSForNewCurrent(t *testing.T) {
	setupIrq(t, 1)
	ResetForTest()
	tss := &fakeTSS{}
	SetTSS(tss)

	tf := &TrapFrame_t{}
	Dispatch(0, 0x99, tf)

	assert.Equal(t, sched.Current(0).Kstack.Esp0, tss.esp0)
}

func TestDispatchWarnsOnUnregisteredVector(t *testing.T) {
	setupIrq(t, 1)
	ResetForTest()

	var warnings int
	old := reportFn
	reportFn = func(format string, args ...interface{}) { warnings++ }
	defer func() { reportFn = old }()

	tf := &TrapFrame_t{}
	Dispatch(0, 0x42, tf)
	Dispatch(0, 0x42, tf)
	assert.Equal(t, 1, warnings)
}

func TestInstallTimerHandlerDrivesSchedulerTick(t *testing.T) {
	setupIrq(t, 1)
	ResetForTest()
	InstallTimerHandler()

	task := &proc.Task_t{Id: 1, State: proc.TaskReady, TimeSlice: proc.DefaultTimeSlice}
	sched.Enqueue(0, task)

	tf := &TrapFrame_t{}
	Dispatch(0, VectorTimer, tf)
	assert.Same(t, task, sched.Current(0))
}

func TestInstallFaultHandlersHaltOnGPFault(t *testing.T) {
	setupIrq(t, 1)
	ResetForTest()
	InstallFaultHandlers()

	halted := -1
	old := HaltCPU
	HaltCPU = func(cpu int) { halted = cpu }
	defer func() { HaltCPU = old }()

	tf := &TrapFrame_t{Eip: 0xdead, ErrorCode: 7}
	Dispatch(0, VectorGPFault, tf)
	assert.Equal(t, 0, halted)
}
