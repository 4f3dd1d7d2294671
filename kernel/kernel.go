// Package kernel is the singleton bundle that wires every other package
// into one bootable system: physical memory, address spaces, the
// scheduler, interrupt dispatch, the syscall table and the VFS, in the
// dependency order those packages were built in. cmd/nucleusd is the
// thin host harness that calls Boot with concrete hal devices; this
// package contains the wiring itself so a test can exercise the same
// boot path without a real binary.
//
// Boot runs the whole sequence in one call: physical memory and kmem,
// console and keyboard, one idle task per CPU and sched.Init, the PIC and
// the irq handlers, the fault and syscall gates, the ELF loader, memfs
// at "/" (plus any initramfs), an ext2 filesystem formatted on the disk
// at "/disk" when one is given, the syscall table, and metrics. It does
// not bring up application processors and starts no init process.
package kernel

import (
	"fmt"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"apic"
	"defs"
	"elf"
	"ext2fs"
	"fault"
	"hal"
	"irq"
	"kmem"
	"mem"
	"memfs"
	"pagecache"
	"proc"
	"sched"
	"stats"
	"syscall"
	"vfs"
)

// Config describes everything a boot needs from its host environment.
// cmd/nucleusd fills this in from kingpin flags; tests fill it in by
// hand with smaller numbers.
type Config struct {
	NumCPU    int
	MemPages  uint32 // total frames available to the buddy allocator
	Disk      ext2fs.BlockDevice
	Initramfs []byte // CPIO archive loaded into memfs at "/"
	CacheSize int    // pagecache capacity, in sectors
	DeviceID  uint32 // pagecache device id for Disk
}

// Kernel is the running singleton bundle. Every field is populated by
// Boot and is safe to read afterward; nothing is re-entrant across a
// second Boot call in the same process -- this mirrors the single
// global-init assumption original_source's main() makes.
type Kernel struct {
	Log *Logger

	NumCPU    int
	IdleTasks []*proc.Task_t

	Console  *hal.Console
	Keyboard *hal.Keyboard
	TSS      *hal.SimTSS

	Ports apic.Ports
	PIC   *apic.PIC8259

	Cache *pagecache.Cache
	VFS   *vfs.Vfs_t
	Mem   *memfs.Fs_t
	Ext2  *ext2fs.Fs_t

	Metrics *prometheus.Registry

	mu     sync.Mutex
	halted map[int]bool
}

// Boot performs every wiring stage in order and returns the running
// bundle. A non-nil error means some stage failed before anything
// could run; Boot never leaves the process partially initialized in a
// way that a caller could usefully retry piecemeal.
func Boot(cfg Config) (*Kernel, error) {
	if cfg.NumCPU < 1 {
		cfg.NumCPU = 1
	}

	k := &Kernel{
		NumCPU: cfg.NumCPU,
		halted: make(map[int]bool),
		Log:    NewLogger(os.Stdout, LevelInfo),
	}

	zone := mem.NewZone(mem.ZoneNormal, 0, cfg.MemPages)
	ram := mem.NewRAM(int(cfg.MemPages) * mem.PGSIZE)
	kmem.Init(zone, ram)
	k.Log.Infof("memory: %d frames (%d MiB)", cfg.MemPages, int(cfg.MemPages)*mem.PGSIZE/(1<<20))

	k.Console = hal.NewConsole()
	k.Keyboard = hal.NewKeyboard()
	k.TSS = &hal.SimTSS{}

	idle, err := makeIdleTasks(cfg.NumCPU, k.Console)
	if err != 0 {
		return nil, wrapf(asError(err), "idle tasks")
	}
	k.IdleTasks = idle
	sched.Init(cfg.NumCPU, idle)

	k.Ports = hal.NewSimPorts()
	k.PIC = apic.NewPIC8259(k.Ports)
	k.PIC.Init()
	irq.SetController(k.PIC)
	irq.SetTSS(k.TSS)
	irq.Register(irq.VectorTimer, func(cpu int, tf *irq.TrapFrame_t) {
		syscall.Tick(cpu)
		sched.Tick(cpu)
	})
	irq.InstallFaultHandlers()
	irq.HaltCPU = k.haltCPU

	fault.Install()
	installSyscallGate()
	syscall.SetLoader(elf.Loader_t{})

	k.VFS = &vfs.Vfs_t{}
	k.Mem = memfs.New()
	if verr := k.VFS.Register("/", k.Mem); verr != 0 {
		return nil, wrapf(asError(verr), "mount memfs")
	}
	if len(cfg.Initramfs) > 0 {
		if lerr := k.Mem.LoadCPIO(cfg.Initramfs); lerr != 0 {
			return nil, wrapf(asError(lerr), "load initramfs")
		}
	}

	if cfg.Disk != nil {
		capacity := cfg.CacheSize
		if capacity <= 0 {
			capacity = 256
		}
		k.Cache = pagecache.New(capacity)
		cached := pagecache.Wrap(cfg.DeviceID, k.Cache, cfg.Disk)
		fs, ferr := ext2fs.Format(cached, ext2fs.FormatConfig{TotalBlocks: 1024, TotalInodes: 128})
		if ferr != 0 {
			return nil, wrapf(asError(ferr), "format ext2")
		}
		k.Ext2 = fs
		if verr := k.VFS.Register("/disk", fs); verr != 0 {
			return nil, wrapf(asError(verr), "mount ext2")
		}
	}

	syscall.SetVFS(k.VFS)
	syscall.Init()

	k.Metrics = stats.Registry()

	k.Log.Infof("boot complete: %d cpu(s)", cfg.NumCPU)
	return k, nil
}

// makeIdleTasks builds one kernel-only task per CPU, each with its own
// address space and console bound to its standard descriptors --
// grounded on original_source's per-CPU idle thread, which exists only
// to have something runnable while a run queue is empty.
func makeIdleTasks(ncpu int, console *hal.Console) ([]*proc.Task_t, defs.Err_t) {
	idle := make([]*proc.Task_t, ncpu)
	for i := 0; i < ncpu; i++ {
		ctx, err := proc.NewContext(defs.Cid_t(-1 - i))
		if err != 0 {
			return nil, err
		}
		if err := ctx.BindStdFds(console); err != 0 {
			return nil, err
		}
		t, err := proc.NewTask(defs.Tid_t(-1-i), fmt.Sprintf("idle%d", i), ctx, 0)
		if err != 0 {
			return nil, err
		}
		t.State = proc.TaskRunning
		idle[i] = t
	}
	return idle, 0
}

// haltCPU records cpu as halted rather than panicking or spinning, so a
// hosted boot can keep running other CPUs and a test can assert a
// particular CPU reached this state.
func (k *Kernel) haltCPU(cpu int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.halted[cpu] = true
	k.Log.Errorf("cpu %d halted", cpu)
}

// Halted reports whether cpu has been halted since boot.
func (k *Kernel) Halted(cpu int) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.halted[cpu]
}

func asError(err defs.Err_t) error {
	return fmt.Errorf("errno %d", -err)
}
