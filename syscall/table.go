// Package syscall dispatches trap vector 0x80 to one of a fixed 256-entry
// table of handlers, each taking the current task plus four raw argument
// words and returning a signed result the caller sees in EAX.
//
// Grounded on original_source's SyscallManager (include/kernel/syscall.h,
// kernel/core/syscall.cpp): the same syscall numbering, the same
// (u32,u32,u32,u32)->i32 handler shape, and the same "unregistered number
// returns -1" convention. The VFS_i and Loader_i interfaces below are
// declared here rather than in package vfs/elf so this package builds and
// tests before either exists, mirroring sched.LAPIC_i's role for package
// apic.
package syscall

import (
	"defs"
	"proc"
)

// Handler_t is one syscall's implementation: cpu identifies the caller's
// CPU (nanosleep and exit need it to drive the scheduler), t is the
// calling task, and a1-a4 are EBX/ECX/EDX/ESI verbatim.
type Handler_t func(cpu int, t *proc.Task_t, a1, a2, a3, a4 uint32) int32

var handlers [256]Handler_t

// Register installs fn as the handler for syscall number num.
func Register(num uint32, fn Handler_t) {
	handlers[num] = fn
}

// Dispatch looks up and calls the handler for num, returning -1 without
// calling anything if no handler is registered.
func Dispatch(cpu int, t *proc.Task_t, num, a1, a2, a3, a4 uint32) int32 {
	if num >= uint32(len(handlers)) || handlers[num] == nil {
		return -1
	}
	return handlers[num](cpu, t, a1, a2, a3, a4)
}

// Registered reports whether a handler exists for num, for tests.
func Registered(num uint32) bool {
	return num < uint32(len(handlers)) && handlers[num] != nil
}

// ResetForTest clears the handler table and sleeper state between tests.
func ResetForTest() {
	handlers = [256]Handler_t{}
	resetSleepersForTest()
}

// errno narrows an already-negative defs.Err_t (vm.Vm_t, fdops.Fdops_i
// and friends all return errors pre-negated) to the int32 a handler
// returns; err == 0 must never be passed here (callers return 0 directly
// on success).
func errno(err defs.Err_t) int32 {
	return int32(err)
}

// Syscall numbers, matching original_source's SyscallNumber enum exactly.
const (
	SYS_FORK      = 1
	SYS_EXEC      = 2
	SYS_OPEN      = 3
	SYS_READ      = 4
	SYS_WRITE     = 5
	SYS_CLOSE     = 6
	SYS_SEEK      = 7
	SYS_EXIT      = 8
	SYS_GETPID    = 9
	SYS_NANOSLEEP = 10
	SYS_STAT      = 11
	SYS_MKDIR     = 12
	SYS_UNLINK    = 13
	SYS_RMDIR     = 14
	SYS_GETDENTS  = 15
	SYS_LOG       = 16
	SYS_CHDIR     = 17
	SYS_PWD       = 18
	SYS_GETCWD    = 19
	SYS_MMAP      = 20
)

// MapFailed is mmap's failure return value.
const MapFailed = -1

// Init registers every syscall this package implements into the handler
// table. The kernel package calls this once at boot, after SetVFS and
// SetLoader have installed their backends.
func Init() {
	Register(SYS_FORK, sysFork)
	Register(SYS_EXEC, sysExecve)
	Register(SYS_OPEN, sysOpen)
	Register(SYS_READ, sysRead)
	Register(SYS_WRITE, sysWrite)
	Register(SYS_CLOSE, sysClose)
	Register(SYS_SEEK, sysSeek)
	Register(SYS_EXIT, sysExit)
	Register(SYS_GETPID, sysGetpid)
	Register(SYS_NANOSLEEP, sysNanosleep)
	Register(SYS_STAT, sysStat)
	Register(SYS_MKDIR, sysMkdir)
	Register(SYS_UNLINK, sysUnlink)
	Register(SYS_RMDIR, sysRmdir)
	Register(SYS_GETDENTS, sysGetdents)
	Register(SYS_LOG, sysLog)
	Register(SYS_CHDIR, sysChdir)
	Register(SYS_GETCWD, sysGetcwd)
	Register(SYS_MMAP, sysMmap)
}
