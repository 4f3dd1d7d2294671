package syscall

import (
	"defs"
	"fd"
	"stat"
	"ustr"
	"vm"
)

// VFS_i is the capability the open/stat/mkdir/unlink/rmdir/chdir
// handlers need from the filesystem layer: resolve a path through the
// mount table and perform one operation against whichever filesystem
// claims the longest matching prefix. Declared here, satisfied later by
// package vfs, the way sched.LAPIC_i lets sched build ahead of apic.
type VFS_i interface {
	Open(path ustr.Ustr) (*fd.Fd_t, defs.Err_t)
	Stat(path ustr.Ustr) (*stat.Stat_t, defs.Err_t)
	Mkdir(path ustr.Ustr) defs.Err_t
	Unlink(path ustr.Ustr) defs.Err_t
	Rmdir(path ustr.Ustr) defs.Err_t
}

var theVFS VFS_i

// SetVFS installs the filesystem backend every path-taking syscall
// dispatches through. Must be called before Init.
func SetVFS(v VFS_i) {
	theVFS = v
}

// Loader_i is the capability execve needs to turn a loaded executable
// image into an entry point inside a freshly built address space.
// Declared here, satisfied later by package elf.
type Loader_i interface {
	Load(as *vm.Vm_t, data []byte) (entry uint32, err defs.Err_t)
}

var theLoader Loader_i

// SetLoader installs the executable loader execve dispatches through.
func SetLoader(l Loader_i) {
	theLoader = l
}
