package proc

import (
	"sync"

	"defs"
	"fd"
	"fdops"
	"ustr"
	"vm"
)

// MaxFds bounds a context's fd table, matching original_source's
// MAX_PROCESS_FDS.
const MaxFds = 256

// Context_t is one address space: a page table plus the VMAs layered on
// it (vm.Vm_t), a fixed-size descriptor table, and a working directory.
// More than one Task_t may point at the same Context_t (threads); the fd
// table and cwd are shared across them, guarded by fdmu/cwd's own locks.
type Context_t struct {
	Id defs.Cid_t
	As *vm.Vm_t

	fdmu   sync.Mutex
	Fds    [MaxFds]*fd.Fd_t
	nextFd int

	Cwd *fd.Cwd_t
}

// NewContext allocates an empty address space with no fds and no cwd;
// the caller populates standard descriptors and a working directory
// before the context is runnable.
func NewContext(id defs.Cid_t) (*Context_t, defs.Err_t) {
	as, err := vm.NewVm_t()
	if err != 0 {
		return nil, err
	}
	return &Context_t{Id: id, As: as, nextFd: 3}, 0
}

// BindStdFds installs console on descriptors 0, 1, and 2 -- the kernel
// context's fixed binding every other context's fds 0-2 ultimately trace
// back to via InheritStdFds.
func (c *Context_t) BindStdFds(console fdops.Fdops_i) defs.Err_t {
	first := &fd.Fd_t{Fops: console, Perms: fd.FD_READ | fd.FD_WRITE}
	c.fdmu.Lock()
	defer c.fdmu.Unlock()
	c.Fds[0] = first
	for i := 1; i <= 2; i++ {
		dup, err := fd.Copyfd(first)
		if err != 0 {
			return err
		}
		c.Fds[i] = dup
	}
	return 0
}

// InheritStdFds duplicates parent's descriptors 0-2 into c, the way a
// freshly created user context picks up its standard streams from the
// context that spawned it (ultimately the kernel context, which bound
// them to the console with BindStdFds).
func (c *Context_t) InheritStdFds(parent *Context_t) defs.Err_t {
	parent.fdmu.Lock()
	srcs := [3]*fd.Fd_t{parent.Fds[0], parent.Fds[1], parent.Fds[2]}
	parent.fdmu.Unlock()

	c.fdmu.Lock()
	defer c.fdmu.Unlock()
	for i, src := range srcs {
		if src == nil {
			continue
		}
		dup, err := fd.Copyfd(src)
		if err != 0 {
			return err
		}
		c.Fds[i] = dup
	}
	return 0
}

// Allocfd installs f in the first free slot at or after the one past
// the slot it last handed out, wrapping around and skipping slots 0-2,
// returning -defs.EMFILE if the table is full.
func (c *Context_t) Allocfd(f *fd.Fd_t) (int, defs.Err_t) {
	c.fdmu.Lock()
	defer c.fdmu.Unlock()
	for i := 0; i < MaxFds; i++ {
		n := (c.nextFd + i) % MaxFds
		if n < 3 {
			continue
		}
		if c.Fds[n] == nil {
			c.Fds[n] = f
			c.nextFd = n + 1
			return n, 0
		}
	}
	return 0, -defs.EMFILE
}

// Getfd returns the descriptor at n, if any is open there.
func (c *Context_t) Getfd(n int) (*fd.Fd_t, bool) {
	if n < 0 || n >= MaxFds {
		return nil, false
	}
	c.fdmu.Lock()
	defer c.fdmu.Unlock()
	f := c.Fds[n]
	return f, f != nil
}

// Closefd closes and clears the descriptor at n.
func (c *Context_t) Closefd(n int) defs.Err_t {
	c.fdmu.Lock()
	f := c.Fds[n]
	if f == nil {
		c.fdmu.Unlock()
		return -defs.EBADF
	}
	c.Fds[n] = nil
	c.fdmu.Unlock()
	return f.Fops.Close()
}

// CloneFds duplicates every open descriptor of src into c (fork's fd
// table duplication).
func (c *Context_t) CloneFds(src *Context_t) defs.Err_t {
	src.fdmu.Lock()
	defer src.fdmu.Unlock()
	c.fdmu.Lock()
	defer c.fdmu.Unlock()
	for i, f := range src.Fds {
		if f == nil {
			continue
		}
		dup, err := fd.Copyfd(f)
		if err != 0 {
			return err
		}
		c.Fds[i] = dup
	}
	c.nextFd = src.nextFd
	return 0
}

// SetCwd installs a fresh working-directory record rooted at fd, for
// contexts that start at "/".
func (c *Context_t) SetCwd(rootfd *fd.Fd_t) {
	c.Cwd = fd.MkRootCwd(rootfd)
}

// CloneCwd gives c an independent Cwd_t pointing at the same directory
// fd as src, so a later chdir in one context never touches the other's
// path -- ustr.Ustr is just a byte slice, so the path is deep-copied too.
func (c *Context_t) CloneCwd(src *Context_t) defs.Err_t {
	src.Cwd.Lock()
	cwdfd, err := fd.Copyfd(src.Cwd.Fd)
	path := append(ustr.Ustr(nil), src.Cwd.Path...)
	src.Cwd.Unlock()
	if err != 0 {
		return err
	}
	c.Cwd = &fd.Cwd_t{Fd: cwdfd, Path: path}
	return 0
}

// Fork clones c into a brand-new context suitable for a child task:
// copy-on-write address space, duplicated fd table, independent cwd.
func (c *Context_t) Fork(childId defs.Cid_t) (*Context_t, defs.Err_t) {
	childAs, err := vm.NewVm_t()
	if err != 0 {
		return nil, err
	}
	child := &Context_t{Id: childId, As: childAs, nextFd: c.nextFd}

	c.As.Lock_pmap()
	err = vm.CopyMemorySpaceCOW(c.As, childAs)
	c.As.Unlock_pmap()
	if err != 0 {
		return nil, err
	}

	if err := child.CloneFds(c); err != 0 {
		return nil, err
	}
	if err := child.CloneCwd(c); err != 0 {
		return nil, err
	}
	return child, 0
}
