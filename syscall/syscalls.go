package syscall

import (
	"fmt"

	"defs"
	"fd"
	"proc"
	"sched"
	"ustr"
	"vm"
)

// maxPathLen bounds a path argument copied in from user space; generous
// enough for any name this core's filesystems produce.
const maxPathLen = 256

func userPath(t *proc.Task_t, uva uint32) (ustr.Ustr, int32) {
	p, err := t.Ctx.As.Userstr(int(uva), maxPathLen)
	if err != 0 {
		return nil, errno(err)
	}
	return p, 0
}

// sysFork duplicates the caller's context (COW address space, cloned fd
// table, independent cwd) and enqueues a ready child task on the same
// CPU the parent is running on. The parent sees the child's id in EAX;
// proc.ForkTask has already forced the child's own saved Eax to 0.
func sysFork(cpu int, t *proc.Task_t, a1, a2, a3, a4 uint32) int32 {
	cid := proc.Pids.Alloc()
	if cid < 0 {
		return -int32(defs.ENOMEM)
	}
	childCtx, err := t.Ctx.Fork(defs.Cid_t(cid))
	if err != 0 {
		proc.Pids.Free(cid)
		return errno(err)
	}
	tid := proc.Tids.Alloc()
	if tid < 0 {
		return -int32(defs.ENOMEM)
	}
	child, err := proc.ForkTask(defs.Tid_t(tid), t, childCtx)
	if err != 0 {
		proc.Tids.Free(tid)
		return errno(err)
	}
	sched.Enqueue(cpu, child)
	return int32(child.Id)
}

// sysExecve opens path, reads its full contents into a kernel buffer,
// hands them to the installed Loader_i, and transitions the calling
// task to user mode at the returned entry point. argv/envp are accepted
// but not yet passed through to the new image.
func sysExecve(cpu int, t *proc.Task_t, path_ptr, argv, envp, a4 uint32) int32 {
	if theVFS == nil || theLoader == nil {
		return -int32(defs.ENOSYS)
	}
	path, rc := userPath(t, path_ptr)
	if rc != 0 {
		return rc
	}
	f, err := theVFS.Open(path)
	if err != 0 {
		return errno(err)
	}
	defer f.Fops.Close()

	st, err := theVFS.Stat(path)
	if err != 0 {
		return errno(err)
	}

	data := make([]byte, st.Size())
	var fb vm.Fakeubuf_t
	fb.Fake_init(data)
	if _, err := f.Fops.Read(&fb); err != 0 {
		return errno(err)
	}

	entry, err := theLoader.Load(t.Ctx.As, data)
	if err != 0 {
		return errno(err)
	}
	t.SwitchToUserMode(entry)
	return 0
}

// sysOpen resolves path through the installed VFS and installs the
// resulting descriptor in the caller's context through Allocfd (the
// next free slot after the one it last handed out).
func sysOpen(cpu int, t *proc.Task_t, path_ptr, a2, a3, a4 uint32) int32 {
	if theVFS == nil {
		return -int32(defs.ENOSYS)
	}
	path, rc := userPath(t, path_ptr)
	if rc != 0 {
		return rc
	}
	f, err := theVFS.Open(path)
	if err != 0 {
		return errno(err)
	}
	n, err := t.Ctx.Allocfd(f)
	if err != 0 {
		f.Fops.Close()
		return errno(err)
	}
	return int32(n)
}

func getOpenFd(t *proc.Task_t, n uint32) (*fd.Fd_t, int32) {
	f, ok := t.Ctx.Getfd(int(n))
	if !ok {
		return nil, -int32(defs.EBADF)
	}
	return f, 0
}

func sysRead(cpu int, t *proc.Task_t, fdnum, buf, size, a4 uint32) int32 {
	f, rc := getOpenFd(t, fdnum)
	if rc != 0 {
		return rc
	}
	ub := t.Ctx.As.Mkuserbuf(int(buf), int(size))
	n, err := f.Fops.Read(ub)
	if err != 0 {
		return errno(err)
	}
	return int32(n)
}

func sysWrite(cpu int, t *proc.Task_t, fdnum, buf, size, a4 uint32) int32 {
	f, rc := getOpenFd(t, fdnum)
	if rc != 0 {
		return rc
	}
	ub := t.Ctx.As.Mkuserbuf(int(buf), int(size))
	n, err := f.Fops.Write(ub)
	if err != 0 {
		return errno(err)
	}
	return int32(n)
}

func sysClose(cpu int, t *proc.Task_t, fdnum, a2, a3, a4 uint32) int32 {
	if err := t.Ctx.Closefd(int(fdnum)); err != 0 {
		return errno(err)
	}
	return 0
}

// seekSet is the only whence mode this core's seek syscall supports --
// its argument list has no room for a whence argument, so every seek is
// SEEK_SET.
const seekSet = 0

func sysSeek(cpu int, t *proc.Task_t, fdnum, off, a3, a4 uint32) int32 {
	f, rc := getOpenFd(t, fdnum)
	if rc != 0 {
		return rc
	}
	n, err := f.Fops.Seek(int(int32(off)), seekSet)
	if err != 0 {
		return errno(err)
	}
	return int32(n)
}

func sysExit(cpu int, t *proc.Task_t, status, a2, a3, a4 uint32) int32 {
	t.State = proc.TaskExited
	t.ExitStatus = int(int32(status))
	t.MarkExited()
	sched.Yield(cpu)
	return 0
}

func sysGetpid(cpu int, t *proc.Task_t, a1, a2, a3, a4 uint32) int32 {
	return int32(t.Id)
}

// sysNanosleep converts the requested duration to ticks (rounding up so
// a request shorter than one tick still sleeps at least one tick) and
// parks the task until Tick wakes it. A zero duration returns at once.
func sysNanosleep(cpu int, t *proc.Task_t, req, rem, a3, a4 uint32) int32 {
	dur, _, err := t.Ctx.As.Usertimespec(int(req))
	if err != 0 {
		return errno(err)
	}
	tickDur := int64(1e9 / TicksPerSecond)
	ticks := int((int64(dur) + tickDur - 1) / tickDur)
	if ticks <= 0 {
		return 0
	}
	t.State = proc.TaskSleeping
	sleepFor(cpu, t, ticks)
	sched.Yield(cpu)
	return 0
}

func sysStat(cpu int, t *proc.Task_t, path_ptr, attr_ptr, a3, a4 uint32) int32 {
	if theVFS == nil {
		return -int32(defs.ENOSYS)
	}
	path, rc := userPath(t, path_ptr)
	if rc != 0 {
		return rc
	}
	st, err := theVFS.Stat(path)
	if err != 0 {
		return errno(err)
	}
	if err := t.Ctx.As.K2user(st.Bytes(), int(attr_ptr)); err != 0 {
		return errno(err)
	}
	return 0
}

func sysMkdir(cpu int, t *proc.Task_t, path_ptr, a2, a3, a4 uint32) int32 {
	if theVFS == nil {
		return -int32(defs.ENOSYS)
	}
	path, rc := userPath(t, path_ptr)
	if rc != 0 {
		return rc
	}
	if err := theVFS.Mkdir(path); err != 0 {
		return errno(err)
	}
	return 0
}

func sysUnlink(cpu int, t *proc.Task_t, path_ptr, a2, a3, a4 uint32) int32 {
	if theVFS == nil {
		return -int32(defs.ENOSYS)
	}
	path, rc := userPath(t, path_ptr)
	if rc != 0 {
		return rc
	}
	if err := theVFS.Unlink(path); err != 0 {
		return errno(err)
	}
	return 0
}

func sysRmdir(cpu int, t *proc.Task_t, path_ptr, a2, a3, a4 uint32) int32 {
	if theVFS == nil {
		return -int32(defs.ENOSYS)
	}
	path, rc := userPath(t, path_ptr)
	if rc != 0 {
		return rc
	}
	if err := theVFS.Rmdir(path); err != 0 {
		return errno(err)
	}
	return 0
}

// sysGetdents walks fd's directory entries starting at the position
// read from pos_ptr, marshalling as many records as fit in count bytes,
// then writes the resume position back to pos_ptr.
func sysGetdents(cpu int, t *proc.Task_t, fdnum, dirp, count, pos_ptr uint32) int32 {
	f, rc := getOpenFd(t, fdnum)
	if rc != 0 {
		return rc
	}
	pos, err := t.Ctx.As.Userreadn(int(pos_ptr), 4)
	if err != 0 {
		return errno(err)
	}

	var buf []byte
	for {
		name, ino, ftype, next, ok := f.Fops.Iterate(pos)
		if !ok {
			break
		}
		reclen := direntReclen(len(name))
		if len(buf)+reclen > int(count) {
			break
		}
		buf = marshalDirent(buf, ino, next, ftype, name)
		pos = next
	}

	if err := t.Ctx.As.K2user(buf, int(dirp)); err != 0 {
		return errno(err)
	}
	if err := t.Ctx.As.Userwriten(int(pos_ptr), 4, pos); err != 0 {
		return errno(err)
	}
	return int32(len(buf))
}

func sysLog(cpu int, t *proc.Task_t, msg, length, a3, a4 uint32) int32 {
	buf := make([]byte, length)
	if err := t.Ctx.As.User2k(buf, int(msg)); err != 0 {
		return errno(err)
	}
	fmt.Printf("[log] %s\n", string(buf))
	return 0
}

// sysChdir requires the target resolve to a directory, then opens it
// and installs it as the context's new working directory.
func sysChdir(cpu int, t *proc.Task_t, path_ptr, a2, a3, a4 uint32) int32 {
	if theVFS == nil {
		return -int32(defs.ENOSYS)
	}
	path, rc := userPath(t, path_ptr)
	if rc != 0 {
		return rc
	}
	st, err := theVFS.Stat(path)
	if err != 0 {
		return errno(err)
	}
	const modeDirBit = 0x4000
	if st.Mode()&0xF000 != modeDirBit {
		return -int32(defs.ENOTDIR)
	}
	newFd, err := theVFS.Open(path)
	if err != 0 {
		return errno(err)
	}
	t.Ctx.Cwd.Lock()
	old := t.Ctx.Cwd.Fd
	t.Ctx.Cwd.Fd = newFd
	t.Ctx.Cwd.Path = append(ustr.Ustr(nil), path...)
	t.Ctx.Cwd.Unlock()
	if old != nil {
		old.Fops.Close()
	}
	return 0
}

func sysGetcwd(cpu int, t *proc.Task_t, buf, size, a3, a4 uint32) int32 {
	t.Ctx.Cwd.Lock()
	path := append(ustr.Ustr(nil), t.Ctx.Cwd.Path...)
	t.Ctx.Cwd.Unlock()
	if len(path)+1 > int(size) {
		return -int32(defs.ENAMETOOLONG)
	}
	out := append(append([]byte(nil), path...), 0)
	if err := t.Ctx.As.K2user(out, int(buf)); err != 0 {
		return errno(err)
	}
	return 0
}

// mmap's 4th argument is a pointer to three packed user words
// (flags, fd, offset), matching mmapHandler's reinterpretation of
// user_buf_p as a uint32[3] rather than a single bit-packed scalar.
func sysMmap(cpu int, t *proc.Task_t, addr, length, prot, userBufPtr uint32) int32 {
	flags, err := t.Ctx.As.Userreadn(int(userBufPtr), 4)
	if err != 0 {
		return errno(err)
	}
	fdnum, err := t.Ctx.As.Userreadn(int(userBufPtr)+4, 4)
	if err != 0 {
		return errno(err)
	}
	offset, err := t.Ctx.As.Userreadn(int(userBufPtr)+8, 4)
	if err != 0 {
		return errno(err)
	}
	_ = flags

	if length == 0 {
		return MapFailed
	}

	if int32(fdnum) < 0 {
		as := t.Ctx.As
		as.Lock_pmap()
		startva := as.Unusedva_inner(0, int(length))
		if startva == 0 {
			as.Unlock_pmap()
			return MapFailed
		}
		perms := vm.PTE_U
		if prot&protWrite != 0 {
			perms |= vm.PTE_W
		}
		as.Unlock_pmap()
		as.Vmadd_anon(startva, int(length), perms)
		return int32(startva)
	}

	f, rc := getOpenFd(t, uint32(fdnum))
	if rc != 0 {
		return MapFailed
	}
	ret, merr := f.Fops.Mmap(int(offset), int(length), int(prot))
	if merr != 0 {
		return MapFailed
	}
	return int32(ret)
}

const protWrite = 0x2
