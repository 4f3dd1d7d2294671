// Package fdops declares the capability interface every open file
// descriptor implements plus the small helper types (Userio_i,
// Pollmsg_t, Ready_t) its methods exchange.
//
// Shipped empty in the retrieval pack; reconstructed from call sites in
// vm.Vm_t (fdops.Fdops_i, fdops.Userio_i) and ufs/driver.go's console_t,
// which implements Cons_read/Cons_write/Cons_poll against exactly this
// shape.
package fdops

import "defs"

// Userio_i abstracts a source or destination for a read/write: either a
// kernel buffer or a user virtual-memory range (vm.Userbuf_t implements
// it), so file backends never need to know which one they're given.
type Userio_i interface {
	Uioread(dst []uint8) (int, defs.Err_t)
	Uiowrite(src []uint8) (int, defs.Err_t)
	Remain() int
	Totalsz() int
}

// Ready_t is a bitmask of poll readiness conditions.
type Ready_t int

const (
	R_READ  Ready_t = 1 << 0
	R_WRITE Ready_t = 1 << 1
	R_ERROR Ready_t = 1 << 2
)

// Pollmsg_t carries the conditions a caller is polling for.
type Pollmsg_t struct {
	Events Ready_t
}

// Fdops_i is the capability every open file descriptor implements.
// Mmap is optional; backends that don't support it return -defs.EINVAL.
type Fdops_i interface {
	Read(dst Userio_i) (int, defs.Err_t)
	Write(src Userio_i) (int, defs.Err_t)
	Seek(off int, whence int) (int, defs.Err_t)
	Close() defs.Err_t
	Reopen() defs.Err_t
	// Iterate returns the directory entry at the given enumeration
	// position plus the next position, or ok=false at end of directory.
	Iterate(pos int) (name string, ino int, ftype int, next int, ok bool)
	Mmap(off, len, perms int) (uintptr, defs.Err_t)
	Pathi() uint
}

// NopMmap is embedded by descriptor types that don't support mmap.
type NopMmap struct{}

func (NopMmap) Mmap(off, len, perms int) (uintptr, defs.Err_t) { return 0, -defs.EINVAL }

// NopIterate is embedded by descriptor types that aren't directories.
type NopIterate struct{}

func (NopIterate) Iterate(pos int) (string, int, int, int, bool) { return "", 0, 0, 0, false }
