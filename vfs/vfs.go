// Package vfs dispatches path-taking operations to whichever registered
// filesystem claims the longest matching mount-point prefix, the same
// single-level mount table a small kernel uses in place of a full mount
// namespace.
package vfs

import (
	"strings"
	"sync"

	"defs"
	"fd"
	"stat"
	"ustr"
)

// MaxMounts bounds the mount table, matching the fixed-size mount point
// array a statically-sized kernel keeps rather than growing one
// dynamically.
const MaxMounts = 16

// FileSystem_i is the capability a concrete filesystem backend (an
// in-memory tree, an ext2 image) exports to the mount table. Every method
// receives the path remaining after the mount-point prefix has been
// stripped off, rooted at that filesystem's own "/".
type FileSystem_i interface {
	Name() string
	Open(path ustr.Ustr) (*fd.Fd_t, defs.Err_t)
	Stat(path ustr.Ustr) (*stat.Stat_t, defs.Err_t)
	Mkdir(path ustr.Ustr) defs.Err_t
	Unlink(path ustr.Ustr) defs.Err_t
	Rmdir(path ustr.Ustr) defs.Err_t
}

type mountPoint struct {
	path string
	fs   FileSystem_i
	used bool
}

// Vfs_t is the mount table. The zero value has no mounts registered.
type Vfs_t struct {
	mu     sync.Mutex
	mounts [MaxMounts]mountPoint
}

// Register adds fs at mount point p. Returns ENOSPC if the table is full.
// p should not end in "/" except for the root mount "/" itself.
func (v *Vfs_t) Register(p string, fs FileSystem_i) defs.Err_t {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.mounts {
		if !v.mounts[i].used {
			v.mounts[i] = mountPoint{path: p, fs: fs, used: true}
			return 0
		}
	}
	return -defs.ENOSPC
}

// find returns the filesystem whose mount path is the longest prefix of
// path, along with the remainder of path after that prefix is stripped.
// Ties are broken in favor of the longer (more specific) mount path, so a
// mount at "/usr/bin" shadows "/usr" for paths under it.
func (v *Vfs_t) find(path string) (FileSystem_i, string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var best FileSystem_i
	var bestLen = -1
	var remain string
	for i := range v.mounts {
		m := &v.mounts[i]
		if !m.used {
			continue
		}
		if !strings.HasPrefix(path, m.path) {
			continue
		}
		if len(m.path) > bestLen {
			bestLen = len(m.path)
			best = m.fs
			remain = path[len(m.path):]
		}
	}
	if best != nil && !strings.HasPrefix(remain, "/") {
		remain = "/" + remain
	}
	return best, remain
}

func (v *Vfs_t) Open(path ustr.Ustr) (*fd.Fd_t, defs.Err_t) {
	fs, remain := v.find(string(path))
	if fs == nil {
		return nil, -defs.ENOENT
	}
	return fs.Open(ustr.Ustr(remain))
}

func (v *Vfs_t) Stat(path ustr.Ustr) (*stat.Stat_t, defs.Err_t) {
	fs, remain := v.find(string(path))
	if fs == nil {
		return nil, -defs.ENOENT
	}
	return fs.Stat(ustr.Ustr(remain))
}

func (v *Vfs_t) Mkdir(path ustr.Ustr) defs.Err_t {
	fs, remain := v.find(string(path))
	if fs == nil {
		return -defs.ENOENT
	}
	return fs.Mkdir(ustr.Ustr(remain))
}

func (v *Vfs_t) Unlink(path ustr.Ustr) defs.Err_t {
	fs, remain := v.find(string(path))
	if fs == nil {
		return -defs.ENOENT
	}
	return fs.Unlink(ustr.Ustr(remain))
}

func (v *Vfs_t) Rmdir(path ustr.Ustr) defs.Err_t {
	fs, remain := v.find(string(path))
	if fs == nil {
		return -defs.ENOENT
	}
	return fs.Rmdir(ustr.Ustr(remain))
}
