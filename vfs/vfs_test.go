package vfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"defs"
	"fd"
	"fdops"
	"stat"
	"ustr"
)

type fakeFops struct {
	fdops.NopMmap
	fdops.NopIterate
}

func (fakeFops) Read(fdops.Userio_i) (int, defs.Err_t)  { return 0, 0 }
func (fakeFops) Write(fdops.Userio_i) (int, defs.Err_t) { return 0, 0 }
func (fakeFops) Seek(int, int) (int, defs.Err_t)        { return 0, 0 }
func (fakeFops) Close() defs.Err_t                      { return 0 }
func (fakeFops) Reopen() defs.Err_t                     { return 0 }
func (fakeFops) Pathi() uint                            { return 0 }

type fakeFS struct {
	name  string
	seen  string
	files map[string]bool
}

func (f *fakeFS) Name() string { return f.name }

func (f *fakeFS) Open(path ustr.Ustr) (*fd.Fd_t, defs.Err_t) {
	f.seen = string(path)
	if !f.files[f.seen] {
		return nil, -defs.ENOENT
	}
	return &fd.Fd_t{Fops: &fakeFops{}}, 0
}

func (f *fakeFS) Stat(path ustr.Ustr) (*stat.Stat_t, defs.Err_t) {
	f.seen = string(path)
	if !f.files[f.seen] {
		return nil, -defs.ENOENT
	}
	var st stat.Stat_t
	st.Wmode(0x8000)
	return &st, 0
}

func (f *fakeFS) Mkdir(path ustr.Ustr) defs.Err_t {
	f.seen = string(path)
	f.files[f.seen] = true
	return 0
}

func (f *fakeFS) Unlink(path ustr.Ustr) defs.Err_t {
	f.seen = string(path)
	delete(f.files, f.seen)
	return 0
}

func (f *fakeFS) Rmdir(path ustr.Ustr) defs.Err_t {
	f.seen = string(path)
	delete(f.files, f.seen)
	return 0
}

func TestResolvesLongestMatchingMount(t *testing.T) {
	var v Vfs_t
	root := &fakeFS{name: "root", files: map[string]bool{"/etc/passwd": true}}
	usr := &fakeFS{name: "usr", files: map[string]bool{"/ls": true}}
	require.Zero(t, v.Register("/", root))
	require.Zero(t, v.Register("/usr", usr))

	_, err := v.Open(ustr.Ustr("/etc/passwd"))
	require.Zero(t, err)
	assert.Equal(t, "/etc/passwd", root.seen)

	_, err = v.Open(ustr.Ustr("/usr/ls"))
	require.Zero(t, err)
	assert.Equal(t, "/ls", usr.seen)
}

func TestUnmountedPathReturnsNoEnt(t *testing.T) {
	var v Vfs_t
	_, err := v.Stat(ustr.Ustr("/nowhere"))
	assert.Equal(t, -defs.ENOENT, err)
}

func TestRegisterFailsPastSixteenMounts(t *testing.T) {
	var v Vfs_t
	fs := &fakeFS{name: "x", files: map[string]bool{}}
	for i := 0; i < MaxMounts; i++ {
		require.Zero(t, v.Register("/m", fs))
	}
	err := v.Register("/overflow", fs)
	assert.Equal(t, -defs.ENOSPC, err)
}

func TestMkdirUnlinkRmdirDelegate(t *testing.T) {
	var v Vfs_t
	fs := &fakeFS{name: "root", files: map[string]bool{}}
	require.Zero(t, v.Register("/", fs))

	require.Zero(t, v.Mkdir(ustr.Ustr("/newdir")))
	assert.True(t, fs.files["/newdir"])

	require.Zero(t, v.Rmdir(ustr.Ustr("/newdir")))
	assert.False(t, fs.files["/newdir"])

	fs.files["/f"] = true
	require.Zero(t, v.Unlink(ustr.Ustr("/f")))
	assert.False(t, fs.files["/f"])
}
