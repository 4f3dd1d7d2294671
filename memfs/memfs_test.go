package memfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"defs"
	"fdops"
	"ustr"
)

type kbuf struct {
	data []byte
	off  int
}

func (k *kbuf) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, k.data[k.off:])
	k.off += n
	return n, 0
}

func (k *kbuf) Uiowrite(src []uint8) (int, defs.Err_t) {
	n := copy(k.data[k.off:], src)
	k.off += n
	return n, 0
}

func (k *kbuf) Remain() int  { return len(k.data) - k.off }
func (k *kbuf) Totalsz() int { return len(k.data) }

var _ fdops.Userio_i = (*kbuf)(nil)

func TestMkdirOpenAndStat(t *testing.T) {
	fs := New()
	require.Zero(t, fs.Mkdir(ustr.Ustr("/etc")))

	_, err := fs.Open(ustr.Ustr("/etc"))
	require.Zero(t, err)
	st, err := fs.Stat(ustr.Ustr("/etc"))
	require.Zero(t, err)
	assert.Equal(t, uint(0x4000|0755), st.Mode())
}

func TestPlantedFileStatAndRead(t *testing.T) {
	fs := New()
	require.Zero(t, fs.Mkdir(ustr.Ustr("/etc")))
	fs.plant("etc/passwd", false, 0644, []byte("root:x:0:0\n"))

	st, err := fs.Stat(ustr.Ustr("/etc/passwd"))
	require.Zero(t, err)
	assert.Equal(t, uint(len("root:x:0:0\n")), st.Size())

	fd, err := fs.Open(ustr.Ustr("/etc/passwd"))
	require.Zero(t, err)
	dst := &kbuf{data: make([]byte, 32)}
	n, err := fd.Fops.Read(dst)
	require.Zero(t, err)
	assert.Equal(t, "root:x:0:0\n", string(dst.data[:n]))
}

func TestWriteGrowsFileAndAdvancesOffset(t *testing.T) {
	fs := New()
	fs.plant("out", false, 0644, nil)
	fd, err := fs.Open(ustr.Ustr("/out"))
	require.Zero(t, err)

	src := &kbuf{data: []byte("payload")}
	n, err := fd.Fops.Write(src)
	require.Zero(t, err)
	assert.Equal(t, 7, n)

	st, err := fs.Stat(ustr.Ustr("/out"))
	require.Zero(t, err)
	assert.Equal(t, uint(7), st.Size())
}

func TestUnlinkRemovesFileNotDirectory(t *testing.T) {
	fs := New()
	require.Zero(t, fs.Mkdir(ustr.Ustr("/d")))
	assert.Equal(t, -defs.EISDIR, fs.Unlink(ustr.Ustr("/d")))

	fs.plant("f", false, 0644, []byte("x"))
	require.Zero(t, fs.Unlink(ustr.Ustr("/f")))
	_, err := fs.Stat(ustr.Ustr("/f"))
	assert.Equal(t, -defs.ENOENT, err)
}

func TestRmdirRequiresEmptyDirectory(t *testing.T) {
	fs := New()
	require.Zero(t, fs.Mkdir(ustr.Ustr("/d")))
	require.Zero(t, fs.Mkdir(ustr.Ustr("/d/sub")))

	assert.Equal(t, -defs.ENOTEMPTY, fs.Rmdir(ustr.Ustr("/d")))
	require.Zero(t, fs.Rmdir(ustr.Ustr("/d/sub")))
	require.Zero(t, fs.Rmdir(ustr.Ustr("/d")))
}

func TestGetdentsIterationOverChildren(t *testing.T) {
	fs := New()
	require.Zero(t, fs.Mkdir(ustr.Ustr("/d")))
	fs.plant("d/a", false, 0644, []byte("1"))
	fs.plant("d/b", true, 0755, nil)

	fd, err := fs.Open(ustr.Ustr("/d"))
	require.Zero(t, err)

	name, _, ftyp, next, ok := fd.Fops.Iterate(0)
	require.True(t, ok)
	assert.Equal(t, "a", name)
	assert.Equal(t, dtReg, ftyp)

	name, _, ftyp, next, ok = fd.Fops.Iterate(next)
	require.True(t, ok)
	assert.Equal(t, "b", name)
	assert.Equal(t, dtDir, ftyp)

	_, _, _, _, ok = fd.Fops.Iterate(next)
	assert.False(t, ok)
}

func cpioHeader(mode, filesize, namesize uint32) []byte {
	h := make([]byte, cpioHeaderLen)
	copy(h[0:6], cpioMagic)
	hex := func(b []byte, v uint32) {
		const digits = "0123456789abcdef"
		for i := 7; i >= 0; i-- {
			b[i] = digits[v&0xF]
			v >>= 4
		}
	}
	hex(h[14:22], mode)
	hex(h[54:62], filesize)
	hex(h[94:102], namesize)
	return h
}

func appendEntry(buf []byte, name string, mode uint32, body []byte) []byte {
	namesize := uint32(len(name) + 1)
	buf = append(buf, cpioHeader(mode, uint32(len(body)), namesize)...)
	buf = append(buf, name...)
	buf = append(buf, 0)
	for len(buf)%4 != 0 {
		buf = append(buf, 0)
	}
	buf = append(buf, body...)
	for len(buf)%4 != 0 {
		buf = append(buf, 0)
	}
	return buf
}

func TestLoadCPIORehydratesNestedDirectories(t *testing.T) {
	var archive []byte
	archive = appendEntry(archive, "usr/bin/ls", 0100755, []byte("binary"))
	archive = appendEntry(archive, cpioTrailer, 0, nil)

	fs := New()
	require.Zero(t, fs.LoadCPIO(archive))

	st, err := fs.Stat(ustr.Ustr("/usr"))
	require.Zero(t, err)
	assert.Equal(t, uint(0x4000|0755), st.Mode())

	st, err = fs.Stat(ustr.Ustr("/usr/bin"))
	require.Zero(t, err)
	assert.Equal(t, uint(0x4000|0755), st.Mode())

	st, err = fs.Stat(ustr.Ustr("/usr/bin/ls"))
	require.Zero(t, err)
	assert.Equal(t, uint(len("binary")), st.Size())
}
