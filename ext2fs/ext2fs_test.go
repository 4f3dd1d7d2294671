package ext2fs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"defs"
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

func freshFS(t *testing.T, totalBlocks int) *Fs_t {
	t.Helper()
	dev := NewMemDisk(totalBlocks)
	fs, err := Format(dev, FormatConfig{TotalBlocks: totalBlocks, TotalInodes: 64})
	require.Zero(t, err)
	return fs
}

func TestMountRejectsBadMagic(t *testing.T) {
	dev := NewMemDisk(64)
	_, err := Mount(dev)
	assert.Equal(t, -defs.EINVAL, err)
}

func TestFormatThenMountRoundtrips(t *testing.T) {
	dev := NewMemDisk(64)
	_, err := Format(dev, FormatConfig{TotalBlocks: 64, TotalInodes: 32})
	require.Zero(t, err)

	fs, err := Mount(dev)
	require.Zero(t, err)
	st, err := fs.Stat(ustr.Ustr("/"))
	require.Zero(t, err)
	assert.Equal(t, uint(0x4000|0755), st.Mode())
}

func TestMkdirCreatesNestedDirectory(t *testing.T) {
	fs := freshFS(t, 64)
	require.Zero(t, fs.Mkdir(ustr.Ustr("/etc")))
	st, err := fs.Stat(ustr.Ustr("/etc"))
	require.Zero(t, err)
	assert.True(t, st.Mode()&0x4000 != 0)

	require.Zero(t, fs.Mkdir(ustr.Ustr("/etc/sub")))
	_, err = fs.Stat(ustr.Ustr("/etc/sub"))
	require.Zero(t, err)

	assert.Equal(t, -defs.EEXIST, fs.Mkdir(ustr.Ustr("/etc")))
	assert.Equal(t, -defs.ENOENT, fs.Mkdir(ustr.Ustr("/nosuch/dir")))
}

func TestCreateFileViaWriteThenReadBack(t *testing.T) {
	fs := freshFS(t, 64)
	require.Zero(t, fs.Mkdir(ustr.Ustr("/etc")))

	pino, pin, name, err := fs.lookupParent(ustr.Ustr("/etc/passwd"))
	require.Zero(t, err)
	require.Equal(t, "passwd", name)

	newIno, err := fs.allocInode()
	require.Zero(t, err)
	var in onDiskInode
	in.mode = modeReg | 0644
	in.linksCount = 1
	require.Zero(t, fs.writeInode(newIno, in))
	require.Zero(t, fs.dirInsert(pino, &pin, name, newIno, dtReg))
	require.Zero(t, fs.writeInode(pino, pin))
	require.Zero(t, fs.syncGroupDesc())
	require.Zero(t, fs.syncSuperblock())

	fd, err := fs.Open(ustr.Ustr("/etc/passwd"))
	require.Zero(t, err)
	src := &kbuf{data: []byte("root:x:0:0\n")}
	n, err := fd.Fops.Write(src)
	require.Zero(t, err)
	assert.Equal(t, len(src.data), n)

	st, err := fs.Stat(ustr.Ustr("/etc/passwd"))
	require.Zero(t, err)
	assert.Equal(t, uint(len(src.data)), st.Size())

	fd2, err := fs.Open(ustr.Ustr("/etc/passwd"))
	require.Zero(t, err)
	dst := &kbuf{data: make([]byte, 64)}
	n, err = fd2.Fops.Read(dst)
	require.Zero(t, err)
	assert.Equal(t, "root:x:0:0\n", string(dst.data[:n]))
}

func TestWriteSpanningIndirectBlocks(t *testing.T) {
	fs := freshFS(t, 4096)
	pino, pin, name, err := fs.lookupParent(ustr.Ustr("/big"))
	require.Zero(t, err)

	newIno, err := fs.allocInode()
	require.Zero(t, err)
	var in onDiskInode
	in.mode = modeReg | 0644
	in.linksCount = 1
	require.Zero(t, fs.writeInode(newIno, in))
	require.Zero(t, fs.dirInsert(pino, &pin, name, newIno, dtReg))
	require.Zero(t, fs.writeInode(pino, pin))

	fd, err := fs.Open(ustr.Ustr("/big"))
	require.Zero(t, err)

	// 12 direct blocks (1024 bytes each) plus 10 more via the
	// single-indirect block, forcing blockForIndex/setBlockForIndex
	// through the indirect path.
	payload := make([]byte, 22*1024)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	src := &kbuf{data: payload}
	n, err := fd.Fops.Write(src)
	require.Zero(t, err)
	assert.Equal(t, len(payload), n)

	fd2, err := fs.Open(ustr.Ustr("/big"))
	require.Zero(t, err)
	dst := &kbuf{data: make([]byte, len(payload))}
	n, err = fd2.Fops.Read(dst)
	require.Zero(t, err)
	assert.Equal(t, payload, dst.data[:n])
}

func TestUnlinkRemovesFileNotDirectory(t *testing.T) {
	fs := freshFS(t, 64)
	require.Zero(t, fs.Mkdir(ustr.Ustr("/d")))
	assert.Equal(t, -defs.EISDIR, fs.Unlink(ustr.Ustr("/d")))

	pino, pin, name, err := fs.lookupParent(ustr.Ustr("/f"))
	require.Zero(t, err)
	newIno, err := fs.allocInode()
	require.Zero(t, err)
	var in onDiskInode
	in.mode = modeReg | 0644
	in.linksCount = 1
	require.Zero(t, fs.writeInode(newIno, in))
	require.Zero(t, fs.dirInsert(pino, &pin, name, newIno, dtReg))
	require.Zero(t, fs.writeInode(pino, pin))

	require.Zero(t, fs.Unlink(ustr.Ustr("/f")))
	_, err = fs.Stat(ustr.Ustr("/f"))
	assert.Equal(t, -defs.ENOENT, err)
}

func TestRmdirRequiresEmptyDirectory(t *testing.T) {
	fs := freshFS(t, 64)
	require.Zero(t, fs.Mkdir(ustr.Ustr("/d")))
	require.Zero(t, fs.Mkdir(ustr.Ustr("/d/sub")))

	assert.Equal(t, -defs.ENOTEMPTY, fs.Rmdir(ustr.Ustr("/d")))
	require.Zero(t, fs.Rmdir(ustr.Ustr("/d/sub")))
	require.Zero(t, fs.Rmdir(ustr.Ustr("/d")))
	_, err := fs.Stat(ustr.Ustr("/d"))
	assert.Equal(t, -defs.ENOENT, err)
}

func TestIterateOverDirectoryEntries(t *testing.T) {
	fs := freshFS(t, 64)
	require.Zero(t, fs.Mkdir(ustr.Ustr("/d")))
	require.Zero(t, fs.Mkdir(ustr.Ustr("/d/sub")))

	fd, err := fs.Open(ustr.Ustr("/d"))
	require.Zero(t, err)

	seen := map[string]bool{}
	pos := 0
	for {
		name, _, _, next, ok := fd.Fops.Iterate(pos)
		if !ok {
			break
		}
		seen[name] = true
		pos = next
	}
	assert.True(t, seen["."])
	assert.True(t, seen[".."])
	assert.True(t, seen["sub"])
}

func TestAllocBlockFailsWhenExhausted(t *testing.T) {
	fs := freshFS(t, 20)
	for i := 0; i < 100; i++ {
		if _, err := fs.allocBlock(); err != 0 {
			assert.Equal(t, -defs.ENOSPC, err)
			return
		}
	}
	t.Fatal("expected allocBlock to eventually report ENOSPC")
}
