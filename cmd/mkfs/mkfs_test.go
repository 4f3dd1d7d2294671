package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ext2fs"
	"ustr"
)

func TestAddTreeCreatesDirsAndFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "bin", "init"), []byte("#!/bin/sh\necho hi\n"), 0o755))

	dev := ext2fs.NewMemDisk(4096)
	fsys, ferr := ext2fs.Format(dev, ext2fs.FormatConfig{TotalBlocks: 4096, TotalInodes: 512})
	require.Zero(t, ferr)

	require.NoError(t, addTree(fsys, root))

	st, serr := fsys.Stat(ustr.Ustr("/bin"))
	require.Zero(t, serr)
	assert.True(t, st.Mode()&0x4000 != 0)

	fst, serr := fsys.Stat(ustr.Ustr("/bin/init"))
	require.Zero(t, serr)
	assert.Equal(t, uint(len("#!/bin/sh\necho hi\n")), fst.Size())

	fd, oerr := fsys.Open(ustr.Ustr("/bin/init"))
	require.Zero(t, oerr)
	dst := &userio{data: make([]byte, 64)}
	n, rerr := fd.Fops.Read(dst)
	require.Zero(t, rerr)
	assert.Equal(t, "#!/bin/sh\necho hi\n", string(dst.data[:n]))
}

func TestCopyFileRejectsDuplicatePath(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a"), []byte("x"), 0o644))

	dev := ext2fs.NewMemDisk(64)
	fsys, ferr := ext2fs.Format(dev, ext2fs.FormatConfig{TotalBlocks: 64, TotalInodes: 32})
	require.Zero(t, ferr)

	require.NoError(t, copyFile(fsys, "/a", filepath.Join(root, "a")))
	assert.Error(t, copyFile(fsys, "/a", filepath.Join(root, "a")))
}
