package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memfs"
	"ustr"
)

func TestBuildArchiveRoundtripsThroughMemfsLoadCPIO(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "etc"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "etc", "motd"), []byte("hello\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "init"), []byte("#!/bin/sh\n"), 0o755))

	data, err := buildArchive(root)
	require.NoError(t, err)

	fs := memfs.New()
	require.Zero(t, fs.LoadCPIO(data))

	fd, serr := fs.Stat(ustr.Ustr("/etc/motd"))
	require.Zero(t, serr)
	assert.Equal(t, uint(6), fd.Size())

	_, serr = fs.Stat(ustr.Ustr("/init"))
	require.Zero(t, serr)

	st, serr := fs.Stat(ustr.Ustr("/etc"))
	require.Zero(t, serr)
	assert.True(t, st.Mode()&0x4000 != 0)
}

func TestBuildArchiveEmptyDirProducesOnlyTrailer(t *testing.T) {
	root := t.TempDir()
	data, err := buildArchive(root)
	require.NoError(t, err)

	fs := memfs.New()
	require.Zero(t, fs.LoadCPIO(data))
}
