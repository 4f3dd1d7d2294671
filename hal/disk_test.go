package hal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileDiskReadWriteRoundtrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	d, err := OpenFileDisk(path, 4)
	require.NoError(t, err)
	defer d.Close()

	want := make([]byte, sectorSize)
	for i := range want {
		want[i] = byte(i)
	}
	require.Zero(t, d.WriteSector(2, want))

	got := make([]byte, sectorSize)
	require.Zero(t, d.ReadSector(2, got))
	assert.Equal(t, want, got)

	other := make([]byte, sectorSize)
	require.Zero(t, d.ReadSector(0, other))
	for _, b := range other {
		assert.Zero(t, b)
	}
}

func TestFileDiskPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	d, err := OpenFileDisk(path, 2)
	require.NoError(t, err)
	payload := []byte("persisted-block-data")
	buf := make([]byte, sectorSize)
	copy(buf, payload)
	require.Zero(t, d.WriteSector(1, buf))
	require.NoError(t, d.Sync())
	require.NoError(t, d.Close())

	d2, err := OpenFileDisk(path, 2)
	require.NoError(t, err)
	defer d2.Close()
	got := make([]byte, sectorSize)
	require.Zero(t, d2.ReadSector(1, got))
	assert.Equal(t, payload, got[:len(payload)])
}

func TestFileDiskRejectsWrongSizeBuffers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	d, err := OpenFileDisk(path, 1)
	require.NoError(t, err)
	defer d.Close()

	short := make([]byte, 4)
	assert.NotZero(t, d.ReadSector(0, short))
	assert.NotZero(t, d.WriteSector(0, short))
}
