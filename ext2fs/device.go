// Package ext2fs is a disk-backed filesystem backend implementing
// vfs.FileSystem_i against an ext2 image: superblock/group-descriptor/
// inode layout, direct/indirect/double-indirect block resolution,
// bitmap-based block and inode allocation, and directory entries linked
// into their parent on mkdir/unlink/rmdir.
//
// Grounded on original_source/include/drivers/ext2.h's on-disk structs
// and original_source/drivers/ext2.cpp's read/write/allocate/open paths.
// Several gaps in that implementation are filled in rather than
// reproduced: its mkdir never links the new directory into its parent,
// rmdir is a bare alias for unlink with no emptiness check, and
// allocate_block/allocate_inode scan every block/inode for an
// all-zero/unused pattern instead of consulting the bitmaps the
// superblock and group descriptor already carry. This package uses the
// bitmaps for real and performs real parent-directory linking.
package ext2fs

import "defs"

// sectorSize is the device's fixed transfer unit. Every ext2 block size
// (1024, 2048, 4096) is a whole multiple of it, so block-granularity I/O
// can always be expressed as a run of whole sectors.
const sectorSize = 1024

// BlockDevice is the capability a concrete disk (a file-backed image, a
// simulated in-memory disk in tests) exports to ext2fs. Declared here
// rather than in a lower package so a future host-level implementation
// (backed by os.File, the way ufs/driver.go's ahci_disk_t is) can import
// ext2fs and satisfy it, the same inversion sched.LAPIC_i and
// syscall.VFS_i already use.
type BlockDevice interface {
	ReadSector(n uint32, dst []byte) defs.Err_t
	WriteSector(n uint32, src []byte) defs.Err_t
}

// readBlock reads the blockSize-byte block numbered blk (in units of
// blockSize, not sectorSize) from dev.
func readBlock(dev BlockDevice, blockSize int, blk uint32) ([]byte, defs.Err_t) {
	secPerBlk := uint32(blockSize / sectorSize)
	buf := make([]byte, blockSize)
	base := blk * secPerBlk
	for i := uint32(0); i < secPerBlk; i++ {
		if err := dev.ReadSector(base+i, buf[i*sectorSize:(i+1)*sectorSize]); err != 0 {
			return nil, err
		}
	}
	return buf, 0
}

// writeBlock writes buf (exactly blockSize bytes) to block blk.
func writeBlock(dev BlockDevice, blockSize int, blk uint32, buf []byte) defs.Err_t {
	secPerBlk := uint32(blockSize / sectorSize)
	base := blk * secPerBlk
	for i := uint32(0); i < secPerBlk; i++ {
		if err := dev.WriteSector(base+i, buf[i*sectorSize:(i+1)*sectorSize]); err != 0 {
			return err
		}
	}
	return 0
}

// memDisk is a BlockDevice backed by a plain byte slice, used by tests
// (Format itself takes any BlockDevice). A host build wires hal's
// os.File-backed device instead.
type memDisk struct {
	data []byte
}

// NewMemDisk returns a BlockDevice with nsectors sectors, all zeroed.
func NewMemDisk(nsectors int) *memDisk {
	return &memDisk{data: make([]byte, nsectors*sectorSize)}
}

func (m *memDisk) ReadSector(n uint32, dst []byte) defs.Err_t {
	off := int(n) * sectorSize
	if off+sectorSize > len(m.data) {
		return -defs.EIO
	}
	copy(dst, m.data[off:off+sectorSize])
	return 0
}

func (m *memDisk) WriteSector(n uint32, src []byte) defs.Err_t {
	off := int(n) * sectorSize
	if off+sectorSize > len(m.data) {
		return -defs.EIO
	}
	copy(m.data[off:off+sectorSize], src)
	return 0
}
