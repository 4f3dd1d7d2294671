// Package hal supplies the host-side implementations of the
// capabilities the core packages declare as interfaces but cannot
// provide themselves: an ext2fs.BlockDevice backed by a regular file,
// a console and keyboard built on circbuf rings, simulated apic.Ports/
// apic.MMIO register files, and the task-state-segment bookkeeping
// irq.Dispatch updates on every switch. Every device here is usable
// both in tests and by cmd/nucleusd's hosted boot -- there is no
// separate "real" implementation, since this kernel never runs on bare
// hardware.
//
// Grounded on ufs/driver.go's ahci_disk_t (file-backed disk) and
// console_t (stub console), rebuilt against the current
// ext2fs.BlockDevice and fdops.Fdops_i contracts instead of the
// obsolete fs.Bdev_req_t/mem.Bytepg_t types those stubs depended on.
package hal

import (
	"io"
	"os"
	"sync"

	"defs"
)

const sectorSize = 1024

// FileDisk is an ext2fs.BlockDevice backed by a regular file, one
// sector per fixed-size chunk. Grounded on ufs/driver.go's
// ahci_disk_t, which serialized access with the same Seek-then-
// Read/Write pattern under one mutex.
type FileDisk struct {
	mu sync.Mutex
	f  *os.File
}

// OpenFileDisk opens (or creates) path as a disk image of nsectors
// sectors, zero-filling any newly created tail.
func OpenFileDisk(path string, nsectors int) (*FileDisk, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	want := int64(nsectors) * sectorSize
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() < want {
		if err := f.Truncate(want); err != nil {
			f.Close()
			return nil, err
		}
	}
	return &FileDisk{f: f}, nil
}

func (d *FileDisk) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}

func (d *FileDisk) ReadSector(n uint32, dst []byte) defs.Err_t {
	if len(dst) != sectorSize {
		return -defs.EINVAL
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.f.Seek(int64(n)*sectorSize, 0); err != nil {
		return -defs.EIO
	}
	if _, err := io.ReadFull(d.f, dst); err != nil {
		return -defs.EIO
	}
	return 0
}

func (d *FileDisk) WriteSector(n uint32, src []byte) defs.Err_t {
	if len(src) != sectorSize {
		return -defs.EINVAL
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.f.Seek(int64(n)*sectorSize, 0); err != nil {
		return -defs.EIO
	}
	if _, err := d.f.Write(src); err != nil {
		return -defs.EIO
	}
	return 0
}

// Sync flushes the backing file to stable storage.
func (d *FileDisk) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Sync()
}
