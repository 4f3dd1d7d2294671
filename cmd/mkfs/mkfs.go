// Command mkfs builds an ext2 disk image from a host skeleton directory.
// A prior version of this tool walked a skeleton tree into a
// proprietary on-disk filesystem; this one drives the same walk against
// ext2fs.Format and Fs_t's own Mkdir/Create/Open instead of poking at
// on-disk structures directly.
package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"defs"
	"ext2fs"
	"hal"
	"ustr"
)

var (
	imagePath   = kingpin.Arg("image", "path to the disk image to create").Required().String()
	skelDir     = kingpin.Arg("skel-dir", "host directory tree to copy into the image").Required().String()
	sectorCount = kingpin.Flag("sectors", "sector count for the created image").Default("65536").Int()
	totalInodes = kingpin.Flag("inodes", "inode count for the created filesystem").Default("4096").Int()
)

// userio adapts a flat byte slice to fdops.Userio_i, mirroring hal's own
// rawUserio adapter: as a Write source, data is what Uioread hands
// the filesystem; as a Read destination, data is a fixed-size buffer
// Uiowrite fills and Remain bounds.
type userio struct {
	data []byte
	off  int
}

func (u *userio) Uioread(dst []byte) (int, defs.Err_t) {
	n := copy(dst, u.data[u.off:])
	u.off += n
	return n, 0
}
func (u *userio) Uiowrite(src []byte) (int, defs.Err_t) {
	n := copy(u.data[u.off:], src)
	u.off += n
	return n, 0
}
func (u *userio) Remain() int  { return len(u.data) - u.off }
func (u *userio) Totalsz() int { return len(u.data) }

func copyFile(f *ext2fs.Fs_t, relPath string, hostPath string) error {
	if err := f.Create(ustr.Ustr(relPath)); err != 0 {
		return fmt.Errorf("create %s: errno %d", relPath, -err)
	}
	data, rerr := os.ReadFile(hostPath)
	if rerr != nil {
		return rerr
	}
	fd, err := f.Open(ustr.Ustr(relPath))
	if err != 0 {
		return fmt.Errorf("open %s: errno %d", relPath, -err)
	}
	defer fd.Fops.Close()
	if _, err := fd.Fops.Write(&userio{data: data}); err != 0 {
		return fmt.Errorf("write %s: errno %d", relPath, -err)
	}
	return nil
}

func addTree(f *ext2fs.Fs_t, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(path, root), string(filepath.Separator))
		if rel == "" {
			return nil
		}
		rel = "/" + filepath.ToSlash(rel)

		if d.IsDir() {
			if merr := f.Mkdir(ustr.Ustr(rel)); merr != 0 {
				return fmt.Errorf("mkdir %s: errno %d", rel, -merr)
			}
			return nil
		}
		return copyFile(f, rel, path)
	})
}

func main() {
	kingpin.Parse()

	disk, err := hal.OpenFileDisk(*imagePath, *sectorCount)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkfs: open image: %v\n", err)
		os.Exit(1)
	}
	defer disk.Close()

	fsys, ferr := ext2fs.Format(disk, ext2fs.FormatConfig{
		TotalBlocks: *sectorCount,
		TotalInodes: *totalInodes,
	})
	if ferr != 0 {
		fmt.Fprintf(os.Stderr, "mkfs: format: errno %d\n", -ferr)
		os.Exit(1)
	}

	if aerr := addTree(fsys, *skelDir); aerr != nil {
		fmt.Fprintf(os.Stderr, "mkfs: %v\n", aerr)
		os.Exit(1)
	}

	if serr := disk.Sync(); serr != nil {
		fmt.Fprintf(os.Stderr, "mkfs: sync: %v\n", serr)
		os.Exit(1)
	}
}
