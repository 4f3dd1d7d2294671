// Command mkcpio packs a host directory tree into a "new ASCII" (070701)
// CPIO archive that memfs.Fs_t.LoadCPIO can hydrate at boot.
//
// Grounded on memfs.LoadCPIO's decode side: the header field widths and
// ordering here are exactly what that decoder expects back.
package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	kingpin "gopkg.in/alecthomas/kingpin.v2"
)

var (
	skelDir = kingpin.Arg("skel-dir", "host directory tree to pack").Required().String()
	outPath = kingpin.Arg("out", "path to write the archive to").Required().String()
)

const (
	cpioMagic   = "070701"
	cpioTrailer = "TRAILER!!!"
)

func hex8(v uint32) string { return fmt.Sprintf("%08x", v) }

func align4(n int) int { return (n + 3) &^ 3 }

func writeEntry(w *strings.Builder, name string, mode uint32, body []byte) {
	namesize := uint32(len(name) + 1)
	w.WriteString(cpioMagic)
	w.WriteString(hex8(0))             // ino
	w.WriteString(hex8(mode))          // mode
	w.WriteString(hex8(0))             // uid
	w.WriteString(hex8(0))             // gid
	w.WriteString(hex8(1))             // nlink
	w.WriteString(hex8(0))             // mtime
	w.WriteString(hex8(uint32(len(body)))) // filesize
	w.WriteString(hex8(0))             // devmajor
	w.WriteString(hex8(0))             // devminor
	w.WriteString(hex8(0))             // rdevmajor
	w.WriteString(hex8(0))             // rdevminor
	w.WriteString(hex8(namesize))      // namesize
	w.WriteString(hex8(0))             // check

	nameField := name + "\x00"
	w.WriteString(nameField)
	for i := align4(110 + len(nameField)); i > 110+len(nameField); i-- {
		w.WriteByte(0)
	}

	w.Write(body)
	padded := align4(len(body))
	for i := len(body); i < padded; i++ {
		w.WriteByte(0)
	}
}

const (
	modeDir = 0x4000
	modeReg = 0x8000
)

// buildArchive walks root and returns its "new ASCII" CPIO encoding,
// split out from main so a test can exercise it without a kingpin parse
// or touching a real output file.
func buildArchive(root string) ([]byte, error) {
	var w strings.Builder

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(path, root), string(filepath.Separator))
		if rel == "" {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			writeEntry(&w, rel, modeDir|0755, nil)
			return nil
		}
		body, rerr := os.ReadFile(path)
		if rerr != nil {
			return rerr
		}
		writeEntry(&w, rel, modeReg|0644, body)
		return nil
	})
	if err != nil {
		return nil, err
	}
	writeEntry(&w, cpioTrailer, 0, nil)
	return []byte(w.String()), nil
}

func main() {
	kingpin.Parse()

	data, err := buildArchive(*skelDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkcpio: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(*outPath, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "mkcpio: write %s: %v\n", *outPath, err)
		os.Exit(1)
	}
}
