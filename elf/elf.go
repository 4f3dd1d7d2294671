// Package elf loads a 32-bit x86 ELF image into a freshly created
// address space and reports its entry point, satisfying
// syscall.Loader_i.
//
// Uses the standard library's debug/elf to parse a binary's header and
// program table, generalized from a single entry-point rewrite to full
// PT_LOAD segment loading, BSS zero-fill (implicit in vm's demand-zero
// anonymous pages), and a relocation pass over PT_DYNAMIC's DT_REL and
// DT_JMPREL tables for position-independent (ET_DYN) images, per
// original_source/include/kernel/elf_loader.h's Elf32_Phdr/Elf32_Dyn/
// Elf32_Rel layout. chentry.go targets EM_X86_64/64-bit headers; this
// package targets EM_386/32-bit ones instead, which debug/elf parses
// through the same File/Prog/FileHeader types.
package elf

import (
	"bytes"
	stdelf "debug/elf"
	"encoding/binary"

	"defs"
	"util"
	"vm"
)

// pieBase is the load bias this loader picks for a position-independent
// (ET_DYN) executable. A freestanding loader has no mmap-driven base
// selection to do, so every PIE image lands at the same fixed address --
// well below vm.Mmapmin, leaving the mmap region free for the image's
// own later mmap calls.
const pieBase = 0x0804_8000

// Loader_t is the zero-value-usable syscall.Loader_i implementation.
type Loader_t struct{}

// Load implements syscall.Loader_i.
func (Loader_t) Load(as *vm.Vm_t, data []byte) (uint32, defs.Err_t) {
	return Load(as, data)
}

// Load parses data as a 32-bit little-endian x86 ELF image, maps its
// PT_LOAD segments into as, applies R_386_RELATIVE relocations for a
// position-independent image, and returns the (bias-adjusted) entry
// point.
func Load(as *vm.Vm_t, data []byte) (uint32, defs.Err_t) {
	ef, ferr := stdelf.NewFile(bytes.NewReader(data))
	if ferr != nil {
		return 0, -defs.ENOEXEC
	}
	if ef.Class != stdelf.ELFCLASS32 || ef.Data != stdelf.ELFDATA2LSB {
		return 0, -defs.ENOEXEC
	}
	if ef.Machine != stdelf.EM_386 {
		return 0, -defs.ENOEXEC
	}
	if ef.Type != stdelf.ET_EXEC && ef.Type != stdelf.ET_DYN {
		return 0, -defs.ENOEXEC
	}

	var bias uint32
	if ef.Type == stdelf.ET_DYN {
		bias = pieBase
	}

	var dyn *stdelf.Prog
	for _, p := range ef.Progs {
		switch p.Type {
		case stdelf.PT_LOAD:
			if err := loadSegment(as, data, p, bias); err != 0 {
				return 0, err
			}
		case stdelf.PT_DYNAMIC:
			dyn = p
		}
	}

	if ef.Type == stdelf.ET_DYN {
		if dyn != nil {
			if err := applyRelocations(as, data, dyn, bias); err != 0 {
				return 0, err
			}
		}
	}

	return bias + uint32(ef.Entry), 0
}

// loadSegment registers a demand-zero anonymous VMA spanning p's memory
// image and eagerly copies its file-backed portion in. Bytes between
// Filesz and Memsz (BSS) are left at the anonymous region's default
// zero fill rather than copied, matching a real loader's behavior
// without needing a separate zeroing pass.
func loadSegment(as *vm.Vm_t, data []byte, p *stdelf.Prog, bias uint32) defs.Err_t {
	if p.Memsz == 0 {
		return 0
	}
	vaddr := bias + uint32(p.Vaddr)
	perms := vm.PTE_U
	if p.Flags&stdelf.PF_W != 0 {
		perms |= vm.PTE_W
	}

	pageStart := util.Rounddown(int(vaddr), vm.PGSIZE)
	pageEnd := util.Roundup(int(vaddr)+int(p.Memsz), vm.PGSIZE)
	as.Vmadd_anon(pageStart, pageEnd-pageStart, perms)

	if p.Filesz == 0 {
		return 0
	}
	end := p.Off + p.Filesz
	if end > uint64(len(data)) {
		return -defs.ENOEXEC
	}
	seg := data[p.Off:end]
	if err := as.K2user(seg, int(vaddr)); err != 0 {
		return err
	}
	return 0
}

// Elf32_Dyn tag values this package consults when walking a PT_DYNAMIC
// segment by hand -- debug/elf exposes these as a typed Dyn enum for
// 64-bit files but not as a ready-made 32-bit table walker, so the
// dynamic segment's raw bytes are decoded directly instead.
const (
	dtNull     = 0
	dtPltRelSz = 2
	dtStrtab   = 5
	dtSymtab   = 6
	dtRel      = 17
	dtRelSz    = 18
	dtJmprel   = 23
)

// Relocation types this loader resolves. R_386_GOT32/PLT32/COPY imply a
// dynamic linker resolving against a separate shared object, which has
// no place in a freestanding loader with nothing else to link against;
// every relocation this loader sees must resolve against a symbol
// defined in the same image (or carry no symbol at all, R_386_RELATIVE).
const (
	r386None     = 0
	r386_32      = 1
	r386PC32     = 2
	r386GlobDat  = 6
	r386JmpSlot  = 7
	r386Relative = 8
)

const elf32SymSize = 16 // Elf32_Sym: name(4), value(4), size(4), info(1), other(1), shndx(2)

// symValue reads symtabBase's idx'th Elf32_Sym and returns its (bias-
// adjusted) value, or -defs.ENOEXEC if the symbol is undefined (shndx ==
// SHN_UNDEF) -- an undefined symbol means the image expects a separate
// shared object to supply it, which this loader has no dynamic linker to
// locate.
func symValue(as *vm.Vm_t, symtabBase, bias, idx uint32) (uint32, defs.Err_t) {
	ent := symtabBase + idx*elf32SymSize
	shndx, err := as.Userreadn(int(ent+14), 2)
	if err != 0 {
		return 0, err
	}
	if shndx == 0 { // SHN_UNDEF
		return 0, -defs.ENOEXEC
	}
	value, err := as.Userreadn(int(ent+4), 4)
	if err != 0 {
		return 0, err
	}
	return bias + uint32(value), 0
}

// applyRelocations walks dyn's raw Elf32_Dyn entries to find DT_SYMTAB,
// DT_REL/DT_RELSZ and DT_JMPREL/DT_PLTRELSZ (DT_STRTAB is parsed too,
// though unused: every relocation here resolves by symbol-table index,
// not by name, so the string table has nothing to contribute once a
// symbol's value is in hand). It then applies every Elf32_Rel entry in
// both the DT_REL and DT_JMPREL tables -- the latter holds PLT/GOT-slot
// relocations separately from ordinary data relocations, but both are
// plain Elf32_Rel arrays and differ only in which relocation types they
// typically carry (R_386_JMP_SLOT for DT_JMPREL).
func applyRelocations(as *vm.Vm_t, data []byte, dyn *stdelf.Prog, bias uint32) defs.Err_t {
	end := dyn.Off + dyn.Filesz
	if end > uint64(len(data)) {
		return -defs.ENOEXEC
	}
	raw := data[dyn.Off:end]

	var relVaddr, relSz, jmprelVaddr, pltRelSz, symtabVaddr, strtabVaddr uint32
	le := binary.LittleEndian
	for off := 0; off+8 <= len(raw); off += 8 {
		tag := le.Uint32(raw[off : off+4])
		val := le.Uint32(raw[off+4 : off+8])
		if tag == dtNull {
			break
		}
		switch tag {
		case dtRel:
			relVaddr = val
		case dtRelSz:
			relSz = val
		case dtJmprel:
			jmprelVaddr = val
		case dtPltRelSz:
			pltRelSz = val
		case dtSymtab:
			symtabVaddr = val
		case dtStrtab:
			strtabVaddr = val
		}
	}
	_ = strtabVaddr
	symtabBase := bias + symtabVaddr

	if relSz != 0 {
		if err := applyRelTable(as, bias, symtabBase, bias+relVaddr, relSz); err != 0 {
			return err
		}
	}
	if pltRelSz != 0 {
		if err := applyRelTable(as, bias, symtabBase, bias+jmprelVaddr, pltRelSz); err != 0 {
			return err
		}
	}
	return 0
}

// applyRelTable applies every Elf32_Rel (r_offset, r_info) entry in the
// tblSz-byte table starting at base, reading both the table and its
// relocation targets from the address space already mapped by
// loadSegment rather than straight from data, since a relocation's
// target is addressed by the vaddr it will be applied to.
func applyRelTable(as *vm.Vm_t, bias, symtabBase, base, tblSz uint32) defs.Err_t {
	const relEntSize = 8 // Elf32_Rel: r_offset(4), r_info(4)
	for off := uint32(0); off+relEntSize <= tblSz; off += relEntSize {
		rOffset, err := as.Userreadn(int(base+off), 4)
		if err != 0 {
			return err
		}
		rInfo, err := as.Userreadn(int(base+off+4), 4)
		if err != 0 {
			return err
		}
		rtype := uint32(rInfo) & 0xff
		symidx := uint32(rInfo) >> 8
		target := bias + uint32(rOffset)

		switch rtype {
		case r386None:
			// no-op relocation, sometimes used as table padding.
		case r386Relative:
			addend, err := as.Userreadn(int(target), 4)
			if err != 0 {
				return err
			}
			if err := as.Userwriten(int(target), 4, int(bias+uint32(addend))); err != 0 {
				return err
			}
		case r386_32:
			sym, err := symValue(as, symtabBase, bias, symidx)
			if err != 0 {
				return err
			}
			addend, err := as.Userreadn(int(target), 4)
			if err != 0 {
				return err
			}
			if err := as.Userwriten(int(target), 4, int(sym+uint32(addend))); err != 0 {
				return err
			}
		case r386PC32:
			sym, err := symValue(as, symtabBase, bias, symidx)
			if err != 0 {
				return err
			}
			addend, err := as.Userreadn(int(target), 4)
			if err != 0 {
				return err
			}
			if err := as.Userwriten(int(target), 4, int(sym+uint32(addend)-target)); err != 0 {
				return err
			}
		case r386GlobDat, r386JmpSlot:
			sym, err := symValue(as, symtabBase, bias, symidx)
			if err != 0 {
				return err
			}
			if err := as.Userwriten(int(target), 4, int(sym)); err != 0 {
				return err
			}
		default:
			// Anything needing a dynamic linker's
			// cooperation (R_386_GOT32/PLT32/COPY) -- no symbol this
			// loader can't already resolve from the same image needs
			// one of these, so seeing one here means the image wasn't
			// actually statically self-contained.
			return -defs.ENOEXEC
		}
	}
	return 0
}
