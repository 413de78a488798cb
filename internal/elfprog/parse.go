package elfprog

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"io"

	"github.com/unikraft/app-elfloader/internal/arch"
	"github.com/unikraft/app-elfloader/internal/elferr"
	"github.com/unikraft/app-elfloader/internal/region"
)

// elf64Ehdr mirrors the fixed-size ELF64 executable header. debug/elf
// parses this header internally but keeps e_phoff/e_phnum/e_phentsize
// private, and e_phoff is needed to locate the program-header table's
// in-memory address, so the validator re-reads the 64-byte header
// directly.
type elf64Ehdr struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

func readRawEhdr(r io.ReaderAt) (*elf64Ehdr, error) {
	var buf [64]byte
	if _, err := r.ReadAt(buf[:], 0); err != nil {
		return nil, err
	}
	var h elf64Ehdr
	if err := binary.Read(bytes.NewReader(buf[:]), binary.LittleEndian, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// ParseResult carries everything the validator learns about an image
// before any memory is reserved for it.
type ParseResult struct {
	PHdr           PHdr
	Lowerl, Upperl uintptr
	Align          uintptr
	VALen          uintptr
	InterpRequired bool
	Entry          uint64 // raw e_entry, still load-base-relative
}

// Parse validates f as a loadable PIE ELF64 image for this build
// target and computes the image's memory footprint by scanning program
// headers once.
//
// src must be the same underlying image f was opened from; it is used
// only to re-read the 64-byte ELF header for e_phoff (see elf64Ehdr).
func Parse(f *elf.File, src io.ReaderAt, name string) (*ParseResult, error) {
	if f.Class != elf.ELFCLASS64 {
		return nil, elferr.New(elferr.WrongTarget, "%s: not a 64-bit ELF image (class %s)", name, f.Class)
	}
	if f.Data != elf.ELFDATA2LSB {
		return nil, elferr.New(elferr.WrongTarget, "%s: not little-endian (data %s)", name, f.Data)
	}
	if f.Machine != arch.Machine {
		return nil, elferr.New(elferr.WrongTarget, "%s: e_machine mismatch: got %s, want %s", name, f.Machine, arch.Machine)
	}
	if f.OSABI != elf.ELFOSABI_LINUX && f.OSABI != elf.ELFOSABI_NONE {
		return nil, elferr.New(elferr.WrongTarget, "%s: unsupported OSABI %s, require ELFOSABI_LINUX or NONE", name, f.OSABI)
	}
	if f.Type != elf.ET_DYN {
		return nil, elferr.New(elferr.WrongTarget, "%s: ELF executable is not position-independent (e_type=%s)", name, f.Type)
	}

	ehdr, err := readRawEhdr(src)
	if err != nil {
		return nil, elferr.Wrap(elferr.NotELF, err, "%s: failed to re-read executable header for e_phoff", name)
	}

	res := &ParseResult{Entry: f.Entry}
	var sawInterp bool
	var haveLoad bool

	for _, p := range f.Progs {
		switch p.Type {
		case elf.PT_INTERP:
			if sawInterp {
				return nil, elferr.New(elferr.Unsupported, "%s: multiple PT_INTERP headers", name)
			}
			sawInterp = true
			res.InterpRequired = true
			continue

		case elf.PT_LOAD:
			if p.Align > uint64(res.Align) {
				res.Align = uintptr(p.Align)
			}
			if !haveLoad {
				res.Lowerl = uintptr(p.Paddr)
				res.Upperl = res.Lowerl + uintptr(p.Memsz)
				haveLoad = true
			} else {
				if uintptr(p.Paddr) < res.Lowerl {
					res.Lowerl = uintptr(p.Paddr)
				}
				if uintptr(p.Paddr)+uintptr(p.Memsz) > res.Upperl {
					res.Upperl = uintptr(p.Paddr) + uintptr(p.Memsz)
				}
			}

			// Map the file offset of the phdr table to its in-memory
			// address within the segment that covers it.
			if p.Off <= ehdr.Phoff && ehdr.Phoff < p.Off+p.Filesz {
				res.PHdr.Off = uintptr(ehdr.Phoff-p.Off) + uintptr(p.Paddr)
			}

		default:
			continue
		}
	}

	if !haveLoad {
		return nil, elferr.New(elferr.NotELF, "%s: no PT_LOAD segments", name)
	}
	if res.Lowerl != 0 {
		return nil, elferr.New(elferr.NotELF, "%s: lowest PT_LOAD segment is not at VA 0 (lowerl=%#x); only PIE images are supported", name, res.Lowerl)
	}
	if res.PHdr.Off == 0 {
		return nil, elferr.New(elferr.NotELF, "%s: program header table not found inside any PT_LOAD segment", name)
	}
	if res.Align < region.PageSize {
		res.Align = region.PageSize
	}

	res.PHdr.Num = int(ehdr.Phnum)
	res.PHdr.EntSize = int(ehdr.Phentsize)
	res.VALen = region.PageAlignUp(res.Upperl)

	return res, nil
}
