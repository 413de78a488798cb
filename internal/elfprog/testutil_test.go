package elfprog

import (
	"bytes"
	"encoding/binary"
	"testing"
)

const (
	elfclass64  = 2
	elfdata2lsb = 1
	etDyn       = 3
	ptLoad      = 1
	ptInterp    = 3
	pfX         = 0x1
	pfW         = 0x2
	pfR         = 0x4

	ehdrSize = 64
	phdrSize = 56
)

type phdrSpec struct {
	typ           uint32
	flags         uint32
	off           uint64
	vaddr         uint64
	filesz, memsz uint64
	align         uint64
}

// buildELF64 assembles a minimal little-endian ET_DYN ELF64 image with
// the given machine and program headers. Nothing is written after the
// header+phdr table except zero padding, enough that every segment's
// [off, off+filesz) lies inside the file.
func buildELF64(t *testing.T, machine uint16, entry uint64, phdrs []phdrSpec) []byte {
	t.Helper()
	return buildELF64Typ(t, etDyn, machine, entry, phdrs)
}

func buildELF64Typ(t *testing.T, typ, machine uint16, entry uint64, phdrs []phdrSpec) []byte {
	t.Helper()

	var buf bytes.Buffer

	ident := [16]byte{0x7f, 'E', 'L', 'F', elfclass64, elfdata2lsb, 1, 0}
	ehdr := struct {
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
	}{
		Ident:     ident,
		Type:      typ,
		Machine:   machine,
		Version:   1,
		Entry:     entry,
		Phoff:     ehdrSize,
		Ehsize:    ehdrSize,
		Phentsize: phdrSize,
		Phnum:     uint16(len(phdrs)),
	}
	if err := binary.Write(&buf, binary.LittleEndian, &ehdr); err != nil {
		t.Fatalf("writing ehdr: %v", err)
	}

	for _, p := range phdrs {
		raw := struct {
			Type   uint32
			Flags  uint32
			Off    uint64
			Vaddr  uint64
			Paddr  uint64
			Filesz uint64
			Memsz  uint64
			Align  uint64
		}{
			Type: p.typ, Flags: p.flags, Off: p.off,
			Vaddr: p.vaddr, Paddr: p.vaddr,
			Filesz: p.filesz, Memsz: p.memsz, Align: p.align,
		}
		if err := binary.Write(&buf, binary.LittleEndian, &raw); err != nil {
			t.Fatalf("writing phdr: %v", err)
		}
	}

	// Pad the file out so every segment's [off, off+filesz) lies within
	// bounds; callers size filesz/off so this never truncates real data,
	// this only accounts for content beyond the header+phdr table.
	need := ehdrSize + len(phdrs)*phdrSize
	for _, p := range phdrs {
		if end := int(p.off + p.filesz); end > need {
			need = end
		}
	}
	if buf.Len() < need {
		buf.Write(make([]byte, need-buf.Len()))
	}

	return buf.Bytes()
}
