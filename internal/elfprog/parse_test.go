package elfprog

import (
	"bytes"
	"debug/elf"
	"errors"
	"testing"

	"github.com/unikraft/app-elfloader/internal/arch"
	"github.com/unikraft/app-elfloader/internal/elferr"
	"github.com/unikraft/app-elfloader/internal/region"
)

func simplePIE(t *testing.T) []byte {
	t.Helper()
	headerTotal := ehdrSize + 2*phdrSize // 176
	codeLen := uint64(16)
	seg1Filesz := uint64(headerTotal) + codeLen

	return buildELF64(t, uint16(arch.Machine), 0x10, []phdrSpec{
		{typ: ptLoad, flags: pfR | pfX, off: 0, vaddr: 0, filesz: seg1Filesz, memsz: seg1Filesz, align: 0x1000},
		{typ: ptLoad, flags: pfR | pfW, off: seg1Filesz, vaddr: 0x1000, filesz: 0x10, memsz: 0x100, align: 0x1000},
	})
}

func mustParse(t *testing.T, raw []byte) (*elf.File, *ParseResult) {
	t.Helper()
	r := bytes.NewReader(raw)
	f, err := elf.NewFile(r)
	if err != nil {
		t.Fatalf("elf.NewFile: %v", err)
	}
	res, err := Parse(f, r, "test")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return f, res
}

func TestParseValidPIE(t *testing.T) {
	raw := simplePIE(t)
	_, res := mustParse(t, raw)

	if res.Lowerl != 0 {
		t.Errorf("Lowerl = %#x, want 0", res.Lowerl)
	}
	wantUpper := uintptr(0x1000 + 0x100)
	if res.Upperl != wantUpper {
		t.Errorf("Upperl = %#x, want %#x", res.Upperl, wantUpper)
	}
	if res.Align != region.PageSize {
		t.Errorf("Align = %#x, want page size", res.Align)
	}
	if res.VALen != region.PageAlignUp(wantUpper) {
		t.Errorf("VALen = %#x, want %#x", res.VALen, region.PageAlignUp(wantUpper))
	}
	if res.InterpRequired {
		t.Errorf("InterpRequired = true, want false")
	}
	if res.PHdr.Off != ehdrSize {
		t.Errorf("PHdr.Off = %#x, want %#x", res.PHdr.Off, ehdrSize)
	}
	if res.PHdr.Num != 2 {
		t.Errorf("PHdr.Num = %d, want 2", res.PHdr.Num)
	}
	if res.PHdr.EntSize != phdrSize {
		t.Errorf("PHdr.EntSize = %d, want %d", res.PHdr.EntSize, phdrSize)
	}
	if res.Entry != 0x10 {
		t.Errorf("Entry = %#x, want 0x10", res.Entry)
	}
}

func TestParseRejectsWrongMachine(t *testing.T) {
	headerTotal := ehdrSize + phdrSize
	raw := buildELF64(t, uint16(arch.Machine)+0x1234, 0x10, []phdrSpec{
		{typ: ptLoad, flags: pfR | pfX, off: 0, vaddr: 0, filesz: uint64(headerTotal), memsz: uint64(headerTotal), align: 0x1000},
	})
	r := bytes.NewReader(raw)
	f, err := elf.NewFile(r)
	if err != nil {
		t.Fatalf("elf.NewFile: %v", err)
	}
	_, err = Parse(f, r, "test")
	assertKind(t, err, elferr.WrongTarget)
}

func TestParseRejectsNonPIE(t *testing.T) {
	const etExec = 2
	headerTotal := ehdrSize + phdrSize
	raw := buildELF64Typ(t, etExec, uint16(arch.Machine), 0x10, []phdrSpec{
		{typ: ptLoad, flags: pfR | pfX, off: 0, vaddr: 0, filesz: uint64(headerTotal), memsz: uint64(headerTotal), align: 0x1000},
	})
	r := bytes.NewReader(raw)
	f, err := elf.NewFile(r)
	if err != nil {
		t.Fatalf("elf.NewFile: %v", err)
	}
	_, err = Parse(f, r, "test")
	assertKind(t, err, elferr.WrongTarget)
}

func TestParseRejectsMultipleInterp(t *testing.T) {
	headerTotal := ehdrSize + 3*phdrSize
	raw := buildELF64(t, uint16(arch.Machine), 0x10, []phdrSpec{
		{typ: ptInterp, flags: pfR, off: uint64(headerTotal), vaddr: 0, filesz: 4, memsz: 4, align: 1},
		{typ: ptInterp, flags: pfR, off: uint64(headerTotal), vaddr: 0, filesz: 4, memsz: 4, align: 1},
		{typ: ptLoad, flags: pfR | pfX, off: 0, vaddr: 0, filesz: uint64(headerTotal) + 4, memsz: uint64(headerTotal) + 4, align: 0x1000},
	})
	r := bytes.NewReader(raw)
	f, err := elf.NewFile(r)
	if err != nil {
		t.Fatalf("elf.NewFile: %v", err)
	}
	_, err = Parse(f, r, "test")
	assertKind(t, err, elferr.Unsupported)
}

func TestParseRejectsNonZeroLowerl(t *testing.T) {
	headerTotal := ehdrSize + phdrSize
	raw := buildELF64(t, uint16(arch.Machine), 0x10, []phdrSpec{
		{typ: ptLoad, flags: pfR | pfX, off: 0, vaddr: 0x1000, filesz: uint64(headerTotal), memsz: uint64(headerTotal), align: 0x1000},
	})
	r := bytes.NewReader(raw)
	f, err := elf.NewFile(r)
	if err != nil {
		t.Fatalf("elf.NewFile: %v", err)
	}
	_, err = Parse(f, r, "test")
	assertKind(t, err, elferr.NotELF)
}

func TestParseRejectsNoPTLoad(t *testing.T) {
	raw := buildELF64(t, uint16(arch.Machine), 0x10, nil)
	r := bytes.NewReader(raw)
	f, err := elf.NewFile(r)
	if err != nil {
		t.Fatalf("elf.NewFile: %v", err)
	}
	_, err = Parse(f, r, "test")
	assertKind(t, err, elferr.NotELF)
}

func assertKind(t *testing.T, err error, want elferr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error of kind %v, got nil", want)
	}
	var e *elferr.Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *elferr.Error, got %T: %v", err, err)
	}
	if e.Kind != want {
		t.Fatalf("error kind = %v, want %v", e.Kind, want)
	}
}
