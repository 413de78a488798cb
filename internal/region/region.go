// Package region manages the contiguous virtual memory areas an ELF
// image is materialised into: reserving a region sized and aligned to
// the program's footprint, copying or mapping PT_LOAD segments into
// it, zeroing the filesz-to-memsz tail, and applying per-page R/W/X
// protections derived from p_flags.
//
// Region is a typed (base, backing bytes) handle, so "va_base + p_paddr"
// stays an explicit byte-offset computation instead of raw pointer
// arithmetic.
package region

import (
	"debug/elf"
	"fmt"
)

// Prot is a per-page protection request derived from the PF_R/PF_W/PF_X
// bits of a segment's p_flags.
type Prot uint8

const (
	ProtRead Prot = 1 << iota
	ProtWrite
	ProtExec
)

// FromELFFlags converts PT_LOAD p_flags bits into a Prot mask.
func FromELFFlags(flags elf.ProgFlag) Prot {
	var p Prot
	if flags&elf.PF_R != 0 {
		p |= ProtRead
	}
	if flags&elf.PF_W != 0 {
		p |= ProtWrite
	}
	if flags&elf.PF_X != 0 {
		p |= ProtExec
	}
	return p
}

// Region is a reserved, contiguous virtual memory area of Len bytes
// based at Base, backed by Bytes.
//
// Bytes always has length Len and aliases the real backing memory,
// whether that came from the process heap (HeapAllocator) or from an
// mmap mapping (MmapAllocator on supported platforms).
type Region struct {
	Base  uintptr
	Bytes []byte

	// fileMapped is set only by MmapAllocator. MapFileBacked and
	// MapAnonZero issue MAP_FIXED mmaps at Base+off, which is only
	// legal when the region itself is a mapping, never heap memory.
	fileMapped bool
}

// Len is the reserved region's length in bytes.
func (r *Region) Len() uintptr { return uintptr(len(r.Bytes)) }

// Addr returns the absolute virtual address of byte offset off within
// the region.
func (r *Region) Addr(off uintptr) uintptr { return r.Base + off }

// FileMappable reports whether MapFileBacked/MapAnonZero may be used on
// this region, i.e. whether it was reserved by a mmap-backed allocator.
func (r *Region) FileMappable() bool { return r.fileMapped }

// Contains reports whether [off, off+n) lies fully inside the region.
func (r *Region) Contains(off, n uintptr) bool {
	if off > r.Len() {
		return false
	}
	end := off + n
	return end >= off && end <= r.Len()
}

// CopyIn copies src into the region at offset off.
func (r *Region) CopyIn(off uintptr, src []byte) error {
	if !r.Contains(off, uintptr(len(src))) {
		return fmt.Errorf("region: copy-in [%#x, %#x) out of bounds (len %#x)", off, off+uintptr(len(src)), r.Len())
	}
	copy(r.Bytes[off:], src)
	return nil
}

// ZeroRange zeroes [off, off+n).
func (r *Region) ZeroRange(off, n uintptr) error {
	if !r.Contains(off, n) {
		return fmt.Errorf("region: zero-range [%#x, %#x) out of bounds (len %#x)", off, off+n, r.Len())
	}
	clear(r.Bytes[off : off+n])
	return nil
}

// VerifyZero reports whether every byte in [off, off+n) is zero.
func (r *Region) VerifyZero(off, n uintptr) bool {
	if !r.Contains(off, n) {
		return false
	}
	for _, b := range r.Bytes[off : off+n] {
		if b != 0 {
			return false
		}
	}
	return true
}

// FileBackedMapper is implemented by *Region only on platforms where
// the mmap backend is compiled in. The materialiser type-asserts for it
// (and checks FileMappable) and falls back to CopyIn/ZeroRange when no
// real mapping is available, so one call site serves both strategies
// without build tags.
type FileBackedMapper interface {
	MapFileBacked(off uintptr, fd int, fileOffset int64, length uintptr, prot Prot) error
	MapAnonZero(off, length uintptr) error
}
