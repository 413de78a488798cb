//go:build linux && (amd64 || arm64)

// mmap-backed materialisation: regions are reserved as anonymous
// mappings and PT_LOAD segments are mapped file-backed PRIVATE straight
// from the image's file descriptor, so large segments and .bss tails
// never pass through a Go-side copy.
package region

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/unikraft/app-elfloader/internal/elferr"
)

// mmapFixed wraps the raw mmap(2) syscall so a MAP_FIXED request can
// target an explicit address, which unix.Mmap's convenience wrapper
// does not expose since it always passes addr=0 to the kernel.
func mmapFixed(addr, length uintptr, prot, flags, fd int, fileOffset int64) ([]byte, error) {
	r1, _, errno := unix.Syscall6(unix.SYS_MMAP, addr, length,
		uintptr(prot), uintptr(flags), uintptr(fd), uintptr(fileOffset))
	if errno != 0 {
		return nil, errno
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(r1)), int(length)), nil
}

// MmapAllocator reserves regions as anonymous mmap mappings of this
// process's own address space. Reserve maps a hole of size+align
// bytes, unmaps it, and re-maps MAP_FIXED at the address rounded up to
// align, guaranteeing an align-aligned base even though mmap itself
// only guarantees page alignment.
type MmapAllocator struct{}

func (MmapAllocator) Reserve(size, align uintptr) (*Region, error) {
	holeLen := size + align
	hole, err := unix.Mmap(-1, 0, int(holeLen), unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, elferr.Wrap(elferr.ResourceExhausted, err, "reserve: dummy mmap of %#x bytes failed", holeLen)
	}
	base := alignUp(sliceAddr(hole), align)
	if err := unix.Munmap(hole); err != nil {
		return nil, elferr.Wrap(elferr.ResourceExhausted, err, "reserve: failed to unmap dummy area")
	}

	b, err := mmapFixed(base, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_FIXED, -1, 0)
	if err != nil {
		return nil, elferr.Wrap(elferr.ResourceExhausted, err, "reserve: fixed remap at %#x failed", base)
	}
	return &Region{Base: base, Bytes: b, fileMapped: true}, nil
}

func (MmapAllocator) Release(r *Region) error {
	if r == nil || len(r.Bytes) == 0 {
		return nil
	}
	return unix.Munmap(r.Bytes)
}

// MapFileBacked maps [fileOffset, fileOffset+length) of fd PRIVATE at
// region offset off. Both off and fileOffset must be page-aligned;
// callers that need a non-aligned segment start extend the mapping down
// to the shared page boundary first. The mapping is MAP_FIXED against
// the already reserved region, so it must land fully inside it.
func (r *Region) MapFileBacked(off uintptr, fd int, fileOffset int64, length uintptr, prot Prot) error {
	if !r.fileMapped {
		return elferr.New(elferr.ResourceExhausted, "map-file-backed: region at %#x is not mmap-backed", r.Base)
	}
	if !r.Contains(off, length) {
		return elferr.New(elferr.ResourceExhausted, "map-file-backed [%#x,%#x) out of bounds", off, off+length)
	}
	// PROT_WRITE stays on until the protection applier runs, so the
	// sub-page .bss tail can still be zeroed through Bytes.
	_, err := mmapFixed(r.Base+off, length, toUnixProt(prot)|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_FIXED, fd, fileOffset)
	if err != nil {
		return elferr.Wrap(elferr.ResourceExhausted, err, "map-file-backed at %#x (fd offset %#x, len %#x)", r.Base+off, fileOffset, length)
	}
	return nil
}

// MapAnonZero anonymously maps [off, off+length) of the region so the
// kernel supplies pre-zeroed pages without a Go-side memset, used for
// .bss tails spanning one page or more.
func (r *Region) MapAnonZero(off, length uintptr) error {
	if !r.fileMapped {
		return elferr.New(elferr.ResourceExhausted, "map-anon-zero: region at %#x is not mmap-backed", r.Base)
	}
	if !r.Contains(off, length) {
		return elferr.New(elferr.ResourceExhausted, "map-anon-zero [%#x,%#x) out of bounds", off, off+length)
	}
	_, err := mmapFixed(r.Base+off, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_FIXED, -1, 0)
	if err != nil {
		return elferr.Wrap(elferr.ResourceExhausted, err, "map-anon-zero at %#x (len %#x)", r.Base+off, length)
	}
	return nil
}

// MmapProtector applies real per-page protections via mprotect(2).
type MmapProtector struct{}

func (MmapProtector) SetAttr(r *Region, off, n uintptr, prot Prot) error {
	if !r.Contains(off, n) {
		return elferr.New(elferr.ResourceExhausted, "set-attr [%#x,%#x) out of bounds", off, off+n)
	}
	if err := unix.Mprotect(r.Bytes[off:off+n], toUnixProt(prot)); err != nil {
		return elferr.Wrap(elferr.ProtectionWarning, err, "mprotect [%#x,%#x)", r.Base+off, r.Base+off+n)
	}
	return nil
}

func toUnixProt(p Prot) int {
	var u int
	if p&ProtRead != 0 {
		u |= unix.PROT_READ
	}
	if p&ProtWrite != 0 {
		u |= unix.PROT_WRITE
	}
	if p&ProtExec != 0 {
		u |= unix.PROT_EXEC
	}
	return u
}
