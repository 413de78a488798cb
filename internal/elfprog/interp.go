package elfprog

import (
	"debug/elf"
	"io"

	"github.com/unikraft/app-elfloader/internal/elferr"
)

// maxInterpDepth bounds the interpreter chain: images at depth 0 (the
// program) and depth 1 (its interpreter) may load, depth 2 may not. A
// PT_INTERP program is loaded with interpreters disallowed, so a
// well-formed chain never reaches depth 2, but a crafted one could claim
// an interpreter that itself claims one. This is the recursion breaker
// of last resort.
const maxInterpDepth = 2

// ReadInterpPath reads the raw bytes of the PT_INTERP segment and
// returns the dynamic-linker path it names. The segment's last byte
// must be NUL. p must be the PT_INTERP program header itself.
func ReadInterpPath(p *elf.Prog) (string, error) {
	if p.Filesz == 0 {
		return "", elferr.New(elferr.NotELF, "PT_INTERP segment is empty")
	}
	buf := make([]byte, p.Filesz)
	if _, err := io.ReadFull(p.Open(), buf); err != nil {
		return "", elferr.Wrap(elferr.IO, err, "reading PT_INTERP segment")
	}
	if buf[len(buf)-1] != 0 {
		return "", elferr.New(elferr.NotELF, "PT_INTERP path is not NUL-terminated")
	}
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i]), nil
		}
	}
	return "", elferr.New(elferr.NotELF, "PT_INTERP path is not NUL-terminated")
}

// FindInterp returns the lone PT_INTERP program header of f, or nil if
// there is none. Parse has already rejected images with more than one.
func FindInterp(f *elf.File) *elf.Prog {
	for _, p := range f.Progs {
		if p.Type == elf.PT_INTERP {
			return p
		}
	}
	return nil
}

// DepthExceeded reports whether an image at chain depth depth (0 for
// the program itself) is too deep to load, i.e. depth >= maxInterpDepth.
func DepthExceeded(depth int) bool {
	return depth >= maxInterpDepth
}
