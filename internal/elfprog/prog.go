// Package elfprog implements ELF image validation and the
// LoadedProgram record: parsing a PIE ELF64 image, computing its
// memory footprint, and tracking the dynamic-linker chain.
package elfprog

// PHdr describes where the program-header table lives in memory. In a
// ParseResult, Off is an offset from the image's lowest VA; in a
// LoadedProgram, the loader stores the absolute address of the table
// (region base already added), which is what AT_PHDR reports.
type PHdr struct {
	Off     uintptr // see the type comment: relative in ParseResult, absolute in LoadedProgram
	Num     int
	EntSize int
}

// Interp is the dynamic-linker chain-loading state of a program that
// carries a PT_INTERP header.
type Interp struct {
	Required bool
	Path     string
	Prog     *LoadedProgram
}

// LoadedProgram describes one fully loaded ELF image. It is created by
// the load entry point, never mutated once returned, and released by
// Unload, which recursively unloads the interpreter, restores R+W
// protection, and releases the backing virtual region.
type LoadedProgram struct {
	Name string // display name
	Path string // optional canonical path; used as AT_EXECFN

	VABase uintptr // base of the reserved virtual region
	VALen  uintptr // length of that region, page-aligned
	Align  uintptr // max p_align over all PT_LOAD headers; >= page size

	Start uintptr // lowest loaded byte address
	Entry uintptr // program entry point, after relocation to VABase

	PHdr PHdr

	Interp Interp

	// Lowerl/Upperl are the VA span [Lowerl, Upperl) discovered during
	// parse, before page-alignment; Upperl is one past the last byte.
	Lowerl uintptr
	Upperl uintptr

	// release is populated by the loader with whatever is needed to
	// give the backing region back to its allocator on Unload; kept
	// unexported so callers can't reach into allocator internals.
	release func()
}

// SetReleaser installs the callback Unload invokes to free the backing
// region. Used by the loader package once materialisation completes.
func (p *LoadedProgram) SetReleaser(f func()) { p.release = f }

// Unload releases a LoadedProgram: the interpreter first, recursively,
// then this program's own backing region. The installed releaser
// restores R+W protection over the region before handing it back to
// the allocator, since segments may have been left read-only or R+X.
func (p *LoadedProgram) Unload() {
	if p == nil {
		return
	}
	if p.Interp.Prog != nil {
		p.Interp.Prog.Unload()
		p.Interp.Prog = nil
	}
	p.Interp.Path = ""
	if p.release != nil {
		p.release()
		p.release = nil
	}
}
