// Package loader is the top-level driver that composes image
// acquisition, validation, materialisation, protection, interpreter
// chain-loading, and initial stack construction into the single Load
// entry point.
package loader

import (
	"debug/elf"
	"io"
	"os"

	"github.com/unikraft/app-elfloader/internal/arch"
	"github.com/unikraft/app-elfloader/internal/auxvec"
	"github.com/unikraft/app-elfloader/internal/config"
	"github.com/unikraft/app-elfloader/internal/elferr"
	"github.com/unikraft/app-elfloader/internal/elfprog"
	"github.com/unikraft/app-elfloader/internal/heap"
	"github.com/unikraft/app-elfloader/internal/imgsrc"
	"github.com/unikraft/app-elfloader/internal/random"
	"github.com/unikraft/app-elfloader/internal/region"
	"github.com/unikraft/app-elfloader/internal/ulog"
	"github.com/unikraft/app-elfloader/internal/vdso"
)

// Request is the caller-supplied input to Load.
type Request struct {
	Name string
	Argv []string
	Envv []string
	// Argv0, when non-empty, overrides argv[0] handed to the loaded
	// program: the program observes argc == len(Argv)+1 with
	// argv[0] == Argv0 and Argv shifted up by one.
	Argv0 string
	Cfg   config.Config
}

// Result is everything Load hands back: the loaded program tree, the
// CPU context ready for handoff, and the heap manager seeded at the
// program's end.
type Result struct {
	Prog *elfprog.LoadedProgram
	Ctx  arch.Context
	Heap *heap.Manager
	// Stack is the region holding the application thread's initial
	// stack. It lives as long as the thread does; the embedder releases
	// it once the thread is gone.
	Stack *region.Region
}

// Materialize reserves a region sized to parsed's footprint and copies
// or maps every PT_LOAD segment into it. When the allocator produced a
// mmap-backed region and img has a real file descriptor, segments are
// mapped file-backed PRIVATE straight from the descriptor; otherwise
// segment bytes are read and copied through img.
func Materialize(img *imgsrc.Image, f *elf.File, parsed *elfprog.ParseResult, alloc region.Allocator) (*region.Region, error) {
	r, err := alloc.Reserve(parsed.VALen, parsed.Align)
	if err != nil {
		return nil, err
	}

	fbm, useFileBacked := any(r).(region.FileBackedMapper)
	useFileBacked = useFileBacked && r.FileMappable() && img.Fd >= 0

	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		off := uintptr(p.Paddr) - parsed.Lowerl

		if useFileBacked {
			if err := mapSegment(r, fbm, img.Fd, p, off); err != nil {
				alloc.Release(r)
				return nil, err
			}
			continue
		}

		if p.Filesz > 0 {
			buf := make([]byte, p.Filesz)
			if _, err := io.ReadFull(p.Open(), buf); err != nil {
				alloc.Release(r)
				return nil, elferr.Wrap(elferr.IO, err, "reading PT_LOAD segment at file offset %#x", p.Off)
			}
			if err := r.CopyIn(off, buf); err != nil {
				alloc.Release(r)
				return nil, err
			}
		}
		if p.Memsz > p.Filesz {
			if err := r.ZeroRange(off+uintptr(p.Filesz), uintptr(p.Memsz-p.Filesz)); err != nil {
				alloc.Release(r)
				return nil, err
			}
		}
	}

	return r, nil
}

// mapSegment maps one PT_LOAD file-backed. mmap requires page-aligned
// file offsets, and ELF only guarantees p_offset == p_paddr (mod
// p_align), so the mapping is extended down to the shared page
// boundary. The .bss tail is zeroed in place when it ends within the
// segment's last file-backed page and anonymously mapped beyond it, so
// large .bss areas never pass through a Go-side memset.
func mapSegment(r *region.Region, fbm region.FileBackedMapper, fd int, p *elf.Prog, off uintptr) error {
	if p.Filesz > 0 {
		delta := off - region.PageAlignDown(off)
		err := fbm.MapFileBacked(off-delta, fd, int64(p.Off)-int64(delta), uintptr(p.Filesz)+delta, region.FromELFFlags(p.Flags))
		if err != nil {
			return err
		}
	}
	if p.Memsz > p.Filesz {
		zstart := off + uintptr(p.Filesz)
		zend := region.PageAlignUp(off + uintptr(p.Memsz))
		zpage := region.PageAlignUp(zstart)
		if zpage > zend {
			zpage = zend
		}
		if zpage > zstart {
			if err := r.ZeroRange(zstart, zpage-zstart); err != nil {
				return err
			}
		}
		if zend > zpage {
			if err := fbm.MapAnonZero(zpage, zend-zpage); err != nil {
				return err
			}
		}
	}
	return nil
}

// ApplyProtections sets final R/W/X protections over every PT_LOAD
// segment. Failures are logged and otherwise ignored: a protection
// failure never aborts a load, execution is just less hardened.
func ApplyProtections(r *region.Region, f *elf.File, parsed *elfprog.ParseResult, prot region.Protector) {
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		rel := uintptr(p.Paddr) - parsed.Lowerl
		off := region.PageAlignDown(rel)
		end := region.PageAlignUp(rel + uintptr(p.Memsz))
		if err := prot.SetAttr(r, off, end-off, region.FromELFFlags(p.Flags)); err != nil {
			elferr.Warn("applying protections to [%#x,%#x): %v", r.Addr(off), r.Addr(end), err)
		}
	}
}

func loadOne(src imgsrc.Source, alloc region.Allocator, prot region.Protector, name string, nointerp bool, depth int) (*elfprog.LoadedProgram, error) {
	if elfprog.DepthExceeded(depth) {
		return nil, elferr.New(elferr.Unsupported, "interpreter chain too deep resolving %q", name)
	}

	img, err := src.Open(name)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	f, err := elf.NewFile(img)
	if err != nil {
		return nil, elferr.Wrap(elferr.NotELF, err, "parsing ELF header of %q", name)
	}
	defer f.Close()

	parsed, err := elfprog.Parse(f, img, name)
	if err != nil {
		return nil, err
	}
	if parsed.InterpRequired && nointerp {
		return nil, elferr.New(elferr.Unsupported, "%q requires an interpreter, which is disallowed at this point in the chain", name)
	}
	if parsed.InterpRequired && img.Fd < 0 {
		// An in-memory image has no filesystem underneath it to open
		// the dynamic linker from.
		return nil, elferr.New(elferr.Unsupported, "%q: in-memory image requires an interpreter", name)
	}

	r, err := Materialize(img, f, parsed, alloc)
	if err != nil {
		return nil, err
	}
	ApplyProtections(r, f, parsed, prot)

	prog := &elfprog.LoadedProgram{
		Name:   name,
		Path:   img.Path,
		VABase: r.Base,
		VALen:  r.Len(),
		Align:  parsed.Align,
		Start:  r.Addr(0),
		Entry:  r.Addr(uintptr(parsed.Entry) - parsed.Lowerl),
		PHdr: elfprog.PHdr{
			Off:     r.Addr(parsed.PHdr.Off - parsed.Lowerl),
			Num:     parsed.PHdr.Num,
			EntSize: parsed.PHdr.EntSize,
		},
		Lowerl: parsed.Lowerl,
		Upperl: parsed.Upperl,
	}
	prog.SetReleaser(func() {
		// Segments may be mapped read-only or R+X; restore R+W over the
		// whole region so the backing memory can be returned to the
		// allocator.
		if err := prot.SetAttr(r, 0, r.Len(), region.ProtRead|region.ProtWrite); err != nil {
			elferr.Warn("restoring R+W over [%#x,%#x): %v", r.Base, r.Base+r.Len(), err)
		}
		alloc.Release(r)
	})

	if parsed.InterpRequired {
		ip := elfprog.FindInterp(f)
		path, err := elfprog.ReadInterpPath(ip)
		if err != nil {
			prog.Unload()
			return nil, err
		}
		interpProg, err := loadOne(src, alloc, prot, path, true, depth+1)
		if err != nil {
			prog.Unload()
			return nil, err
		}
		prog.Interp = elfprog.Interp{Required: true, Path: path, Prog: interpProg}
	}

	return prog, nil
}

// buildAuxv assembles the auxiliary vector handed to the program.
// AT_PLATFORM, AT_EXECFN, and AT_RANDOM are left as placeholders with
// Value 0; arch.Build patches them once the information block has been
// written.
func buildAuxv(prog *elfprog.LoadedProgram, vdsoAddr uintptr) auxvec.Vector {
	base := uint64(0)
	if prog.Interp.Prog != nil {
		base = uint64(prog.Interp.Prog.VABase)
	}

	v := auxvec.Vector{
		{Key: auxvec.PHDR, Value: uint64(prog.PHdr.Off)},
		{Key: auxvec.PHEnt, Value: uint64(prog.PHdr.EntSize)},
		{Key: auxvec.PHNum, Value: uint64(prog.PHdr.Num)},
		{Key: auxvec.PageSize, Value: region.PageSize},
		{Key: auxvec.Base, Value: base},
		{Key: auxvec.Flags, Value: 0},
		{Key: auxvec.EntryPoint, Value: uint64(prog.Entry)},
		{Key: auxvec.NotELF, Value: 0},
		{Key: auxvec.UID, Value: uint64(os.Getuid())},
		{Key: auxvec.EUID, Value: uint64(os.Geteuid())},
		{Key: auxvec.GID, Value: uint64(os.Getgid())},
		{Key: auxvec.EGID, Value: uint64(os.Getegid())},
		{Key: auxvec.Secure, Value: 0},
		{Key: auxvec.ClockTick, Value: 100},
		{Key: auxvec.HWCap, Value: 0},
		{Key: auxvec.HWCap2, Value: 0},
		{Key: auxvec.DCacheBSize, Value: 0},
		{Key: auxvec.ICacheBSize, Value: 0},
		{Key: auxvec.UCacheBSize, Value: 0},
		{Key: auxvec.Platform, Value: 0},
		{Key: auxvec.Random, Value: 0},
		{Key: auxvec.ExecFn, Value: 0},
		{Key: auxvec.Ignore, Value: 0},
	}
	if vdsoAddr != 0 {
		v = append(v, auxvec.Entry{Key: auxvec.SysInfoEHdr, Value: uint64(vdsoAddr)})
	}
	return v
}

// Load opens and validates req.Name through src, materialises it (and
// its interpreter, if any), builds the initial stack, and returns a
// Result ready for handoff to a Scheduler. rng supplies the 16-byte
// AT_RANDOM blob; if it fails, Load warns and falls back to a seeded
// stream rather than failing the load.
func Load(src imgsrc.Source, alloc region.Allocator, prot region.Protector, vdsoProv vdso.Provider, rng random.Source, req Request) (*Result, error) {
	if req.Name == "" {
		return nil, elferr.New(elferr.BadInvocation, "missing program name")
	}
	if len(req.Argv) == 0 {
		return nil, elferr.New(elferr.BadInvocation, "empty argv")
	}

	prog, err := loadOne(src, alloc, prot, req.Name, false, 0)
	if err != nil {
		return nil, err
	}

	// The interpreter gets control first when present; AT_ENTRY still
	// names the program's own entry so the interpreter knows where to
	// jump once relocation is done.
	entry := prog.Entry
	if prog.Interp.Prog != nil {
		entry = prog.Interp.Prog.Entry
	}

	stackSize := uintptr(req.Cfg.StackPages) * region.PageSize
	stackRegion, err := alloc.Reserve(stackSize, region.PageSize)
	if err != nil {
		prog.Unload()
		return nil, err
	}

	vdsoAddr, err := vdsoProv.Map()
	if err != nil {
		elferr.Warn("vdso: %v; continuing without AT_SYSINFO_EHDR", err)
		vdsoAddr = 0
	}

	auxv := buildAuxv(prog, vdsoAddr)

	var randBuf [16]byte
	if err := rng.Fill(randBuf[:]); err != nil {
		elferr.Warn("random: %v; falling back to a seeded AT_RANDOM stream", err)
		random.SeedSource{Seed: uint64(prog.Entry)}.Fill(randBuf[:])
	}

	execfn := prog.Path
	if execfn == "" {
		execfn = prog.Name
	}
	sp, err := arch.Build(stackRegion, req.Argv0, req.Argv, req.Envv, execfn, randBuf[:], auxv)
	if err != nil {
		alloc.Release(stackRegion)
		prog.Unload()
		return nil, err
	}

	heapBase := region.PageAlignUp(prog.VABase + prog.VALen)
	heapLimit := uintptr(req.Cfg.BrkPages) * region.PageSize
	hm := heap.NewManager(heapBase, heapLimit)

	ulog.Infof("loaded %q: entry=%#x sp=%#x base=%#x len=%#x", req.Name, entry, sp, prog.VABase, prog.VALen)

	return &Result{
		Prog:  prog,
		Ctx:   arch.Context{SP: sp, IP: entry},
		Heap:  hm,
		Stack: stackRegion,
	}, nil
}
