package arch

import (
	"encoding/binary"

	"github.com/unikraft/app-elfloader/internal/auxvec"
	"github.com/unikraft/app-elfloader/internal/elferr"
	"github.com/unikraft/app-elfloader/internal/region"
)

const ptrSize = 8

// Builder constructs the System V initial stack image inside a reserved
// Region: the information block of copied strings at the top, then the
// auxiliary vector, envp, argv, and argc arrays below it, addresses
// decreasing as items are pushed.
//
// Each push lowers top and returns the address the pushed value now
// lives at, so callers can patch auxv placeholders (AT_PLATFORM,
// AT_EXECFN, AT_RANDOM) once the corresponding string's final address
// is known.
type Builder struct {
	mem  *region.Region
	base uintptr
	top  uintptr
}

// NewBuilder starts a Builder writing into the top of mem.
func NewBuilder(mem *region.Region) *Builder {
	return &Builder{mem: mem, base: mem.Base, top: mem.Base + mem.Len()}
}

// SP returns the builder's current write position.
func (b *Builder) SP() uintptr { return b.top }

func (b *Builder) pushBytes(data []byte) (uintptr, error) {
	n := uintptr(len(data))
	if b.top-b.base < n {
		return 0, elferr.New(elferr.ResourceExhausted, "stack builder: out of stack space pushing %d bytes", len(data))
	}
	b.top -= n
	off := b.top - b.base
	if err := b.mem.CopyIn(off, data); err != nil {
		return 0, err
	}
	return b.top, nil
}

// pushString pushes s plus a trailing NUL and returns its address.
func (b *Builder) pushString(s string) (uintptr, error) {
	buf := make([]byte, len(s)+1)
	copy(buf, s)
	return b.pushBytes(buf)
}

// pushWords pushes a slice of words such that words[0] ends up at the
// lowest address of the pushed block.
func (b *Builder) pushWords(words []uint64) (uintptr, error) {
	buf := make([]byte, len(words)*ptrSize)
	for i, w := range words {
		binary.LittleEndian.PutUint64(buf[i*ptrSize:], w)
	}
	return b.pushBytes(buf)
}

// InfoBlock holds the addresses of the strings copied into the top of
// the stack region, which AT_PLATFORM/AT_EXECFN/AT_RANDOM and the
// argv/envp arrays point into. Keeping all strings inside the stack
// region means every pointer the program receives refers to memory with
// the same lifetime as the stack itself.
type InfoBlock struct {
	Platform uintptr
	ExecFn   uintptr
	Random   uintptr
	Argv     []uintptr
	Envp     []uintptr
}

// pushInfoBlock copies execfn, the caller-supplied random bytes, the
// platform literal, and every envp/argv string (argv last, so it ends
// up closest to the arrays that reference it) into the stack region.
func pushInfoBlock(b *Builder, argv, envp []string, execfn string, rnd []byte) (InfoBlock, error) {
	var info InfoBlock

	execfnAddr, err := b.pushString(execfn)
	if err != nil {
		return info, err
	}
	info.ExecFn = execfnAddr

	randomAddr, err := b.pushBytes(rnd)
	if err != nil {
		return info, err
	}
	info.Random = randomAddr

	platformAddr, err := b.pushString(Platform)
	if err != nil {
		return info, err
	}
	info.Platform = platformAddr

	info.Envp = make([]uintptr, len(envp))
	for i := len(envp) - 1; i >= 0; i-- {
		addr, err := b.pushString(envp[i])
		if err != nil {
			return info, err
		}
		info.Envp[i] = addr
	}

	info.Argv = make([]uintptr, len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		addr, err := b.pushString(argv[i])
		if err != nil {
			return info, err
		}
		info.Argv[i] = addr
	}

	return info, nil
}

// Build lays out the complete initial stack in mem and returns the
// final SP, ready to be handed to Context.SP. auxv must not already be
// AT_NULL-terminated; Build appends the terminator. Any AT_PLATFORM,
// AT_EXECFN, or AT_RANDOM entries in auxv are expected with a
// placeholder Value of 0 and are patched with the real string address
// once the information block has been written.
//
// rnd is the caller-owned 16-byte AT_RANDOM blob; it is copied into
// the information block so the pointer the program receives stays
// valid for the stack's lifetime.
//
// argv0, when non-empty, overrides argv[0]: the program observes
// argc == len(argv)+1 with argv[0] == argv0 and the caller's argv
// shifted up by one.
func Build(mem *region.Region, argv0 string, argv, envp []string, execfn string, rnd []byte, auxv auxvec.Vector) (uintptr, error) {
	b := NewBuilder(mem)

	effectiveArgv := argv
	if argv0 != "" {
		effectiveArgv = make([]string, 0, len(argv)+1)
		effectiveArgv = append(effectiveArgv, argv0)
		effectiveArgv = append(effectiveArgv, argv...)
	}

	info, err := pushInfoBlock(b, effectiveArgv, envp, execfn, rnd)
	if err != nil {
		return 0, err
	}

	patched := make(auxvec.Vector, len(auxv))
	copy(patched, auxv)
	for i := range patched {
		switch patched[i].Key {
		case auxvec.Platform:
			patched[i].Value = uint64(info.Platform)
		case auxvec.ExecFn:
			patched[i].Value = uint64(info.ExecFn)
		case auxvec.Random:
			patched[i].Value = uint64(info.Random)
		}
	}
	patched = append(patched, auxvec.Entry{Key: auxvec.Null, Value: 0})

	// Reserve space for argc + argv[] + NULL + envp[] + NULL + auxv[]
	// before rounding down to SPAlign, so the final push (argc) lands
	// exactly on an aligned address.
	reserve := uintptr(1+len(effectiveArgv)+1+len(envp)+1+2*len(patched)) * ptrSize
	aligned := (b.top - reserve) &^ uintptr(SPAlign-1)
	pad := b.top - reserve - aligned
	b.top -= pad

	auxWords := make([]uint64, 0, 2*len(patched))
	for _, e := range patched {
		auxWords = append(auxWords, uint64(e.Key), e.Value)
	}
	if _, err := b.pushWords(auxWords); err != nil {
		return 0, err
	}

	envWords := make([]uint64, 0, len(info.Envp)+1)
	for _, addr := range info.Envp {
		envWords = append(envWords, uint64(addr))
	}
	envWords = append(envWords, 0)
	if _, err := b.pushWords(envWords); err != nil {
		return 0, err
	}

	argWords := make([]uint64, 0, len(info.Argv)+1)
	for _, addr := range info.Argv {
		argWords = append(argWords, uint64(addr))
	}
	argWords = append(argWords, 0)
	if _, err := b.pushWords(argWords); err != nil {
		return 0, err
	}

	if _, err := b.pushWords([]uint64{uint64(len(effectiveArgv))}); err != nil {
		return 0, err
	}

	if b.top%SPAlign != 0 {
		return 0, elferr.New(elferr.ResourceExhausted, "stack builder: final SP %#x is not %d-byte aligned", b.top, SPAlign)
	}

	return b.top, nil
}
