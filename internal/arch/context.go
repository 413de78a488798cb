// Package arch holds the architecture-specific pieces of the loader:
// the CPU execution context handed off at launch, the SysRegs
// FS/GS-base contract behind arch_prctl, the initial-stack builder,
// and the per-arch constants (stack alignment, AT_PLATFORM literal,
// target e_machine) consumed by the ELF validator.
package arch

// Context is the CPU execution context produced by the stack builder
// and consumed by the scheduler at handoff. All general-purpose
// registers are understood to be zeroed on entry (the glibc dynamic
// linker in particular requires %rdx = 0 so it does not try to run a
// pre-registered fini routine); Context only carries the two values
// that differ between programs.
type Context struct {
	// SP is the initial stack pointer, pointing at the pushed argc word
	// once the stack builder has finished.
	SP uintptr
	// IP is the initial instruction pointer: the interpreter's entry if
	// one was loaded, else the program's own entry.
	IP uintptr
}

// Zero clears the context back to its empty state. Nothing in this
// module calls it; it is available to embedders that discard a context
// instead of handing it to a scheduler.
func (c *Context) Zero() {
	c.SP = 0
	c.IP = 0
}
