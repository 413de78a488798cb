package arch

import "sync"

// SysRegs is the narrow per-thread register contract arch_prctl is
// built on. Two backends implement it: HostedSysRegs, which stores the
// bases in the thread's saved-context block the way a
// context-switch-driven loader does, and (on linux/amd64)
// SyscallSysRegs, which asks the host kernel's own arch_prctl to do
// the same for the calling OS thread.
type SysRegs interface {
	SetFSBase(addr uintptr)
	GetFSBase() uintptr
	SetGSBase(addr uintptr)
	GetGSBase() uintptr
}

// HostedSysRegs is the default SysRegs backend: a per-thread saved
// sysregs block, written on arch_prctl(SET_*) and installed by the next
// context switch. Bare-metal builds would write the FS/GS base MSRs
// directly instead; that path needs inline assembly and has no
// portable Go expression.
type HostedSysRegs struct {
	mu     sync.Mutex
	fs, gs uintptr
}

func (h *HostedSysRegs) SetFSBase(addr uintptr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fs = addr
}

func (h *HostedSysRegs) GetFSBase() uintptr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fs
}

func (h *HostedSysRegs) SetGSBase(addr uintptr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gs = addr
}

func (h *HostedSysRegs) GetGSBase() uintptr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gs
}
