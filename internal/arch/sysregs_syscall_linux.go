//go:build linux && amd64

package arch

import (
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Raw arch_prctl sub-codes, SYS_ARCH_PRCTL argument 1 on linux/amd64.
// See arch_prctl(2).
const (
	archSetGS = 0x1001
	archSetFS = 0x1002
	archGetFS = 0x1003
	archGetGS = 0x1004
)

// SyscallSysRegs is the real-syscall SysRegs backend: every call issues
// the host kernel's own arch_prctl(2) against the calling OS thread,
// rather than keeping a saved copy in Go memory.
//
// Because arch_prctl is scoped to the calling OS thread, callers that
// need the base to stick must runtime.LockOSThread first; Set/Get here
// only lock long enough to perform the single syscall, so repeated
// Set-then-Get pairs across goroutine reschedules are not guaranteed to
// observe each other unless the caller has already pinned the thread.
type SyscallSysRegs struct{}

func (SyscallSysRegs) SetFSBase(addr uintptr) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	unix.RawSyscall(unix.SYS_ARCH_PRCTL, archSetFS, addr, 0)
}

func (SyscallSysRegs) GetFSBase() uintptr {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	var out uintptr
	unix.RawSyscall(unix.SYS_ARCH_PRCTL, archGetFS, uintptr(unsafe.Pointer(&out)), 0)
	return out
}

func (SyscallSysRegs) SetGSBase(addr uintptr) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	unix.RawSyscall(unix.SYS_ARCH_PRCTL, archSetGS, addr, 0)
}

func (SyscallSysRegs) GetGSBase() uintptr {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	var out uintptr
	unix.RawSyscall(unix.SYS_ARCH_PRCTL, archGetGS, uintptr(unsafe.Pointer(&out)), 0)
	return out
}
