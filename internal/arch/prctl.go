package arch

import "github.com/unikraft/app-elfloader/internal/elferr"

// arch_prctl(2) operation codes. Duplicated from the unexported
// syscall-backend constants so this file builds on every GOARCH/GOOS,
// not just linux/amd64.
const (
	ArchSetGS = 0x1001
	ArchSetFS = 0x1002
	ArchGetFS = 0x1003
	ArchGetGS = 0x1004

	ArchGetCPUID = 0x1011
	ArchSetCPUID = 0x1012

	ArchMapVDSOX32 = 0x2001
	ArchMapVDSO32  = 0x2002
	ArchMapVDSO64  = 0x2003
)

// Prctl implements the arch_prctl(2) contract the loaded program's
// libc relies on to install TLS after entry. addr is the caller's
// second argument; for the GET_* codes it is a pointer to a
// word-sized output slot, for the SET_* codes the base value itself.
// out is only written for the GET_* codes. The CPUID and MAP_VDSO
// families are not implemented and fail with EINVAL, as does any
// unknown code.
func Prctl(regs SysRegs, code int64, addr uintptr, out *uintptr) error {
	switch code {
	case ArchSetGS:
		regs.SetGSBase(addr)
		return nil

	case ArchSetFS:
		regs.SetFSBase(addr)
		return nil

	case ArchGetGS:
		if addr == 0 {
			return elferr.New(elferr.BadInvocation, "arch_prctl(ARCH_GET_GS, NULL)")
		}
		if out != nil {
			*out = regs.GetGSBase()
		}
		return nil

	case ArchGetFS:
		if addr == 0 {
			return elferr.New(elferr.BadInvocation, "arch_prctl(ARCH_GET_FS, NULL)")
		}
		if out != nil {
			*out = regs.GetFSBase()
		}
		return nil

	case ArchGetCPUID, ArchSetCPUID,
		ArchMapVDSOX32, ArchMapVDSO32, ArchMapVDSO64:
		return elferr.New(elferr.BadInvocation, "arch_prctl option 0x%x not implemented", code)

	default:
		return elferr.New(elferr.BadInvocation, "arch_prctl option code 0x%x ignored", code)
	}
}
