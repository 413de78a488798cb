//go:build arm64

package arch

import "debug/elf"

const (
	// Platform is the AT_PLATFORM literal for this build target.
	Platform = "aarch64"

	// SPAlign is the required stack pointer alignment in bytes, 16 on
	// AArch64 as on x86-64.
	SPAlign = 16

	// Machine is the only e_machine value the validator accepts.
	Machine = elf.EM_AARCH64
)
