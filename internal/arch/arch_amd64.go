//go:build amd64

package arch

import "debug/elf"

const (
	// Platform is the AT_PLATFORM literal for this build target.
	Platform = "x86_64"

	// SPAlign is the required stack pointer alignment in bytes at
	// function-call boundaries.
	SPAlign = 16

	// Machine is the only e_machine value the validator accepts.
	Machine = elf.EM_X86_64
)
