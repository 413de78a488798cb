// Package config collects the loader's runtime configuration toggles,
// read once from the process environment at startup so the rest of the
// loader depends on plain data without reaching into os.Getenv itself.
package config

import (
	"github.com/xyproto/env/v2"
)

// Source selects where the executable image is read from.
type Source int

const (
	// SourceInitrd loads the image from an in-memory initrd region.
	// Interpreter chain-loading is unsupported for this source, since
	// the dynamic linker it names cannot be opened from a bare memory
	// region.
	SourceInitrd Source = iota
	// SourceVFS loads the image from a filesystem path.
	SourceVFS
)

// Config is the immutable set of toggles read once at process startup.
type Config struct {
	// Source selects INITRD_EXEC vs VFS_EXEC.
	Source Source

	// EnvPath, when true, searches $PATH for a bare program name
	// lacking a slash (VFSEXEC_ENVPATH).
	EnvPath bool

	// ExecBit, when true, refuses to load a file lacking S_IXUSR
	// (VFSEXEC_EXECBIT).
	ExecBit bool

	// EnvPWD, when true, chdir(2)s to $PWD before launch
	// (VFSEXEC_ENVPWD).
	EnvPWD bool

	// CustomAppName, when true, consumes argv[1] as the program
	// name/path, as opposed to a fixed, compiled-in path
	// (CUSTOMAPPNAME).
	CustomAppName bool

	// StackPages is the number of pages reserved for the application's
	// initial stack (STACK_NBPAGES).
	StackPages int

	// BrkPages is the number of pages reserved for the application's
	// brk heap (BRK_NBPAGES).
	BrkPages int
}

const (
	defaultStackPages = 128
	defaultBrkPages   = 2048
)

// Load reads the Config from the process environment.
func Load() Config {
	cfg := Config{
		EnvPath:       env.Bool("VFSEXEC_ENVPATH"),
		ExecBit:       env.Bool("VFSEXEC_EXECBIT"),
		EnvPWD:        env.Bool("VFSEXEC_ENVPWD"),
		CustomAppName: env.Bool("CUSTOMAPPNAME"),
		StackPages:    env.Int("STACK_NBPAGES", defaultStackPages),
		BrkPages:      env.Int("BRK_NBPAGES", defaultBrkPages),
	}
	if env.Bool("VFS_EXEC") {
		cfg.Source = SourceVFS
	} else {
		cfg.Source = SourceInitrd
	}
	return cfg
}
