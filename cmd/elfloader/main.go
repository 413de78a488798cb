// Command elfloader is the standalone CLI front end for the loader
// package: it resolves the configured toggles, opens the requested
// image from the filesystem, loads it, and reports the resulting entry
// point and stack pointer. It stands in for a unikernel's boot path,
// minus the final register jump, since there is no kernel underneath
// this process to execute the loaded image on.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/unikraft/app-elfloader/internal/arch"
	"github.com/unikraft/app-elfloader/internal/config"
	"github.com/unikraft/app-elfloader/internal/elferr"
	"github.com/unikraft/app-elfloader/internal/imgsrc"
	"github.com/unikraft/app-elfloader/internal/loader"
	"github.com/unikraft/app-elfloader/internal/random"
	"github.com/unikraft/app-elfloader/internal/region"
	"github.com/unikraft/app-elfloader/internal/sched"
	"github.com/unikraft/app-elfloader/internal/ulog"
	"github.com/unikraft/app-elfloader/internal/vdso"
)

// compiledInAppName is the fixed program path used when CUSTOMAPPNAME
// is not set.
const compiledInAppName = "/program"

func main() {
	os.Exit(run(os.Args[1:], os.Environ()))
}

func run(args, environ []string) int {
	cfg := config.Load()

	// With CUSTOMAPPNAME, argv[1] names the program and argv[2:] are
	// its arguments; without it, everything after our own name is an
	// argument to the compiled-in program.
	name := compiledInAppName
	var argv []string
	if cfg.CustomAppName {
		if len(args) == 0 {
			fmt.Fprintln(os.Stderr, "elfloader: CUSTOMAPPNAME is set but no program name was given")
			return 1
		}
		name = args[0]
		argv = args
	} else {
		argv = append([]string{name}, args...)
	}

	if cfg.EnvPWD {
		if pwd := os.Getenv("PWD"); pwd != "" {
			if err := os.Chdir(pwd); err != nil {
				fmt.Fprintf(os.Stderr, "elfloader: chdir %q: %v\n", pwd, err)
				return 1
			}
		}
	}

	var src imgsrc.Source
	switch cfg.Source {
	case config.SourceVFS:
		src = imgsrc.VFS{Cfg: cfg}
	default:
		fmt.Fprintln(os.Stderr, "elfloader: INITRD_EXEC source requires an embedding host to supply Files; none configured for the CLI")
		return 1
	}

	result, err := loader.Load(src, region.HeapAllocator{}, region.NoopProtector{}, vdso.NoVDSO{}, random.CryptoSource{}, loader.Request{
		Name: name,
		Argv: argv,
		Envv: environ,
		Cfg:  cfg,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "elfloader: %v\n", err)
		var ee *elferr.Error
		if errors.As(err, &ee) {
			return exitCodeFor(ee.Kind)
		}
		return 1
	}
	defer result.Prog.Unload()

	ulog.Infof("entry=%#x sp=%#x", result.Ctx.IP, result.Ctx.SP)

	// There is no kernel underneath this CLI to actually jump to
	// ctx.IP on ctx.SP, so the scheduler handoff reports what would
	// have been executed rather than executing it.
	done := make(chan struct{})
	sched.GoroutineScheduler{}.Add(&sched.ThreadContainer{
		Name: result.Prog.Name,
		Ctx:  result.Ctx,
		Run: func(ctx arch.Context) {
			defer close(done)
			fmt.Printf("%s: would hand off to entry=%#x sp=%#x\n", result.Prog.Name, ctx.IP, ctx.SP)
		},
	})
	<-done

	return 0
}

// exitCodeFor maps error kinds to exit codes: 1 for a missing program
// name or an image that could not be found/read, 126 for an image we
// found but refuse to execute.
func exitCodeFor(k elferr.Kind) int {
	switch k {
	case elferr.BadInvocation, elferr.IO:
		return 1
	case elferr.NotELF, elferr.WrongTarget, elferr.Unsupported:
		return 126
	default:
		return 125
	}
}
