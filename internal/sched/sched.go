// Package sched provides the handoff collaborators: a ThreadContainer
// to receive the built CPU execution context, and a Scheduler to run
// it. A real kernel scheduler is out of this module's scope, so
// Scheduler is satisfied by an in-process goroutine runner suitable for
// tests and for embedding this loader into a larger host process.
package sched

import (
	"github.com/unikraft/app-elfloader/internal/arch"
)

// ThreadContainer holds the execution context and entry function a
// Scheduler will run.
type ThreadContainer struct {
	Name string
	Ctx  arch.Context
	Run  func(ctx arch.Context)
}

// Scheduler hands a ThreadContainer off for execution.
type Scheduler interface {
	Add(t *ThreadContainer)
}

// GoroutineScheduler runs each ThreadContainer's Run function on its
// own goroutine.
type GoroutineScheduler struct{}

func (GoroutineScheduler) Add(t *ThreadContainer) {
	if t.Run == nil {
		return
	}
	go t.Run(t.Ctx)
}
