package engine

import (
	"time"

	"github.com/kilnproject/kiln/pkg/types"
)

// task is the scheduler's mutable per-package state. All fields are
// owned by the scheduling loop; workers only ever read the recipe and
// workdir, which are fixed before launch.
type task struct {
	recipe      *types.Recipe
	status      types.PackageStatus
	pendingDeps int
	workdir     string
	err         error
	cause       string // failed ancestor, set on skipped tasks
	started     time.Time
	finished    time.Time
}

func (t *task) duration() time.Duration {
	if t.started.IsZero() {
		return 0
	}
	return t.finished.Sub(t.started)
}

type msgKind int

const (
	// msgFetched signals that all sources are in place and the build
	// phase is about to start.
	msgFetched msgKind = iota
	// msgDone signals that the worker has finished, successfully or not.
	msgDone
)

// workerMsg is the only channel of communication from workers back to
// the scheduling loop
type workerMsg struct {
	name string
	kind msgKind
	err  error
}
