// Package interfaces provides abstractions for dependency injection and testability
package interfaces

import (
	"context"
	"time"

	"github.com/kilnproject/kiln/pkg/types"
)

// Acquirer places the unpacked source material for one SourceSpec into a
// destination directory. Implementations must tolerate a partially
// populated destination from a previous attempt.
type Acquirer interface {
	Acquire(ctx context.Context, pkg string, spec types.SourceSpec, dest string) error
}

// Runner executes a recipe's build steps inside its working directory
type Runner interface {
	Run(ctx context.Context, recipe *types.Recipe, workdir string) error
}

// EventSink receives progress events. Publish must never block the caller
// for more than a bounded, short duration; a slow consumer degrades
// progress granularity, not build throughput.
type EventSink interface {
	Publish(event types.ProgressEvent)
}

// LogSink receives per-package build output lines. Lines from one package
// arrive in emission order; lines from different packages interleave freely.
type LogSink interface {
	Write(line types.LogLine)
	Close() error
}

// Notifier reports session-level outcomes to the operator
type Notifier interface {
	NotifySessionStart(packages int)
	NotifySessionDone(summary *types.SessionSummary, duration time.Duration)
}

// SummaryWriter persists the terminal session summary for post-build review
type SummaryWriter interface {
	WriteSummary(summary *types.SessionSummary) (string, error)
}
