// Package engine schedules package builds over the dependency graph
// with bounded concurrency
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/kilnproject/kiln/pkg/graph"
	"github.com/kilnproject/kiln/pkg/interfaces"
	"github.com/kilnproject/kiln/pkg/logger"
	"github.com/kilnproject/kiln/pkg/types"
)

// Options configures a scheduler session
type Options struct {
	// MaxConcurrency bounds the number of packages processed at once.
	// Values below 1 are treated as 1; 1 yields a fully deterministic
	// topological build order.
	MaxConcurrency int

	// BuildDir is the root under which per-package working directories
	// are created as <name>-<version>.
	BuildDir string

	// Cleanup decides what happens to a working directory once its
	// package reaches a terminal state.
	Cleanup types.CleanupPolicy

	// PhaseTimeout, when positive, bounds each fetch and build phase
	// separately. Zero disables the timeout.
	PhaseTimeout time.Duration
}

// Scheduler drives a set of recipes to terminal states. Every status
// transition and dependency-counter mutation happens on the single
// scheduling goroutine inside Run; workers report back over a channel.
type Scheduler struct {
	graph    *graph.Graph
	recipes  map[string]*types.Recipe
	acquirer interfaces.Acquirer
	runner   interfaces.Runner
	sink     interfaces.EventSink
	log      logger.Logger
	opts     Options
}

// New creates a Scheduler over a validated graph. The recipes slice must
// be the same set the graph was built from.
func New(g *graph.Graph, recipes []*types.Recipe, acquirer interfaces.Acquirer, runner interfaces.Runner, sink interfaces.EventSink, log logger.Logger, opts Options) *Scheduler {
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 1
	}
	if opts.Cleanup == "" {
		opts.Cleanup = types.CleanupKeepOnFailure
	}
	byName := make(map[string]*types.Recipe, len(recipes))
	for _, r := range recipes {
		byName[r.Name] = r
	}
	return &Scheduler{
		graph:    g,
		recipes:  byName,
		acquirer: acquirer,
		runner:   runner,
		sink:     sink,
		log:      log,
		opts:     opts,
	}
}

// Run processes every package to a terminal state and returns the
// session summary. Cancelling ctx aborts the session: running
// subprocesses are signaled and all non-terminal packages end up
// skipped. The summary is returned even on abort, alongside ctx's error.
func (s *Scheduler) Run(ctx context.Context) (*types.SessionSummary, error) {
	started := time.Now()
	names := s.graph.Names()

	tasks := make(map[string]*task, len(names))
	for _, name := range names {
		rec := s.recipes[name]
		tasks[name] = &task{
			recipe:      rec,
			status:      types.StatusPending,
			pendingDeps: len(s.graph.Dependencies(name)),
			workdir:     filepath.Join(s.opts.BuildDir, rec.Name+"-"+rec.Version),
		}
		s.publish(name, types.PhaseQueued, "")
	}

	// Seed the ready queue in declaration order.
	var ready []string
	for _, name := range names {
		if tasks[name].pendingDeps == 0 {
			tasks[name].status = types.StatusReady
			ready = append(ready, name)
		}
	}

	group, workerCtx := NewSafeGroup(ctx, s.log)
	completions := make(chan workerMsg, len(names))

	inFlight := 0
	terminal := 0
	aborted := false
	ctxDone := ctx.Done()

	for terminal < len(names) {
		// Launch as many ready tasks as the concurrency budget allows.
		for !aborted && inFlight < s.opts.MaxConcurrency && len(ready) > 0 {
			name := ready[0]
			ready = ready[1:]
			t := tasks[name]
			if t.status != types.StatusReady {
				// Skipped while queued.
				continue
			}
			t.status = types.StatusFetching
			t.started = time.Now()
			inFlight++
			s.log.Debug("starting package",
				logger.WithField("package", name),
				logger.WithField("workdir", t.workdir))
			worker := t
			group.Go(func() error {
				completions <- workerMsg{
					name: worker.recipe.Name,
					kind: msgDone,
					err:  s.process(workerCtx, worker, completions),
				}
				return nil
			})
		}

		if inFlight == 0 {
			// Nothing running and nothing runnable; the remaining tasks
			// were all skipped on this iteration's bookkeeping.
			if len(ready) == 0 {
				break
			}
			continue
		}

		select {
		case msg := <-completions:
			switch msg.kind {
			case msgFetched:
				tasks[msg.name].status = types.StatusBuilding
			case msgDone:
				inFlight--
				terminal += s.settle(tasks[msg.name], msg.err, aborted, &ready, tasks)
			}
		case <-ctxDone:
			aborted = true
			ctxDone = nil
			terminal += s.abortWaiting(tasks, names)
			ready = nil
		}
	}

	if err := group.Wait(); err != nil {
		s.log.Error("worker pool error", logger.WithField("error", err))
	}

	summary := &types.SessionSummary{
		SessionID: uuid.NewString(),
		Started:   started,
		Finished:  time.Now(),
		Results:   make(map[string]types.PackageResult, len(names)),
	}
	for name, t := range tasks {
		result := types.PackageResult{
			Name:     name,
			Status:   t.status,
			Cause:    t.cause,
			Duration: t.duration(),
		}
		if t.err != nil {
			result.Error = t.err.Error()
		}
		summary.Results[name] = result
	}

	if aborted {
		return summary, ctx.Err()
	}
	return summary, nil
}

// process runs the fetch and build phases of one package. It is the only
// scheduler code executing off the scheduling goroutine.
func (s *Scheduler) process(ctx context.Context, t *task, fetched chan<- workerMsg) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("package %s panicked: %v", t.recipe.Name, r)
		}
	}()

	if err := os.MkdirAll(t.workdir, 0o755); err != nil {
		return fmt.Errorf("creating workdir: %w", err)
	}

	fctx, cancel := s.phaseContext(ctx)
	for i, src := range t.recipe.Sources {
		if err := s.acquirer.Acquire(fctx, t.recipe.Name, src, t.workdir); err != nil {
			cancel()
			return fmt.Errorf("source %d (%s): %w", i, src, err)
		}
	}
	cancel()

	fetched <- workerMsg{name: t.recipe.Name, kind: msgFetched}

	bctx, cancel := s.phaseContext(ctx)
	defer cancel()
	return s.runner.Run(bctx, t.recipe, t.workdir)
}

func (s *Scheduler) phaseContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.PhaseTimeout > 0 {
		return context.WithTimeout(ctx, s.opts.PhaseTimeout)
	}
	return context.WithCancel(ctx)
}

// settle records a worker's terminal outcome and updates dependents.
// It returns the number of tasks that reached a terminal state.
func (s *Scheduler) settle(t *task, err error, aborted bool, ready *[]string, tasks map[string]*task) int {
	t.finished = time.Now()
	name := t.recipe.Name

	if err == nil {
		t.status = types.StatusSucceeded
		s.publish(name, types.PhaseDone, "")
		s.log.Success("package built",
			logger.WithField("package", name),
			logger.WithField("duration", t.duration().Round(time.Millisecond)))
		s.cleanupWorkdir(t, false)

		for _, dep := range s.graph.Dependents(name) {
			dt := tasks[dep]
			dt.pendingDeps--
			if dt.pendingDeps == 0 && dt.status == types.StatusPending {
				dt.status = types.StatusReady
				*ready = append(*ready, dep)
			}
		}
		return 1
	}

	if aborted && errors.Is(err, context.Canceled) {
		t.status = types.StatusSkipped
		t.cause = "aborted"
		s.publish(name, types.PhaseFailed, "aborted")
		s.log.Warn("package aborted", logger.WithField("package", name))
		s.cleanupWorkdir(t, true)
		return 1
	}

	t.status = types.StatusFailed
	t.err = err
	s.publish(name, types.PhaseFailed, err.Error())
	s.log.Error("package failed",
		logger.WithField("package", name),
		logger.WithField("error", err))
	s.cleanupWorkdir(t, true)

	return 1 + s.skipDependents(name, name, tasks)
}

// skipDependents marks every non-terminal transitive dependent of name
// as skipped, recording the originating failed package as the cause.
// Returns the number of tasks skipped.
func (s *Scheduler) skipDependents(name, cause string, tasks map[string]*task) int {
	skipped := 0
	for _, dep := range s.graph.Dependents(name) {
		t := tasks[dep]
		if t.status != types.StatusPending && t.status != types.StatusReady {
			continue
		}
		t.status = types.StatusSkipped
		t.cause = cause
		t.finished = time.Now()
		s.publish(dep, types.PhaseFailed, "skipped: dependency "+cause+" failed")
		s.log.Warn("package skipped",
			logger.WithField("package", dep),
			logger.WithField("cause", cause))
		skipped += 1 + s.skipDependents(dep, cause, tasks)
	}
	return skipped
}

// abortWaiting skips every package that has not started yet
func (s *Scheduler) abortWaiting(tasks map[string]*task, names []string) int {
	skipped := 0
	for _, name := range names {
		t := tasks[name]
		if t.status != types.StatusPending && t.status != types.StatusReady {
			continue
		}
		t.status = types.StatusSkipped
		t.cause = "aborted"
		s.publish(name, types.PhaseFailed, "aborted")
		skipped++
	}
	if skipped > 0 {
		s.log.Warn("session aborted", logger.WithField("skipped", skipped))
	}
	return skipped
}

func (s *Scheduler) cleanupWorkdir(t *task, failed bool) {
	switch s.opts.Cleanup {
	case types.CleanupAlwaysRemove:
	case types.CleanupKeepOnFailure:
		if failed {
			return
		}
	default: // always-keep
		return
	}
	if err := os.RemoveAll(t.workdir); err != nil {
		s.log.Warn("could not remove workdir",
			logger.WithField("package", t.recipe.Name),
			logger.WithField("error", err))
	}
}

func (s *Scheduler) publish(pkg string, phase types.Phase, msg string) {
	if s.sink == nil {
		return
	}
	s.sink.Publish(types.ProgressEvent{
		Package:   pkg,
		Phase:     phase,
		Current:   -1,
		Total:     -1,
		Message:   msg,
		Timestamp: time.Now(),
	})
}
