// Package runner executes a recipe's build steps as subprocesses
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	shellwords "github.com/mattn/go-shellwords"

	"github.com/kilnproject/kiln/pkg/interfaces"
	"github.com/kilnproject/kiln/pkg/logger"
	"github.com/kilnproject/kiln/pkg/types"
)

// BuildStepFailedError reports the first step that exited non-zero
type BuildStepFailedError struct {
	Index      int
	ExitStatus int
	Command    string
}

func (e *BuildStepFailedError) Error() string {
	return fmt.Sprintf("build step %d (%q) failed with exit status %d", e.Index, e.Command, e.ExitStatus)
}

// ProcessLaunchError reports a step whose subprocess could not be started
type ProcessLaunchError struct {
	Command string
	Err     error
}

func (e *ProcessLaunchError) Error() string {
	return fmt.Sprintf("could not execute command %q: %v", e.Command, e.Err)
}

func (e *ProcessLaunchError) Unwrap() error { return e.Err }

// StepRunner implements interfaces.Runner. Steps of one recipe always run
// sequentially: later steps assume earlier steps' effects on the working
// directory.
type StepRunner struct {
	log  logger.Logger
	logs interfaces.LogSink
	sink interfaces.EventSink
}

// New creates a StepRunner writing combined step output to logs
func New(log logger.Logger, logs interfaces.LogSink, sink interfaces.EventSink) *StepRunner {
	return &StepRunner{log: log, logs: logs, sink: sink}
}

// Run executes each step of the recipe in order inside workdir, stopping
// at the first failure
func (r *StepRunner) Run(ctx context.Context, rec *types.Recipe, workdir string) error {
	// Staging directory for install steps (DESTDIR-style); exported to
	// steps as pkgdir.
	if err := os.MkdirAll(filepath.Join(workdir, "pkg"), 0o755); err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}

	env := r.buildEnv(rec, workdir)
	total := int64(len(rec.Steps))

	for i, step := range rec.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		r.publish(rec.Name, int64(i), total, firstLine(step))
		r.log.Debug("running build step",
			logger.WithField("package", rec.Name),
			logger.WithField("step", i),
			logger.WithField("command", firstLine(step)))

		if err := r.runStep(ctx, rec.Name, i, step, workdir, env); err != nil {
			return err
		}
	}

	r.publish(rec.Name, total, total, "")
	return nil
}

// runStep launches one step and streams its combined output, line
// buffered, to the log sink
func (r *StepRunner) runStep(ctx context.Context, pkg string, index int, step, workdir string, env []string) error {
	cmd := createCommand(ctx, step)
	cmd.Dir = workdir
	cmd.Env = env

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			if r.logs != nil {
				r.logs.Write(types.LogLine{
					Package: pkg,
					Step:    index,
					Line:    scanner.Text(),
					Time:    time.Now(),
				})
			}
		}
	}()

	if err := cmd.Start(); err != nil {
		pw.Close()
		<-done
		return &ProcessLaunchError{Command: step, Err: err}
	}

	err := cmd.Wait()
	pw.Close()
	<-done

	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// A context-cancelled step is an abort, not a package failure.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &BuildStepFailedError{
			Index:      index,
			ExitStatus: exitErr.ExitCode(),
			Command:    step,
		}
	}
	return &ProcessLaunchError{Command: step, Err: err}
}

// buildEnv assembles the clean-but-inherited subprocess environment:
// the parent environment, the recipe's env block, and the standard
// directory variables build scripts rely on. Sources unpack into the
// same directory the steps run in, so srcdir and builddir coincide;
// pkgdir points at the pkg/ staging subdirectory.
func (r *StepRunner) buildEnv(rec *types.Recipe, workdir string) []string {
	env := os.Environ()
	for k, v := range rec.Env {
		env = append(env, k+"="+v)
	}
	env = append(env,
		"name="+rec.Name,
		"version="+rec.Version,
		"srcdir="+workdir,
		"builddir="+workdir,
		"pkgdir="+filepath.Join(workdir, "pkg"),
		fmt.Sprintf("MAKEFLAGS=-j%d", runtime.NumCPU()),
	)
	return env
}

func (r *StepRunner) publish(pkg string, current, total int64, msg string) {
	if r.sink == nil {
		return
	}
	r.sink.Publish(types.ProgressEvent{
		Package:   pkg,
		Phase:     types.PhaseBuilding,
		Current:   current,
		Total:     total,
		Message:   msg,
		Timestamp: time.Now(),
	})
}

// createCommand builds an exec.Cmd for a command line. Commands with
// shell metacharacters go through the shell; simple commands are split
// into an argv and executed directly.
func createCommand(ctx context.Context, command string) *exec.Cmd {
	if strings.ContainsAny(command, "&|;<>$`(){}*?~#\n") {
		return exec.CommandContext(ctx, "sh", "-c", command)
	}
	parts, err := shellwords.Parse(command)
	if err != nil || len(parts) == 0 {
		return exec.CommandContext(ctx, "sh", "-c", command)
	}
	return exec.CommandContext(ctx, parts[0], parts[1:]...)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
