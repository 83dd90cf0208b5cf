package runner_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/kilnproject/kiln/pkg/logger"
	"github.com/kilnproject/kiln/pkg/runner"
	"github.com/kilnproject/kiln/pkg/types"
)

// memLogSink collects log lines in memory
type memLogSink struct {
	mu    sync.Mutex
	lines []types.LogLine
}

func (m *memLogSink) Write(line types.LogLine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = append(m.lines, line)
}

func (m *memLogSink) Close() error { return nil }

func (m *memLogSink) all() []types.LogLine {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.LogLine, len(m.lines))
	copy(out, m.lines)
	return out
}

func testLogger() logger.Logger {
	return logger.CreateLoggerWithOutput("error", io.Discard)
}

func testRecipe(steps ...string) *types.Recipe {
	return &types.Recipe{Name: "demo", Version: "1.0", Steps: steps}
}

func TestRun_StepsInOrder(t *testing.T) {
	workdir := t.TempDir()
	r := runner.New(testLogger(), &memLogSink{}, nil)

	rec := testRecipe(
		"echo one > order.txt",
		"echo two >> order.txt",
	)
	if err := r.Run(context.Background(), rec, workdir); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(workdir, "order.txt"))
	if err != nil {
		t.Fatalf("output missing: %v", err)
	}
	if string(data) != "one\ntwo\n" {
		t.Errorf("steps ran out of order: %q", data)
	}
}

func TestRun_FirstFailureStops(t *testing.T) {
	workdir := t.TempDir()
	r := runner.New(testLogger(), &memLogSink{}, nil)

	rec := testRecipe(
		"touch before",
		"exit 3",
		"touch after",
	)
	err := r.Run(context.Background(), rec, workdir)
	if err == nil {
		t.Fatal("expected failure")
	}

	var stepErr *runner.BuildStepFailedError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected BuildStepFailedError, got %T: %v", err, err)
	}
	if stepErr.Index != 1 {
		t.Errorf("expected failing step index 1, got %d", stepErr.Index)
	}
	if stepErr.ExitStatus != 3 {
		t.Errorf("expected exit status 3, got %d", stepErr.ExitStatus)
	}

	if _, err := os.Stat(filepath.Join(workdir, "before")); err != nil {
		t.Error("step before the failure should have run")
	}
	if _, err := os.Stat(filepath.Join(workdir, "after")); !os.IsNotExist(err) {
		t.Error("no step after the failure may run")
	}
}

func TestRun_LaunchFailure(t *testing.T) {
	r := runner.New(testLogger(), &memLogSink{}, nil)

	err := r.Run(context.Background(), testRecipe("definitely-not-a-command-kiln"), t.TempDir())
	var launchErr *runner.ProcessLaunchError
	if !errors.As(err, &launchErr) {
		t.Fatalf("expected ProcessLaunchError, got %T: %v", err, err)
	}
}

func TestRun_OutputLinesTagged(t *testing.T) {
	sink := &memLogSink{}
	r := runner.New(testLogger(), sink, nil)

	rec := testRecipe(
		"echo hello from step zero",
		"echo oops >&2",
	)
	if err := r.Run(context.Background(), rec, t.TempDir()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	lines := sink.all()
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %v", lines)
	}
	if lines[0].Package != "demo" || lines[0].Step != 0 || lines[0].Line != "hello from step zero" {
		t.Errorf("unexpected first line: %+v", lines[0])
	}
	// stderr is merged into the same stream, tagged with its step.
	if lines[1].Step != 1 || lines[1].Line != "oops" {
		t.Errorf("unexpected second line: %+v", lines[1])
	}
}

func TestRun_EnvironmentVariables(t *testing.T) {
	workdir := t.TempDir()
	sink := &memLogSink{}
	r := runner.New(testLogger(), sink, nil)

	rec := testRecipe(`echo "$name-$version in $srcdir"`)
	rec.Env = map[string]string{"EXTRA": "custom"}
	rec.Steps = append(rec.Steps,
		`echo "extra=$EXTRA"`,
		`echo "makeflags=$MAKEFLAGS"`,
		`echo "dirs=$builddir:$pkgdir"`,
	)

	if err := r.Run(context.Background(), rec, workdir); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	lines := sink.all()
	if len(lines) != 4 {
		t.Fatalf("expected 4 log lines, got %v", lines)
	}
	if lines[0].Line != "demo-1.0 in "+workdir {
		t.Errorf("name/version/srcdir not in environment: %q", lines[0].Line)
	}
	if lines[1].Line != "extra=custom" {
		t.Errorf("recipe env not passed through: %q", lines[1].Line)
	}
	if !strings.HasPrefix(lines[2].Line, "makeflags=-j") {
		t.Errorf("MAKEFLAGS not set: %q", lines[2].Line)
	}
	if lines[3].Line != "dirs="+workdir+":"+filepath.Join(workdir, "pkg") {
		t.Errorf("builddir/pkgdir not in environment: %q", lines[3].Line)
	}
	// The staging directory is created before the first step runs.
	if info, err := os.Stat(filepath.Join(workdir, "pkg")); err != nil || !info.IsDir() {
		t.Error("pkg staging directory missing")
	}
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := runner.New(testLogger(), &memLogSink{}, nil)
	err := r.Run(ctx, testRecipe("true"), t.TempDir())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRun_BuildEvents(t *testing.T) {
	events := &recordingSink{}
	r := runner.New(testLogger(), &memLogSink{}, events)

	rec := testRecipe("true", "true")
	if err := r.Run(context.Background(), rec, t.TempDir()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := events.all()
	// One event per step plus the completion event.
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %v", got)
	}
	if got[0].Phase != types.PhaseBuilding || got[0].Current != 0 || got[0].Total != 2 {
		t.Errorf("unexpected first event: %+v", got[0])
	}
	if got[2].Current != 2 {
		t.Errorf("expected final event at step total, got %+v", got[2])
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []types.ProgressEvent
}

func (r *recordingSink) Publish(event types.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingSink) all() []types.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.ProgressEvent, len(r.events))
	copy(out, r.events)
	return out
}
