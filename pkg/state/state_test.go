package state_test

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kilnproject/kiln/pkg/logger"
	"github.com/kilnproject/kiln/pkg/state"
	"github.com/kilnproject/kiln/pkg/types"
)

func testLogger() logger.Logger {
	return logger.CreateLoggerWithOutput("error", io.Discard)
}

func sampleSummary() *types.SessionSummary {
	started := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	return &types.SessionSummary{
		SessionID: "3f2a7c1e-test",
		Started:   started,
		Finished:  started.Add(90 * time.Second),
		Results: map[string]types.PackageResult{
			"zlib": {Name: "zlib", Status: types.StatusSucceeded, Duration: 30 * time.Second},
			"curl": {Name: "curl", Status: types.StatusFailed, Error: "step 1 failed", Duration: 60 * time.Second},
			"app":  {Name: "app", Status: types.StatusSkipped, Cause: "curl"},
		},
	}
}

func TestWriteSummary_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := state.NewStore(dir, testLogger())

	summary := sampleSummary()
	path, err := store.WriteSummary(summary)
	if err != nil {
		t.Fatalf("WriteSummary failed: %v", err)
	}
	if filepath.Base(path) != "session-3f2a7c1e-test.json" {
		t.Errorf("unexpected summary path: %s", path)
	}

	loaded, err := state.ReadSummary(path)
	if err != nil {
		t.Fatalf("ReadSummary failed: %v", err)
	}
	if loaded.SessionID != summary.SessionID {
		t.Errorf("session ID mismatch: %s", loaded.SessionID)
	}
	if len(loaded.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(loaded.Results))
	}
	if r := loaded.Results["app"]; r.Status != types.StatusSkipped || r.Cause != "curl" {
		t.Errorf("skip cause lost in round trip: %+v", r)
	}
	if loaded.Succeeded() {
		t.Error("summary with failures must not report success")
	}
}

func TestWriteSummary_UpdatesLatest(t *testing.T) {
	dir := t.TempDir()
	store := state.NewStore(dir, testLogger())

	first := sampleSummary()
	first.SessionID = "first"
	if _, err := store.WriteSummary(first); err != nil {
		t.Fatalf("WriteSummary failed: %v", err)
	}

	second := sampleSummary()
	second.SessionID = "second"
	if _, err := store.WriteSummary(second); err != nil {
		t.Fatalf("WriteSummary failed: %v", err)
	}

	latest, err := state.ReadSummary(filepath.Join(dir, "session-latest.json"))
	if err != nil {
		t.Fatalf("ReadSummary failed: %v", err)
	}
	if latest.SessionID != "second" {
		t.Errorf("latest pointer not updated: %s", latest.SessionID)
	}
}

func TestWriteSummary_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	store := state.NewStore(dir, testLogger())

	if _, err := store.WriteSummary(sampleSummary()); err != nil {
		t.Fatalf("WriteSummary failed: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("log directory not created: %v", err)
	}
}

func TestWriteSummary_NoTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	store := state.NewStore(dir, testLogger())
	if _, err := store.WriteSummary(sampleSummary()); err != nil {
		t.Fatalf("WriteSummary failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestReadSummary_Missing(t *testing.T) {
	_, err := state.ReadSummary(filepath.Join(t.TempDir(), "absent.json"))
	if !os.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestSortedResults(t *testing.T) {
	results := state.SortedResults(sampleSummary())
	want := []string{"app", "curl", "zlib"}
	for i, name := range want {
		if results[i].Name != name {
			t.Fatalf("expected order %v, got %+v", want, results)
		}
	}
}
