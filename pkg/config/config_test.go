package config_test

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/kilnproject/kiln/pkg/config"
	"github.com/kilnproject/kiln/pkg/types"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadConfig_JSON(t *testing.T) {
	path := writeConfig(t, "kiln.config.json", `{
		"version": "1.0",
		"recipeDir": "recipes",
		"buildDir": "work",
		"maxConcurrency": 3,
		"cleanup": "always-remove",
		"phaseTimeoutSeconds": 600
	}`)

	mgr := config.NewManager()
	cfg, err := mgr.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.RecipeDir != "recipes" || cfg.BuildDir != "work" {
		t.Errorf("unexpected directories: %s %s", cfg.RecipeDir, cfg.BuildDir)
	}
	if cfg.MaxConcurrency != 3 {
		t.Errorf("expected maxConcurrency 3, got %d", cfg.MaxConcurrency)
	}
	if cfg.Cleanup != types.CleanupAlwaysRemove {
		t.Errorf("unexpected cleanup policy: %s", cfg.Cleanup)
	}
	if cfg.PhaseTimeoutDuration() != 10*time.Minute {
		t.Errorf("unexpected phase timeout: %s", cfg.PhaseTimeoutDuration())
	}
	// Unset fields fall back to defaults.
	if cfg.LogDir != "logs" {
		t.Errorf("expected default logDir, got %s", cfg.LogDir)
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	path := writeConfig(t, "kiln.config.yaml", `
version: "1.0"
recipeDir: ./pkgs
cleanup: always-keep
`)

	cfg, err := config.NewManager().LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.RecipeDir != "./pkgs" {
		t.Errorf("unexpected recipeDir: %s", cfg.RecipeDir)
	}
	if cfg.Cleanup != types.CleanupAlwaysKeep {
		t.Errorf("unexpected cleanup: %s", cfg.Cleanup)
	}
	if cfg.MaxConcurrency != runtime.NumCPU() {
		t.Errorf("expected default concurrency %d, got %d", runtime.NumCPU(), cfg.MaxConcurrency)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad-version.json": `{"version": "9.9"}`,
		"bad-jobs.json":    `{"version": "1.0", "maxConcurrency": -2}`,
		"bad-cleanup.json": `{"version": "1.0", "cleanup": "sometimes"}`,
		"bad-timeout.json": `{"version": "1.0", "phaseTimeoutSeconds": 0}`,
		"not-parseable":    `{{{`,
	}

	mgr := config.NewManager()
	for name, content := range cases {
		path := writeConfig(t, name, content)
		if _, err := mgr.LoadConfig(path); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := config.NewManager().LoadConfig("/nonexistent/kiln.json"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestDefault(t *testing.T) {
	cfg := config.Default()
	if err := config.NewManager().ValidateConfig(cfg); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
	if cfg.PhaseTimeoutDuration() != 0 {
		t.Errorf("expected no default phase timeout, got %s", cfg.PhaseTimeoutDuration())
	}
}
