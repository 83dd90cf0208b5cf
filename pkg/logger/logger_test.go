package logger_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/kilnproject/kiln/pkg/logger"
)

func TestLogger_MessageAndFields(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("debug", &buf)

	log.Info("fetching sources", logger.WithField("url", "https://example.com"))

	out := buf.String()
	if !strings.Contains(out, "INFO") {
		t.Errorf("missing level: %q", out)
	}
	if !strings.Contains(out, "fetching sources") {
		t.Errorf("missing message: %q", out)
	}
	if !strings.Contains(out, "url=https://example.com") {
		t.Errorf("missing field: %q", out)
	}
}

func TestLogger_FieldsAreSorted(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("info", &buf)

	log.Info("msg",
		logger.WithField("zeta", 1),
		logger.WithField("alpha", 2))

	out := buf.String()
	if strings.Index(out, "alpha=") > strings.Index(out, "zeta=") {
		t.Errorf("fields not sorted: %q", out)
	}
}

func TestLogger_WithPackage(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("info", &buf)

	log.WithPackage("curl").Info("building")

	out := buf.String()
	if !strings.Contains(out, "[curl]") {
		t.Errorf("missing package prefix: %q", out)
	}
	// The package name renders as a prefix, not as a trailing field.
	if strings.Contains(out, "package=") {
		t.Errorf("package leaked into fields: %q", out)
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("warn", &buf)

	log.Debug("hidden")
	log.Info("also hidden")
	log.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("low-severity output not filtered: %q", out)
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("warning missing: %q", out)
	}
}

func TestLogger_InvalidLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("shouting", &buf)

	log.Debug("hidden")
	log.Info("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("unexpected filtering at default level: %q", out)
	}
}

func TestLogger_Success(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("info", &buf)

	log.Success("package built")
	if !strings.Contains(buf.String(), "package built") {
		t.Errorf("missing success message: %q", buf.String())
	}
}
