// Package types provides core types and configurations for Kiln
package types

import (
	"fmt"
	"time"
)

// SourceKind distinguishes the origin of a source unit
type SourceKind string

const (
	SourceKindVCS     SourceKind = "vcs"
	SourceKindArchive SourceKind = "archive"
)

// SourceSpec represents one unit of source material for a package.
// Exactly one interpretation applies depending on Kind: a version-control
// clone checked out at Reference, or a downloadable file with an optional
// SHA-256 checksum.
type SourceSpec struct {
	Kind      SourceKind `json:"kind" yaml:"kind"`
	URL       string     `json:"url" yaml:"url"`
	Reference string     `json:"reference,omitempty" yaml:"reference,omitempty"`
	Checksum  string     `json:"checksum,omitempty" yaml:"checksum,omitempty"`
}

// String returns a short human-readable description of the source
func (s SourceSpec) String() string {
	if s.Kind == SourceKindVCS && s.Reference != "" {
		return fmt.Sprintf("%s@%s", s.URL, s.Reference)
	}
	return s.URL
}

// Recipe is the declarative description of one buildable package.
// Recipes are immutable after load.
type Recipe struct {
	Name         string            `json:"name" yaml:"name"`
	Version      string            `json:"version" yaml:"version"`
	Description  string            `json:"description,omitempty" yaml:"description,omitempty"`
	License      []string          `json:"license,omitempty" yaml:"license,omitempty"`
	Sources      []SourceSpec      `json:"sources" yaml:"sources"`
	Steps        []string          `json:"steps" yaml:"steps"`
	Dependencies []string          `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Env          map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// PackageStatus represents a package's position in the scheduler state machine
type PackageStatus string

const (
	StatusPending   PackageStatus = "pending"
	StatusReady     PackageStatus = "ready"
	StatusFetching  PackageStatus = "fetching"
	StatusBuilding  PackageStatus = "building"
	StatusSucceeded PackageStatus = "succeeded"
	StatusFailed    PackageStatus = "failed"
	StatusSkipped   PackageStatus = "skipped"
)

// Terminal reports whether the status is final for the session
func (s PackageStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// Phase classifies progress events emitted while a package is processed
type Phase string

const (
	PhaseQueued     Phase = "queued"
	PhaseFetching   Phase = "fetching"
	PhaseExtracting Phase = "extracting"
	PhaseBuilding   Phase = "building"
	PhaseDone       Phase = "done"
	PhaseFailed     Phase = "failed"
)

// ProgressEvent is an immutable value describing one package's progress.
// Current/Total carry bytes for fetch phases and step counts for builds;
// both are -1 when no numeric progress is known.
type ProgressEvent struct {
	Package   string    `json:"package"`
	Phase     Phase     `json:"phase"`
	Current   int64     `json:"current"`
	Total     int64     `json:"total"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// LogLine is one line of combined build output, tagged with its origin
type LogLine struct {
	Package string    `json:"package"`
	Step    int       `json:"step"`
	Line    string    `json:"line"`
	Time    time.Time `json:"time"`
}

// PackageResult is the terminal outcome recorded for one package
type PackageResult struct {
	Name     string        `json:"name"`
	Status   PackageStatus `json:"status"`
	Error    string        `json:"error,omitempty"`
	Cause    string        `json:"cause,omitempty"` // failed ancestor for skipped packages
	Duration time.Duration `json:"duration"`
}

// SessionSummary maps every package to its terminal result
type SessionSummary struct {
	SessionID string                   `json:"sessionId"`
	Started   time.Time                `json:"started"`
	Finished  time.Time                `json:"finished"`
	Results   map[string]PackageResult `json:"results"`
}

// Succeeded reports whether every package in the session succeeded
func (s *SessionSummary) Succeeded() bool {
	for _, r := range s.Results {
		if r.Status != StatusSucceeded {
			return false
		}
	}
	return true
}

// Counts returns the number of succeeded, failed and skipped packages
func (s *SessionSummary) Counts() (succeeded, failed, skipped int) {
	for _, r := range s.Results {
		switch r.Status {
		case StatusSucceeded:
			succeeded++
		case StatusFailed:
			failed++
		case StatusSkipped:
			skipped++
		}
	}
	return
}

// CleanupPolicy controls what happens to a package working directory
// once its task reaches a terminal state
type CleanupPolicy string

const (
	CleanupKeepOnFailure CleanupPolicy = "keep-on-failure"
	CleanupAlwaysKeep    CleanupPolicy = "always-keep"
	CleanupAlwaysRemove  CleanupPolicy = "always-remove"
)

// NotificationConfig controls desktop notifications
type NotificationConfig struct {
	Enabled      *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	SuccessSound string `json:"successSound,omitempty" yaml:"successSound,omitempty"`
	FailureSound string `json:"failureSound,omitempty" yaml:"failureSound,omitempty"`
}

// KilnConfig is the top-level session configuration
type KilnConfig struct {
	Version        string              `json:"version" yaml:"version"`
	RecipeDir      string              `json:"recipeDir,omitempty" yaml:"recipeDir,omitempty"`
	BuildDir       string              `json:"buildDir,omitempty" yaml:"buildDir,omitempty"`
	LogDir         string              `json:"logDir,omitempty" yaml:"logDir,omitempty"`
	MaxConcurrency int                 `json:"maxConcurrency,omitempty" yaml:"maxConcurrency,omitempty"`
	Cleanup        CleanupPolicy       `json:"cleanup,omitempty" yaml:"cleanup,omitempty"`
	PhaseTimeout   *int                `json:"phaseTimeoutSeconds,omitempty" yaml:"phaseTimeoutSeconds,omitempty"`
	Clobber        bool                `json:"clobber,omitempty" yaml:"clobber,omitempty"`
	Notifications  *NotificationConfig `json:"notifications,omitempty" yaml:"notifications,omitempty"`
}

// PhaseTimeoutDuration returns the configured per-phase timeout,
// or zero when none is set
func (c *KilnConfig) PhaseTimeoutDuration() time.Duration {
	if c.PhaseTimeout == nil {
		return 0
	}
	return time.Duration(*c.PhaseTimeout) * time.Second
}
