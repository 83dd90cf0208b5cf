// Package fetch acquires package source material from version-control
// and HTTP origins and unpacks it into per-package working directories
package fetch

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/kilnproject/kiln/pkg/interfaces"
	"github.com/kilnproject/kiln/pkg/logger"
	"github.com/kilnproject/kiln/pkg/types"
)

// DownloadError reports an HTTP transport failure for one source
type DownloadError struct {
	URL string
	Err error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("failed to download %q: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// VCSError reports a version-control transport or protocol failure
type VCSError struct {
	URL string
	Err error
}

func (e *VCSError) Error() string {
	return fmt.Sprintf("failed to fetch %q: %v", e.URL, e.Err)
}

func (e *VCSError) Unwrap() error { return e.Err }

// ReferenceNotFoundError reports a reference that does not resolve in the
// fetched repository
type ReferenceNotFoundError struct {
	URL       string
	Reference string
}

func (e *ReferenceNotFoundError) Error() string {
	return fmt.Sprintf("reference %q not found in %q", e.Reference, e.URL)
}

// IntegrityError reports a checksum mismatch on a downloaded file
type IntegrityError struct {
	URL  string
	Want string
	Got  string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("checksum mismatch for %q: want sha256:%s, got sha256:%s", e.URL, e.Want, e.Got)
}

// ExtractionError reports a malformed or unreadable archive
type ExtractionError struct {
	File string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("could not extract %q: %v", e.File, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Options configures a SourceAcquirer
type Options struct {
	// Client is the HTTP client for archive downloads; http.DefaultClient
	// when nil.
	Client *http.Client
	// Clobber discards any partially downloaded or previously fetched
	// state instead of resuming it.
	Clobber bool
	// GitBinary overrides the git executable name, mainly for tests.
	GitBinary string
}

// SourceAcquirer implements interfaces.Acquirer. One acquirer is shared by
// all worker slots; all per-package state lives in the destination
// directory, which is exclusively owned by the calling task.
type SourceAcquirer struct {
	client  *http.Client
	log     logger.Logger
	sink    interfaces.EventSink
	clobber bool
	git     string
}

// New creates a SourceAcquirer
func New(log logger.Logger, sink interfaces.EventSink, opts Options) *SourceAcquirer {
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	git := opts.GitBinary
	if git == "" {
		git = "git"
	}
	if sink == nil {
		sink = nullSink{}
	}
	return &SourceAcquirer{
		client:  client,
		log:     log,
		sink:    sink,
		clobber: opts.Clobber,
		git:     git,
	}
}

type nullSink struct{}

func (nullSink) Publish(types.ProgressEvent) {}

// Acquire places the unpacked contents of one source into dest. Files from
// a later source of the same package may overwrite an earlier one's;
// nothing outside dest is ever touched.
func (a *SourceAcquirer) Acquire(ctx context.Context, pkg string, spec types.SourceSpec, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("could not create directory %q: %w", dest, err)
	}

	switch spec.Kind {
	case types.SourceKindVCS:
		return a.acquireGit(ctx, pkg, spec, dest)
	case types.SourceKindArchive:
		return a.acquireArchive(ctx, pkg, spec, dest)
	default:
		return fmt.Errorf("unknown source kind %q", spec.Kind)
	}
}

func (a *SourceAcquirer) publish(pkg string, phase types.Phase, current, total int64, msg string) {
	a.sink.Publish(types.ProgressEvent{
		Package:   pkg,
		Phase:     phase,
		Current:   current,
		Total:     total,
		Message:   msg,
		Timestamp: time.Now(),
	})
}
