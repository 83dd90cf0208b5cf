package fetch

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/kilnproject/kiln/pkg/logger"
	"github.com/kilnproject/kiln/pkg/types"
)

// acquireGit clones the repository into a directory named after it inside
// dest, or refreshes an existing working copy (the retry/resume case),
// then checks out the requested reference.
func (a *SourceAcquirer) acquireGit(ctx context.Context, pkg string, spec types.SourceSpec, dest string) error {
	name, err := repoDirName(spec.URL)
	if err != nil {
		return &VCSError{URL: spec.URL, Err: err}
	}
	repoDir := filepath.Join(dest, name)

	a.publish(pkg, types.PhaseFetching, -1, -1, "cloning "+spec.URL)

	if a.clobber {
		if err := os.RemoveAll(repoDir); err != nil {
			return &VCSError{URL: spec.URL, Err: err}
		}
	}

	if isWorkingCopy(repoDir) {
		a.log.Debug("refreshing existing working copy",
			logger.WithField("package", pkg),
			logger.WithField("dir", repoDir))
		if err := a.runGit(ctx, repoDir, "fetch", "--tags", "origin"); err != nil {
			return &VCSError{URL: spec.URL, Err: err}
		}
	} else {
		if err := os.RemoveAll(repoDir); err != nil {
			return &VCSError{URL: spec.URL, Err: err}
		}
		if err := a.runGit(ctx, dest, "clone", spec.URL, repoDir); err != nil {
			return &VCSError{URL: spec.URL, Err: err}
		}
	}

	if spec.Reference == "" {
		return nil
	}

	// The reference must resolve to a commit before checkout so that a
	// missing tag/branch surfaces as ReferenceNotFound, not a generic
	// checkout failure.
	if err := a.runGit(ctx, repoDir, "rev-parse", "--verify", "--quiet", spec.Reference+"^{commit}"); err != nil {
		if ctx.Err() != nil {
			return &VCSError{URL: spec.URL, Err: err}
		}
		return &ReferenceNotFoundError{URL: spec.URL, Reference: spec.Reference}
	}
	if err := a.runGit(ctx, repoDir, "checkout", "--detach", "--force", spec.Reference); err != nil {
		return &VCSError{URL: spec.URL, Err: err}
	}
	return nil
}

func (a *SourceAcquirer) runGit(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, a.git, args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		// A cancelled context kills the subprocess; report the
		// cancellation, not the resulting signal exit.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := strings.TrimSpace(out.String())
		if msg == "" {
			return fmt.Errorf("git %s: %w", args[0], err)
		}
		return fmt.Errorf("git %s: %w: %s", args[0], err, msg)
	}
	return nil
}

func isWorkingCopy(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil && info.IsDir()
}

// repoDirName derives the checkout directory name from the repository URL
func repoDirName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	name := strings.TrimSuffix(filepath.Base(u.Path), ".git")
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("could not derive directory name from %q", rawURL)
	}
	return name, nil
}
