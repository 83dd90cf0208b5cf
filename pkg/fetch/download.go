package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/kilnproject/kiln/pkg/logger"
	"github.com/kilnproject/kiln/pkg/recipe"
	"github.com/kilnproject/kiln/pkg/types"
)

const downloadBufSize = 128 * 1024

// acquireArchive downloads the source file, verifies its checksum when one
// is declared, and extracts it into dest.
func (a *SourceAcquirer) acquireArchive(ctx context.Context, pkg string, spec types.SourceSpec, dest string) error {
	filename, err := recipe.FileName(spec)
	if err != nil {
		return &DownloadError{URL: spec.URL, Err: err}
	}

	partial := filepath.Join(dest, "."+filename+".partial")
	if a.clobber {
		if err := os.Remove(partial); err != nil && !os.IsNotExist(err) {
			return &DownloadError{URL: spec.URL, Err: err}
		}
	}

	if err := a.download(ctx, pkg, spec.URL, partial); err != nil {
		return err
	}

	if spec.Checksum != "" {
		if err := verifyChecksum(partial, spec.URL, spec.Checksum); err != nil {
			// A corrupt partial must not poison the next attempt.
			os.Remove(partial)
			return err
		}
	} else {
		a.log.Debug("no checksum declared, integrity check skipped",
			logger.WithField("package", pkg),
			logger.WithField("url", spec.URL))
	}

	a.publish(pkg, types.PhaseExtracting, -1, -1, filename)
	if err := a.extract(partial, filename, dest); err != nil {
		return err
	}

	// The partial file is consumed by extraction (or renamed into place
	// for non-archive files); remove it if it is still around.
	os.Remove(partial)
	return nil
}

// download streams the URL into path. An existing partial file is resumed
// with an HTTP Range request when the server honors it.
func (a *SourceAcquirer) download(ctx context.Context, pkg, rawURL, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &DownloadError{URL: rawURL, Err: err}
	}

	var offset int64
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		offset = info.Size()
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return &DownloadError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	switch resp.StatusCode {
	case http.StatusPartialContent:
		flags |= os.O_APPEND
	case http.StatusOK:
		// Server ignored the Range request (or none was sent); start over.
		flags |= os.O_TRUNC
		offset = 0
	case http.StatusRequestedRangeNotSatisfiable:
		if offset > 0 {
			// The previous attempt already downloaded the whole file.
			return nil
		}
		return &DownloadError{URL: rawURL, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	default:
		return &DownloadError{URL: rawURL, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	total := int64(-1)
	if resp.ContentLength >= 0 {
		total = offset + resp.ContentLength
	}

	out, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return &DownloadError{URL: rawURL, Err: err}
	}
	defer out.Close()

	written := offset
	buf := make([]byte, downloadBufSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return &DownloadError{URL: rawURL, Err: werr}
			}
			written += int64(n)
			a.publish(pkg, types.PhaseFetching, written, total, filepath.Base(path))
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return &DownloadError{URL: rawURL, Err: rerr}
		}
	}

	return nil
}

func verifyChecksum(path, rawURL, want string) error {
	f, err := os.Open(path)
	if err != nil {
		return &DownloadError{URL: rawURL, Err: err}
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return &DownloadError{URL: rawURL, Err: err}
	}

	got := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(got, want) {
		return &IntegrityError{URL: rawURL, Want: strings.ToLower(want), Got: got}
	}
	return nil
}
