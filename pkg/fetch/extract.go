package fetch

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"
)

// extract unpacks src (downloaded as filename) into dest. The supported
// format set is open: tar with gzip/bzip2/xz compression, plain tar, zip,
// and bare compressed files. An unrecognized format is not an error; the
// download is moved into dest as a single file.
func (a *SourceAcquirer) extract(src, filename, dest string) error {
	switch {
	case hasSuffix(filename, ".tar.gz", ".tgz"):
		return a.extractTar(src, dest, func(r io.Reader) (io.Reader, error) {
			return gzip.NewReader(r)
		})
	case hasSuffix(filename, ".tar.bz2", ".tbz", ".tbz2"):
		return a.extractTar(src, dest, func(r io.Reader) (io.Reader, error) {
			return bzip2.NewReader(r), nil
		})
	case hasSuffix(filename, ".tar.xz", ".txz"):
		return a.extractTar(src, dest, func(r io.Reader) (io.Reader, error) {
			return xz.NewReader(r)
		})
	case hasSuffix(filename, ".tar"):
		return a.extractTar(src, dest, func(r io.Reader) (io.Reader, error) {
			return r, nil
		})
	case hasSuffix(filename, ".zip"):
		return a.extractZip(src, dest)
	case hasSuffix(filename, ".gz"):
		return a.decompressFile(src, filepath.Join(dest, strings.TrimSuffix(filename, ".gz")),
			func(r io.Reader) (io.Reader, error) { return gzip.NewReader(r) })
	case hasSuffix(filename, ".xz"):
		return a.decompressFile(src, filepath.Join(dest, strings.TrimSuffix(filename, ".xz")),
			func(r io.Reader) (io.Reader, error) { return xz.NewReader(r) })
	case hasSuffix(filename, ".bz2"):
		return a.decompressFile(src, filepath.Join(dest, strings.TrimSuffix(filename, ".bz2")),
			func(r io.Reader) (io.Reader, error) { return bzip2.NewReader(r), nil })
	default:
		// Not an archive we recognize; keep the file itself.
		if err := os.Rename(src, filepath.Join(dest, filename)); err != nil {
			return &ExtractionError{File: filename, Err: err}
		}
		return nil
	}
}

type decompressor func(io.Reader) (io.Reader, error)

func (a *SourceAcquirer) extractTar(src, dest string, wrap decompressor) error {
	f, err := os.Open(src)
	if err != nil {
		return &ExtractionError{File: src, Err: err}
	}
	defer f.Close()

	r, err := wrap(f)
	if err != nil {
		return &ExtractionError{File: src, Err: err}
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &ExtractionError{File: src, Err: err}
		}

		target, err := securePath(dest, hdr.Name)
		if err != nil {
			return &ExtractionError{File: src, Err: err}
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)|0o700); err != nil {
				return &ExtractionError{File: src, Err: err}
			}
		case tar.TypeReg:
			if err := writeFileFrom(target, tr, os.FileMode(hdr.Mode)); err != nil {
				return &ExtractionError{File: src, Err: err}
			}
		case tar.TypeSymlink:
			os.Remove(target)
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return &ExtractionError{File: src, Err: err}
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return &ExtractionError{File: src, Err: err}
			}
		case tar.TypeLink:
			linkTarget, err := securePath(dest, hdr.Linkname)
			if err != nil {
				return &ExtractionError{File: src, Err: err}
			}
			os.Remove(target)
			if err := os.Link(linkTarget, target); err != nil {
				return &ExtractionError{File: src, Err: err}
			}
		default:
			// Device nodes and the like are skipped; build trees do not
			// need them and creating them requires privileges.
		}
	}
}

func (a *SourceAcquirer) extractZip(src, dest string) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return &ExtractionError{File: src, Err: err}
	}
	defer zr.Close()

	for _, f := range zr.File {
		target, err := securePath(dest, f.Name)
		if err != nil {
			return &ExtractionError{File: src, Err: err}
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, f.Mode()|0o700); err != nil {
				return &ExtractionError{File: src, Err: err}
			}
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return &ExtractionError{File: src, Err: err}
		}
		err = writeFileFrom(target, rc, f.Mode())
		rc.Close()
		if err != nil {
			return &ExtractionError{File: src, Err: err}
		}
	}
	return nil
}

func (a *SourceAcquirer) decompressFile(src, target string, wrap decompressor) error {
	f, err := os.Open(src)
	if err != nil {
		return &ExtractionError{File: src, Err: err}
	}
	defer f.Close()

	r, err := wrap(f)
	if err != nil {
		return &ExtractionError{File: src, Err: err}
	}
	if err := writeFileFrom(target, r, 0o644); err != nil {
		return &ExtractionError{File: src, Err: err}
	}
	return nil
}

func writeFileFrom(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode|0o200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// securePath joins name under dest, rejecting entries that would escape it
func securePath(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.Clean("/"+name))
	if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) && target != filepath.Clean(dest) {
		return "", fmt.Errorf("archive entry %q escapes destination", name)
	}
	return target, nil
}

func hasSuffix(name string, suffixes ...string) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}
