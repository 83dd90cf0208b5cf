// Package state persists session summaries for post-build review
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/kilnproject/kiln/pkg/logger"
	"github.com/kilnproject/kiln/pkg/types"
)

// Store writes session summaries under a log directory. Writes are
// atomic: a temp file in the same directory is renamed into place, so a
// crash never leaves a half-written summary behind.
type Store struct {
	dir    string
	logger logger.Logger
}

// NewStore creates a summary store rooted at dir
func NewStore(dir string, log logger.Logger) *Store {
	return &Store{dir: dir, logger: log}
}

// WriteSummary persists the summary as <logdir>/session-<id>.json and
// refreshes the session-latest.json convenience link. Returns the path
// of the written summary.
func (s *Store) WriteSummary(summary *types.SessionSummary) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating log directory: %w", err)
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding summary: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(s.dir, "session-"+summary.SessionID+".json")
	if err := writeAtomic(path, data); err != nil {
		return "", err
	}

	latest := filepath.Join(s.dir, "session-latest.json")
	if err := writeAtomic(latest, data); err != nil {
		s.logger.Warn("could not update latest session pointer",
			logger.WithField("error", err))
	}

	return path, nil
}

// ReadSummary loads a previously written summary
func ReadSummary(path string) (*types.SessionSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var summary types.SessionSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("decoding summary %s: %w", path, err)
	}
	return &summary, nil
}

// SortedResults returns the summary's results ordered by package name,
// for stable rendering
func SortedResults(summary *types.SessionSummary) []types.PackageResult {
	out := make([]types.PackageResult, 0, len(summary.Results))
	for _, r := range summary.Results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}
