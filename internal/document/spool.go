package document

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Spool stages submitted PDFs on disk for the rasterizer. Files are removed
// when their job finishes; Sweep reclaims whatever a crash left behind.
type Spool struct {
	dir string
}

// NewSpool creates the spool directory if needed.
func NewSpool(dir string) (*Spool, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create spool dir %s: %w", dir, err)
	}
	return &Spool{dir: dir}, nil
}

// Put writes the document under a job-scoped name and returns its path.
func (s *Spool) Put(jobID uuid.UUID, data []byte) (string, error) {
	path := filepath.Join(s.dir, fmt.Sprintf("%s.pdf", jobID))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("spool %s: %w", path, err)
	}
	return path, nil
}

// Remove deletes a spooled file. Missing files are not an error.
func (s *Spool) Remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("remove spooled file failed", "path", path, "error", err)
	}
}

// Sweep removes spooled files whose modification time is older than age and
// returns how many were reclaimed. Run periodically by the janitor.
func (s *Spool) Sweep(age time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read spool dir %s: %w", s.dir, err)
	}

	cutoff := time.Now().Add(-age)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			slog.Warn("sweep: remove failed", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
