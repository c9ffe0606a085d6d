package storage

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Storage publishes finished videos into a durable output directory and owns
// their retention. Workers render into run-scoped temp directories that are
// wiped after every run; only published artifacts survive.
type Storage struct {
	dir string
}

func New(dir string) (*Storage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	return &Storage{dir: dir}, nil
}

// FinalPath returns the canonical artifact path for a run.
func (s *Storage) FinalPath(runID uuid.UUID) string {
	return filepath.Join(s.dir, fmt.Sprintf("run_%s.mp4", runID))
}

// Publish moves a rendered video from its temp location to the artifact path.
// Rename first; fall back to copy when the temp dir sits on another
// filesystem.
func (s *Storage) Publish(srcPath string, runID uuid.UUID) (string, error) {
	dst := s.FinalPath(runID)

	if err := os.Rename(srcPath, dst); err == nil {
		return dst, nil
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("failed to open rendered video: %w", err)
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("failed to create artifact: %w", err)
	}

	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(dst)
		return "", fmt.Errorf("failed to copy artifact: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("failed to finalize artifact: %w", err)
	}

	os.Remove(srcPath)
	return dst, nil
}

// Open returns a reader for a published artifact, for download handlers.
func (s *Storage) Open(runID uuid.UUID) (*os.File, error) {
	f, err := os.Open(s.FinalPath(runID))
	if err != nil {
		return nil, fmt.Errorf("artifact not found: %w", err)
	}
	return f, nil
}

// Sweep deletes artifacts older than maxAge. Best-effort; errors are logged
// and the sweep continues.
func (s *Storage) Sweep(maxAge time.Duration) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		log.Printf("[Storage] Sweep failed to read dir: %v", err)
		return 0
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "run_") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			log.Printf("[Storage] Sweep failed to remove %s: %v", entry.Name(), err)
			continue
		}
		removed++
	}
	return removed
}
