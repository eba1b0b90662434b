package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	defaultMaxSizeMB  = 100
	defaultMaxBackups = 7
	defaultMaxAgeDays = 30
	backupTimeLayout  = "20060102-150405.000"
)

// rollingFile is an append-only log file that rolls over once it exceeds
// maxSize. Rolled files keep the base path plus a timestamp suffix and are
// pruned by count and age on every rotation.
type rollingFile struct {
	mu         sync.Mutex
	file       *os.File
	path       string
	maxSize    int64
	maxBackups int
	maxAge     time.Duration
	size       int64
}

func newRollingFile(path string, maxSizeMB, maxBackups, maxAgeDays int) (*rollingFile, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}
	if maxSizeMB <= 0 {
		maxSizeMB = defaultMaxSizeMB
	}
	if maxBackups <= 0 {
		maxBackups = defaultMaxBackups
	}
	if maxAgeDays <= 0 {
		maxAgeDays = defaultMaxAgeDays
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	return &rollingFile{
		path:       path,
		maxSize:    int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
		maxAge:     time.Duration(maxAgeDays) * 24 * time.Hour,
	}, nil
}

func (w *rollingFile) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.open(); err != nil {
		return 0, err
	}
	if w.size+int64(len(p)) > w.maxSize {
		if err := w.roll(); err != nil {
			return 0, err
		}
		if err := w.open(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *rollingFile) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	w.size = 0
	return err
}

func (w *rollingFile) open() error {
	if w.file != nil {
		return nil
	}
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("stat audit log: %w", err)
	}
	w.file = file
	w.size = info.Size()
	return nil
}

// roll renames the live file to a timestamped backup and prunes old backups.
func (w *rollingFile) roll() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	w.size = 0

	backup := fmt.Sprintf("%s.%s", w.path, time.Now().UTC().Format(backupTimeLayout))
	if _, err := os.Stat(w.path); err == nil {
		if err := os.Rename(w.path, backup); err != nil {
			return fmt.Errorf("rotate audit log: %w", err)
		}
	}

	w.prune()
	return nil
}

// prune drops the oldest backups beyond maxBackups and anything past maxAge.
// The timestamp suffix sorts lexically, so name order is age order.
func (w *rollingFile) prune() {
	matches, err := filepath.Glob(w.path + ".*")
	if err != nil || len(matches) == 0 {
		return
	}
	sort.Strings(matches)

	excess := len(matches) - w.maxBackups
	for i := 0; i < excess; i++ {
		_ = os.Remove(matches[i])
	}

	cutoff := time.Now().Add(-w.maxAge)
	for _, path := range matches[max(excess, 0):] {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(path)
		}
	}
}
