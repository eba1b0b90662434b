// Package logger wires the process-wide structured loggers used by the
// AgentFi daemon. The default logger carries operational output; a separate
// audit logger records security and money-moving events (API access, nonce
// allocations, run failures) to a size-rotated file so operators can replay
// what the system did on chain.
package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Config describes how the application logger should behave.
type Config struct {
	Level       string
	Format      string
	OutputPaths []string
	Audit       AuditConfig
}

// AuditConfig controls audit log output behaviour.
type AuditConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	mu            sync.Mutex
	defaultLogger *slog.Logger
	auditLogger   *slog.Logger
	closers       []io.Closer
)

// Init configures the global logger instances. Calling it again replaces the
// configuration; earlier file handles stay registered for Sync.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	opts := &slog.HandlerOptions{Level: levelFromString(cfg.Level), AddSource: true}
	handler, err := newHandler(cfg.Format, cfg.OutputPaths, opts)
	if err != nil {
		return err
	}
	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)

	auditLogger = defaultLogger
	if cfg.Audit.Enabled {
		audit, err := newAuditLogger(cfg.Audit)
		if err != nil {
			return err
		}
		auditLogger = audit
	}
	return nil
}

// L returns the structured logger instance.
func L() *slog.Logger {
	mu.Lock()
	l := defaultLogger
	mu.Unlock()
	if l == nil {
		_ = Init(Config{})
		return L()
	}
	return l
}

// Audit returns the audit logger. It falls back to the default logger when
// no dedicated audit sink is configured, so audit events are never dropped.
func Audit() *slog.Logger {
	mu.Lock()
	l := auditLogger
	mu.Unlock()
	if l == nil {
		return L()
	}
	return l
}

// Named returns a child logger tagged with the component name. The tag is a
// flat attribute rather than a group so downstream log pipelines can filter
// on a single key.
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}

// Sync closes every file-backed output opened by Init.
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	var err error
	for _, closer := range closers {
		err = errors.Join(err, closer.Close())
	}
	closers = nil
	return err
}

func newHandler(format string, outputs []string, opts *slog.HandlerOptions) (slog.Handler, error) {
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	writers := make([]io.Writer, 0, len(outputs))
	for _, out := range outputs {
		writer, closer, err := resolveWriter(out)
		if err != nil {
			return nil, err
		}
		if closer != nil {
			closers = append(closers, closer)
		}
		writers = append(writers, writer)
	}

	writer := writers[0]
	if len(writers) > 1 {
		writer = io.MultiWriter(writers...)
	}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "text", "console":
		return slog.NewTextHandler(writer, opts), nil
	default:
		return slog.NewJSONHandler(writer, opts), nil
	}
}

func newAuditLogger(cfg AuditConfig) (*slog.Logger, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("audit log path cannot be empty when enabled")
	}

	writer, err := newRollingFile(cfg.Path, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
	if err != nil {
		return nil, err
	}
	closers = append(closers, writer)

	// Audit entries are always JSON and never filtered by level.
	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(handler), nil
}

func resolveWriter(path string) (io.Writer, io.Closer, error) {
	switch strings.ToLower(path) {
	case "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	case "discard":
		return io.Discard, nil, nil
	default:
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %s: %w", path, err)
		}
		return file, file, nil
	}
}

func levelFromString(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
