// Package logging provides the process-wide structured logger.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	globalLogger *slog.Logger
	globalMu     sync.RWMutex

	// logWriter is the rotating file writer, if file logging is enabled.
	logWriter   io.WriteCloser
	logWriterMu sync.Mutex

	// allowedComponents is nil when every component is logged.
	allowedComponents map[string]bool
	componentsMu      sync.RWMutex
)

// FileConfig configures rotated file output.
type FileConfig struct {
	// Path is the log file path. Empty disables file logging.
	Path string
	// MaxSizeMB is the size at which the file is rotated. Default: 10MB
	MaxSizeMB int
	// MaxBackups is the number of rotated files kept. Default: 3
	MaxBackups int
	Compress   bool
}

// Config holds logging configuration.
type Config struct {
	// Level is the minimum level: debug, info, warn or error.
	Level string
	// File enables file output in addition to stderr.
	File *FileConfig
	// JSON switches to the JSON handler.
	JSON bool
	// Components restricts output to the listed components (empty means all).
	Components []string
	// Output overrides stderr, mostly for tests.
	Output io.Writer
}

// Initialize sets up the global logger and makes it the slog default.
func Initialize(cfg Config) error {
	level := ParseLevel(cfg.Level)

	componentsMu.Lock()
	if len(cfg.Components) > 0 {
		allowedComponents = make(map[string]bool, len(cfg.Components))
		for _, c := range cfg.Components {
			allowedComponents[c] = true
		}
	} else {
		allowedComponents = nil
	}
	componentsMu.Unlock()

	logWriterMu.Lock()
	defer logWriterMu.Unlock()

	var out io.Writer = os.Stderr
	if cfg.Output != nil {
		out = cfg.Output
	}

	if logWriter != nil {
		_ = logWriter.Close()
		logWriter = nil
	}
	if cfg.File != nil && cfg.File.Path != "" {
		maxSize := cfg.File.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 10
		}
		maxBackups := cfg.File.MaxBackups
		if maxBackups < 0 {
			maxBackups = 3
		}
		lj := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    maxSize, // megabytes
			MaxBackups: maxBackups,
			Compress:   cfg.File.Compress,
		}
		logWriter = lj
		out = io.MultiWriter(out, lj)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	logger := slog.New(handler)

	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()

	slog.SetDefault(logger)
	return nil
}

// Get returns the global logger, or slog.Default() before Initialize.
func Get() *slog.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()

	if globalLogger == nil {
		return slog.Default()
	}
	return globalLogger
}

// Close releases the log file, if any.
func Close() error {
	logWriterMu.Lock()
	defer logWriterMu.Unlock()

	if logWriter != nil {
		err := logWriter.Close()
		logWriter = nil
		if err != nil {
			return fmt.Errorf("failed to close log file: %w", err)
		}
	}
	return nil
}

// ParseLevel converts a level name to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isComponentAllowed(component string) bool {
	componentsMu.RLock()
	defer componentsMu.RUnlock()

	if allowedComponents == nil {
		return true
	}
	return allowedComponents[component]
}

// componentFilterHandler drops records of components that are filtered out.
type componentFilterHandler struct {
	inner     slog.Handler
	component string
}

func (h *componentFilterHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if !isComponentAllowed(h.component) {
		return false
	}
	return h.inner.Enabled(ctx, level)
}

func (h *componentFilterHandler) Handle(ctx context.Context, r slog.Record) error {
	if !isComponentAllowed(h.component) {
		return nil
	}
	return h.inner.Handle(ctx, r)
}

func (h *componentFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &componentFilterHandler{inner: h.inner.WithAttrs(attrs), component: h.component}
}

func (h *componentFilterHandler) WithGroup(name string) slog.Handler {
	return &componentFilterHandler{inner: h.inner.WithGroup(name), component: h.component}
}

// WithComponent returns a logger tagged with a component attribute.
func WithComponent(component string) *slog.Logger {
	base := Get()
	return slog.New(&componentFilterHandler{
		inner:     base.Handler().WithAttrs([]slog.Attr{slog.String("component", component)}),
		component: component,
	})
}

// Chat returns the logger for connection lifecycle and listener events.
func Chat() *slog.Logger {
	return WithComponent("chat")
}

// Transport returns the logger for dialing and framing.
func Transport() *slog.Logger {
	return WithComponent("transport")
}

// WithConnection returns a child logger that carries the connection id.
func WithConnection(base *slog.Logger, connID string) *slog.Logger {
	if base == nil {
		return nil
	}
	return base.With("conn_id", connID)
}
