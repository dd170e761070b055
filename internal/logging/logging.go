// Package logging builds the process logger: a console handler on stderr
// fanned out with an optional JSON file handler.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	slogmulti "github.com/samber/slog-multi"
)

type config struct {
	debug   bool
	format  string
	console io.Writer
	file    io.Writer
	quiet   bool
}

// Option configures New.
type Option func(*config)

// WithDebug lowers the console level to debug and adds source locations.
func WithDebug(debug bool) Option {
	return func(c *config) { c.debug = debug }
}

// WithFormat sets the console format, "text" or "json".
func WithFormat(format string) Option {
	return func(c *config) { c.format = format }
}

// WithConsole replaces stderr as the console writer.
func WithConsole(w io.Writer) Option {
	return func(c *config) { c.console = w }
}

// WithFile adds a JSON handler that records everything at debug level.
func WithFile(w io.Writer) Option {
	return func(c *config) { c.file = w }
}

// WithQuiet drops the console handler.
func WithQuiet() Option {
	return func(c *config) { c.quiet = true }
}

// New builds a logger. Without debug the console only shows warnings and
// errors, so command output on stdout stays clean.
func New(opts ...Option) *slog.Logger {
	cfg := &config{format: "text", console: os.Stderr}
	for _, opt := range opts {
		opt(cfg)
	}

	level := slog.LevelWarn
	if cfg.debug {
		level = slog.LevelDebug
	}

	var handlers []slog.Handler
	if !cfg.quiet {
		handlers = append(handlers, newHandler(cfg.console, cfg.format, &slog.HandlerOptions{
			Level:     level,
			AddSource: cfg.debug,
		}))
	}
	if cfg.file != nil {
		handlers = append(handlers, &guardedHandler{
			handler: slog.NewJSONHandler(cfg.file, &slog.HandlerOptions{Level: slog.LevelDebug}),
			mu:      &sync.Mutex{},
		})
	}
	if len(handlers) == 0 {
		return slog.New(slog.DiscardHandler)
	}
	return slog.New(slogmulti.Fanout(handlers...))
}

// OpenFile opens (appending) the debug log file at path.
func OpenFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, nil
}

func newHandler(w io.Writer, format string, opts *slog.HandlerOptions) slog.Handler {
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

var _ slog.Handler = (*guardedHandler)(nil)

// guardedHandler serializes writes so lines from concurrent goroutines do
// not interleave in the log file. Derived handlers share the mutex.
type guardedHandler struct {
	handler slog.Handler
	mu      *sync.Mutex
}

func (h *guardedHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *guardedHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.handler.Handle(ctx, r)
}

func (h *guardedHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &guardedHandler{handler: h.handler.WithAttrs(attrs), mu: h.mu}
}

func (h *guardedHandler) WithGroup(name string) slog.Handler {
	return &guardedHandler{handler: h.handler.WithGroup(name), mu: h.mu}
}
