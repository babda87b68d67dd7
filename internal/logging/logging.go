// Package logging provides slog-based structured logging with per-component
// loggers and a root handler that can be reconfigured after startup.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// Field keys shared across components.
const (
	KeyComponent  = "component"
	KeyDurationMs = "durationMs"
	KeyError      = "error"
	KeyTick       = "tick"
)

// rootState is the process-wide output handler. The separate rootGen
// counter is bumped on every reconfiguration, so derived loggers know when
// their cached handler chain is stale.
type rootState struct {
	handler slog.Handler
}

var (
	root    atomic.Pointer[rootState]
	rootGen atomic.Uint64
)

func init() {
	root.Store(&rootState{
		handler: slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
	})
	slog.SetDefault(slog.New(&lazyHandler{}))
}

// lazyHandler defers to the current root handler, replaying its recorded
// WithAttrs/WithGroup calls on top of it in their original order. Loggers
// built before Init runs therefore pick up the configured format and level
// the moment it is installed. The derived chain is cached per root
// generation so steady-state logging does not rebuild it every record.
type lazyHandler struct {
	ops []func(slog.Handler) slog.Handler

	mu        sync.Mutex
	cached    slog.Handler
	cachedGen uint64
}

func (h *lazyHandler) resolve() slog.Handler {
	gen := rootGen.Load()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cached != nil && h.cachedGen == gen {
		return h.cached
	}

	built := root.Load().handler
	for _, op := range h.ops {
		built = op(built)
	}
	h.cached = built
	h.cachedGen = gen
	return built
}

// derive returns a new handler with one more recorded op. The parent's op
// list is never mutated, so siblings stay independent.
func (h *lazyHandler) derive(op func(slog.Handler) slog.Handler) slog.Handler {
	ops := make([]func(slog.Handler) slog.Handler, 0, len(h.ops)+1)
	ops = append(ops, h.ops...)
	ops = append(ops, op)
	return &lazyHandler{ops: ops}
}

func (h *lazyHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.resolve().Enabled(ctx, level)
}

func (h *lazyHandler) Handle(ctx context.Context, record slog.Record) error {
	return h.resolve().Handle(ctx, record)
}

func (h *lazyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.derive(func(base slog.Handler) slog.Handler { return base.WithAttrs(attrs) })
}

func (h *lazyHandler) WithGroup(name string) slog.Handler {
	return h.derive(func(base slog.Handler) slog.Handler { return base.WithGroup(name) })
}

// Init installs the configured output handler. Call once after config load.
// format: "json" or "text" (default "text")
// level: "debug", "info", "warn", "error" (default "info")
// output: writer to log to (nil = os.Stdout)
func Init(format, level string, output io.Writer) {
	if output == nil {
		output = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	root.Store(&rootState{handler: handler})
	rootGen.Add(1)
	slog.SetDefault(slog.New(&lazyHandler{}))
}

// L returns a logger tagged with the given component name.
func L(component string) *slog.Logger {
	tagged := (&lazyHandler{}).WithAttrs([]slog.Attr{slog.String(KeyComponent, component)})
	return slog.New(tagged)
}

type loggerKey struct{}

// NewContext returns a new context carrying the given logger.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext extracts the logger from context, falling back to the default.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
