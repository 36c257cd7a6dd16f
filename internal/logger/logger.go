// Package logger provides the zerolog-based logging used across every
// component of the pipeline.
package logger

import (
	"context"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// LogFormat selects the console or JSON zerolog writer.
type LogFormat string

const (
	FormatJSON    LogFormat = "json"
	FormatConsole LogFormat = "console"
)

// ParseLogFormat parses a string into a LogFormat, defaulting to JSON.
func ParseLogFormat(s string) LogFormat {
	switch s {
	case "console":
		return FormatConsole
	case "json":
		return FormatJSON
	default:
		return FormatJSON
	}
}

// Config configures the global logger.
type Config struct {
	Level      string
	Format     LogFormat
	Output     io.Writer
	TimeFormat string
}

// Logger wraps zerolog.Logger so call sites use the familiar chained API
// (log.Info().Str(...).Msg(...)) throughout the codebase.
type Logger struct {
	zerolog.Logger
}

var (
	global Logger
	once   sync.Once
)

// Setup initializes the global logger. Safe to call once at process start;
// subsequent calls are ignored (use ForceSetup in tests).
func Setup(cfg Config) {
	once.Do(func() {
		global = build(cfg)
	})
}

// ForceSetup reinitializes the global logger regardless of prior Setup calls.
// Intended for tests and for re-configuring after config load.
func ForceSetup(cfg Config) {
	once.Do(func() {})
	global = build(cfg)
}

// Get returns the global logger, initializing it with sane defaults if Setup
// was never called.
func Get() *Logger {
	once.Do(func() {
		global = build(Config{Level: "info", Format: FormatJSON})
	})
	return &global
}

func build(cfg Config) Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	format := cfg.Format
	if format == "" {
		format = autoDetectFormat(out)
	}

	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339
	}

	var zl zerolog.Logger
	if format == FormatConsole {
		zl = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: timeFormat})
	} else {
		zl = zerolog.New(out)
	}

	zl = zl.Level(level).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(level)

	return Logger{Logger: zl}
}

// autoDetectFormat picks console output for an interactive terminal and JSON
// otherwise, matching the teacher's CLI default.
func autoDetectFormat(out io.Writer) LogFormat {
	if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return FormatConsole
	}
	return FormatJSON
}

type ctxKey struct{}

// WithContext attaches a logger to ctx.
func WithContext(ctx context.Context, l *Logger) context.Context {
	if l == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext retrieves the logger attached to ctx, or the global logger.
func FromContext(ctx context.Context) *Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
			return l
		}
	}
	return Get()
}

// With returns a child logger carrying the given component name, the
// convention every adapter and orchestrator in this repo follows.
func (l *Logger) With(component string) *Logger {
	child := l.Logger.With().Str("component", component).Logger()
	return &Logger{Logger: child}
}

type requestIDKey struct{}

// WithRequestID attaches a correlation ID (a batch-run UUID) to ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// HTTPMiddleware logs each request handled by the optional debug server.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		evt := Get().Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", rec.status).
			Dur("duration", time.Since(start))
		if id, ok := r.Context().Value(requestIDKey{}).(string); ok && id != "" {
			evt = evt.Str("request_id", id)
		}
		evt.Msg("http request")
	})
}
