package telemetry

import (
	"context"
	"io"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// Level mirrors zerolog's level names so callers don't need to import
// zerolog directly.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

const (
	MaxFields = 64
	MaxKeyLen = 64
	MaxValLen = 512
)

// Options configures the logger.
type Options struct {
	Service string
	Level   Level
}

// Logger is a structured logger backed by zerolog. It keeps the bounded,
// deterministic field-merging discipline of the pipeline's earlier
// hand-rolled logger, but delegates encoding/writing to zerolog.
type Logger struct {
	zl zerolog.Logger
}

// Nop discards all output.
var Nop = NewLogger(io.Discard, Options{Level: LevelError})

func zlevel(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a logger writing JSON lines to w.
func NewLogger(w io.Writer, opt Options) *Logger {
	service := strings.TrimSpace(opt.Service)
	if opt.Level == "" {
		opt.Level = LevelInfo
	}
	zl := zerolog.New(w).With().Timestamp().Logger().Level(zlevel(opt.Level))
	if service != "" {
		zl = zl.With().Str("service", service).Logger()
	}
	return &Logger{zl: zl}
}

// NewDefaultLogger returns an info-level logger with timestamps enabled.
func NewDefaultLogger(w io.Writer, service string) *Logger {
	return NewLogger(w, Options{Service: service, Level: LevelInfo})
}

func (l *Logger) Debug(ctx context.Context, msg string, fields map[string]any) {
	l.log(ctx, zerolog.DebugLevel, msg, fields)
}
func (l *Logger) Info(ctx context.Context, msg string, fields map[string]any) {
	l.log(ctx, zerolog.InfoLevel, msg, fields)
}
func (l *Logger) Warn(ctx context.Context, msg string, fields map[string]any) {
	l.log(ctx, zerolog.WarnLevel, msg, fields)
}
func (l *Logger) Error(ctx context.Context, msg string, fields map[string]any) {
	l.log(ctx, zerolog.ErrorLevel, msg, fields)
}

// With returns a child logger carrying the given static fields on every
// subsequent line (e.g. source_id, envelope_id, run_id).
func (l *Logger) With(fields map[string]string) *Logger {
	if l == nil {
		return l
	}
	ctx := l.zl.With()
	keys := sortedKeys(fields)
	for _, k := range keys {
		ctx = ctx.Str(k, sanitize(fields[k], MaxValLen))
	}
	return &Logger{zl: ctx.Logger()}
}

func (l *Logger) log(ctx context.Context, level zerolog.Level, msg string, fields map[string]any) {
	if l == nil {
		return
	}
	ev := l.zl.WithLevel(level)
	if v, ok := ctx.Value(ctxKeyRunID{}).(string); ok && v != "" {
		ev = ev.Str("run_id", v)
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	n := 0
	for _, k := range keys {
		if n >= MaxFields {
			ev = ev.Bool("log_truncated", true)
			break
		}
		k2 := strings.TrimSpace(k)
		if k2 == "" || len(k2) > MaxKeyLen {
			continue
		}
		ev = ev.Interface(k2, boundAny(fields[k]))
		n++
	}
	ev.Msg(sanitize(msg, 1024))
}

type ctxKeyRunID struct{}

// ContextWithRunID attaches a ProcessRun id for log enrichment.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, ctxKeyRunID{}, runID)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sanitize(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) > max {
		s = s[:max]
	}
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

// boundAny truncates string values; other types pass through to zerolog's
// own encoder.
func boundAny(v any) any {
	if s, ok := v.(string); ok {
		return sanitize(s, MaxValLen)
	}
	return v
}
