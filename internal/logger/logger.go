package logger

import (
	"context"
	"io"
	"log"
	"os"
	"strings"
)

// Logger is the leveled printf-style logger passed through the pipeline.
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)
}

var levels = map[string]int{
	"debug": 0,
	"info":  1,
	"warn":  2,
	"error": 3,
}

type implLogger struct {
	logger *log.Logger
	level  int
}

// New creates a Logger writing to stdout. Unknown levels fall back to info.
func New(level string) Logger {
	return NewWithWriter(os.Stdout, level)
}

func NewWithWriter(w io.Writer, level string) Logger {
	lv, ok := levels[strings.ToLower(strings.TrimSpace(level))]
	if !ok {
		lv = levels["info"]
	}
	return &implLogger{
		logger: log.New(w, "", log.LstdFlags),
		level:  lv,
	}
}

// Nop discards everything.
func Nop() Logger {
	return NewWithWriter(io.Discard, "error")
}

func (l *implLogger) shouldLog(level string) bool {
	target, ok := levels[level]
	if !ok {
		return true
	}
	return target >= l.level
}

func (l *implLogger) Debug(ctx context.Context, msg string, args ...any) {
	l.print("debug", "[DEBUG] ", ctx, msg, args...)
}

func (l *implLogger) Info(ctx context.Context, msg string, args ...any) {
	l.print("info", "[INFO] ", ctx, msg, args...)
}

func (l *implLogger) Warn(ctx context.Context, msg string, args ...any) {
	l.print("warn", "[WARN] ", ctx, msg, args...)
}

func (l *implLogger) Error(ctx context.Context, msg string, args ...any) {
	l.print("error", "[ERROR] ", ctx, msg, args...)
}

func (l *implLogger) print(level, tag string, ctx context.Context, msg string, args ...any) {
	if !l.shouldLog(level) {
		return
	}
	if id := RunID(ctx); id != "" {
		tag += "[" + id + "] "
	}
	l.logger.Printf(tag+msg, args...)
}

type runIDKey struct{}

// WithRunID tags every line logged with ctx by the given id.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

func RunID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
