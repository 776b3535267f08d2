// Package dlog is the ambient structured logger for the back end: a thin
// wrapper over log/slog with the teacher's own level constants and
// Root()/package-level-function shape, adapted from its go-ethereum-derived
// logger to this module's own domain.
package dlog

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"sync/atomic"
	"time"
)

const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Logger writes structured key/value log records.
type Logger interface {
	With(ctx ...interface{}) Logger
	Write(level slog.Level, msg string, attrs ...interface{})
	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Handler() slog.Handler
}

type logger struct {
	inner *slog.Logger
}

// NewLogger returns a Logger backed by h.
func NewLogger(h slog.Handler) Logger {
	return &logger{inner: slog.New(h)}
}

func (l *logger) Handler() slog.Handler { return l.inner.Handler() }

func (l *logger) Write(level slog.Level, msg string, attrs ...interface{}) {
	if !l.inner.Enabled(context.Background(), level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.Add(attrs...)
	_ = l.inner.Handler().Handle(context.Background(), r)
}

func (l *logger) With(ctx ...interface{}) Logger { return &logger{l.inner.With(ctx...)} }
func (l *logger) Trace(msg string, ctx ...interface{}) { l.Write(LevelTrace, msg, ctx...) }
func (l *logger) Debug(msg string, ctx ...interface{}) { l.Write(LevelDebug, msg, ctx...) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.Write(LevelInfo, msg, ctx...) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.Write(LevelWarn, msg, ctx...) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.Write(LevelError, msg, ctx...) }

var root atomic.Value

func init() {
	root.Store(NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: LevelInfo})))
}

// SetDefault installs l as the logger used by the package-level functions.
func SetDefault(l Logger) { root.Store(l) }

// Root returns the current default logger.
func Root() Logger { return root.Load().(Logger) }

func Trace(msg string, ctx ...interface{}) { Root().Write(LevelTrace, msg, ctx...) }
func Debug(msg string, ctx ...interface{}) { Root().Write(LevelDebug, msg, ctx...) }
func Info(msg string, ctx ...interface{})  { Root().Write(LevelInfo, msg, ctx...) }
func Warn(msg string, ctx ...interface{})  { Root().Write(LevelWarn, msg, ctx...) }
func Error(msg string, ctx ...interface{}) { Root().Write(LevelError, msg, ctx...) }

// New returns a child logger of Root() with the given attributes.
func New(ctx ...interface{}) Logger { return Root().With(ctx...) }
