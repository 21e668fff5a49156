package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents log severity.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func ParseLevel(s string) Level {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "debug":
		return Debug
	case "warn":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

func (l Level) zap() zapcore.Level {
	switch l {
	case Debug:
		return zapcore.DebugLevel
	case Warn:
		return zapcore.WarnLevel
	case Error:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger is a printf-style facade over a zap core.
type Logger struct {
	min   Level
	sugar *zap.SugaredLogger
	file  *os.File // owned log file, closed by Close
}

// New builds a logger writing human-readable lines to stderr, or JSON to stdout.
func New(level string, jsonOut bool) *Logger {
	out := zapcore.Lock(os.Stderr)
	if jsonOut {
		out = zapcore.Lock(os.Stdout)
	}
	return newWithSink(level, jsonOut, out)
}

// NewFile is New plus a copy of every entry appended to path as JSON.
func NewFile(level string, jsonOut bool, path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	l := New(level, jsonOut)
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig(true)), zapcore.AddSync(f), l.min.zap())
	l.sugar = l.sugar.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, fileCore)
	}))
	l.file = f
	return l, nil
}

// NewFileOnly writes JSON entries to path and nothing to the terminal, for full-screen
// front ends that own stdout and stderr.
func NewFileOnly(level, path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	l := newWithSink(level, true, zapcore.AddSync(f))
	l.file = f
	return l, nil
}

func newWithSink(level string, jsonOut bool, out zapcore.WriteSyncer) *Logger {
	lvl := ParseLevel(level)
	var enc zapcore.Encoder
	if jsonOut {
		enc = zapcore.NewJSONEncoder(encoderConfig(true))
	} else {
		enc = zapcore.NewConsoleEncoder(encoderConfig(false))
	}
	core := zapcore.NewCore(enc, out, lvl.zap())
	return &Logger{min: lvl, sugar: zap.New(core).Sugar()}
}

func encoderConfig(jsonOut bool) zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.MessageKey = "msg"
	cfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	if jsonOut {
		cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	} else {
		// human mode: "INFO<TAB>message"
		cfg.TimeKey = ""
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	return cfg
}

func (l *Logger) Enabled(v Level) bool { return l != nil && v >= l.min }

func (l *Logger) Debugf(format string, a ...any) {
	if l.Enabled(Debug) {
		l.sugar.Debugf(format, a...)
	}
}

func (l *Logger) Infof(format string, a ...any) {
	if l.Enabled(Info) {
		l.sugar.Infof(format, a...)
	}
}

func (l *Logger) Warnf(format string, a ...any) {
	if l.Enabled(Warn) {
		l.sugar.Warnf(format, a...)
	}
}

func (l *Logger) Errorf(format string, a ...any) {
	if l.Enabled(Error) {
		l.sugar.Errorf(format, a...)
	}
}

// With returns a child logger that adds key/value pairs to every entry. The child
// shares the parent's file but does not own it.
func (l *Logger) With(kv ...any) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{min: l.min, sugar: l.sugar.With(kv...)}
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	if l == nil {
		return nil
	}
	return l.sugar.Sync()
}

// Close flushes entries and closes the log file, if any. Later calls are no-ops.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	// Syncing a terminal fails on some platforms; only the file matters here.
	_ = l.sugar.Sync()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
