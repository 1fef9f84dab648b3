package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the structured logger used across llmkit. Args after the message
// are alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Fatal(msg string, args ...any)
	With(key string, value any) Logger
}

// ZeroLogger implements Logger on zerolog
type ZeroLogger struct {
	logger zerolog.Logger
}

// New creates a console logger on stderr. Unknown levels fall back to info.
func New(level string) *ZeroLogger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return NewWithWriter(level, output)
}

// NewWithWriter creates a logger emitting JSON lines to w
func NewWithWriter(level string, w io.Writer) *ZeroLogger {
	l, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		l = zerolog.InfoLevel
	}
	z := zerolog.New(w).Level(l).With().Timestamp().Logger()
	return &ZeroLogger{logger: z}
}

// NewNop returns a logger that discards everything
func NewNop() *ZeroLogger {
	return &ZeroLogger{logger: zerolog.Nop()}
}

// OrNop returns l, or a no-op logger when l is nil
func OrNop(l Logger) Logger {
	if l == nil {
		return NewNop()
	}
	return l
}

func (l *ZeroLogger) Debug(msg string, args ...any) { emit(l.logger.Debug(), msg, args) }
func (l *ZeroLogger) Info(msg string, args ...any)  { emit(l.logger.Info(), msg, args) }
func (l *ZeroLogger) Warn(msg string, args ...any)  { emit(l.logger.Warn(), msg, args) }
func (l *ZeroLogger) Error(msg string, args ...any) { emit(l.logger.Error(), msg, args) }

// Fatal logs and exits the process
func (l *ZeroLogger) Fatal(msg string, args ...any) { emit(l.logger.Fatal(), msg, args) }

// With returns a child logger that adds key to every entry
func (l *ZeroLogger) With(key string, value any) Logger {
	return &ZeroLogger{logger: l.logger.With().Interface(key, value).Logger()}
}

// emit attaches alternating key/value args to e. Pairs whose key is not a
// string, and a trailing key without a value, are dropped.
func emit(e *zerolog.Event, msg string, args []any) {
	if e == nil {
		return
	}
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		switch v := args[i+1].(type) {
		case error:
			e = e.AnErr(key, v)
		case string:
			e = e.Str(key, v)
		default:
			e = e.Interface(key, v)
		}
	}
	e.Msg(msg)
}
