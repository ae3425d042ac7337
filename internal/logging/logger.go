package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Console styles accepted by NewWithStyle.
const (
	StylePretty = "pretty"
	StyleJSON   = "json"
)

// Logger wraps zerolog to provide component-scoped child loggers.
type Logger struct {
	zl zerolog.Logger
}

// New creates a root logger writing to the given writer at the specified level.
// If w is nil, defaults to pretty console output on stderr.
func New(w io.Writer, level string) *Logger {
	if w == nil {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	zl := zerolog.New(w).With().Timestamp().Logger()
	zl = zl.Level(parseLevel(level))
	return &Logger{zl: zl}
}

// NewWithStyle creates a stderr logger. "json" emits one JSON object per line,
// anything else uses the console writer.
func NewWithStyle(style, level string) *Logger {
	if style == StyleJSON {
		return New(os.Stderr, level)
	}
	return New(nil, level)
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// Sub returns a child logger tagged with a component name.
func (l *Logger) Sub(component string) *Logger {
	return &Logger{zl: l.zl.With().Str("component", component).Logger()}
}

// With returns a child logger carrying an extra string field.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{zl: l.zl.With().Str(key, value).Logger()}
}

// Debug logs at debug level.
func (l *Logger) Debug() *zerolog.Event { return l.zl.Debug() }

// Info logs at info level.
func (l *Logger) Info() *zerolog.Event { return l.zl.Info() }

// Warn logs at warn level.
func (l *Logger) Warn() *zerolog.Event { return l.zl.Warn() }

// Error logs at error level.
func (l *Logger) Error() *zerolog.Event { return l.zl.Error() }

// Fatal logs at fatal level and exits.
func (l *Logger) Fatal() *zerolog.Event { return l.zl.Fatal() }

// Zerolog returns the underlying zerolog.Logger for advanced use.
func (l *Logger) Zerolog() zerolog.Logger { return l.zl }

// ValidLevel reports whether s names a level understood by New.
func ValidLevel(s string) bool {
	_, ok := levels[s]
	return ok
}

var levels = map[string]zerolog.Level{
	"trace":  zerolog.TraceLevel,
	"debug":  zerolog.DebugLevel,
	"info":   zerolog.InfoLevel,
	"warn":   zerolog.WarnLevel,
	"error":  zerolog.ErrorLevel,
	"fatal":  zerolog.FatalLevel,
	"silent": zerolog.Disabled,
}

func parseLevel(s string) zerolog.Level {
	if lvl, ok := levels[s]; ok {
		return lvl
	}
	return zerolog.InfoLevel
}
