package alarm

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultLogger is used by a Manager if none is specified. It reports errors only.
var DefaultLogger = PrintfLogger(log.New(os.Stdout, "alarm: ", log.LstdFlags))

// DiscardLogger drops all messages.
var DiscardLogger = PrintfLogger(log.New(io.Discard, "", 0))

// Logger is the logging interface of this package, a subset of the
// github.com/go-logr/logr interface so that any backend can be plugged in.
type Logger interface {
	// Info logs routine messages about the scheduler's operation.
	Info(msg string, keysAndValues ...any)
	// Error logs an error condition.
	Error(err error, msg string, keysAndValues ...any)
}

// PrintfLogger wraps a Printf-based logger (such as the standard library "log")
// into a Logger which logs errors only.
func PrintfLogger(l interface{ Printf(string, ...any) }) Logger {
	return printfLogger{l, false}
}

// VerbosePrintfLogger wraps a Printf-based logger into a Logger which logs everything.
func VerbosePrintfLogger(l interface{ Printf(string, ...any) }) Logger {
	return printfLogger{l, true}
}

type printfLogger struct {
	logger  interface{ Printf(string, ...any) }
	logInfo bool
}

func (pl printfLogger) Info(msg string, keysAndValues ...any) {
	if pl.logInfo {
		keysAndValues = formatValues(keysAndValues)
		pl.logger.Printf(
			formatString(len(keysAndValues)),
			append([]any{msg}, keysAndValues...)...)
	}
}

func (pl printfLogger) Error(err error, msg string, keysAndValues ...any) {
	keysAndValues = formatValues(keysAndValues)
	pl.logger.Printf(
		formatString(len(keysAndValues)+2),
		append([]any{msg, "error", err}, keysAndValues...)...)
}

// formatString returns a logfmt-like format string for the number of
// key/values.
func formatString(numKeysAndValues int) string {
	var sb strings.Builder
	sb.WriteString("%s")
	if numKeysAndValues > 0 {
		sb.WriteString(", ")
	}
	for i := 0; i < numKeysAndValues/2; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("%v=%v")
	}
	return sb.String()
}

// formatValues renders times as RFC3339 with milliseconds, since alarm
// deadlines are usually sub-second apart.
func formatValues(keysAndValues []any) []any {
	out := make([]any, 0, len(keysAndValues))
	for _, arg := range keysAndValues {
		if t, ok := arg.(time.Time); ok {
			arg = t.Format("2006-01-02T15:04:05.000Z07:00")
		}
		out = append(out, arg)
	}
	return out
}

// SlogLogger adapts log/slog to the Logger interface.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger creates a Logger that writes to l, or slog.Default() if l is nil.
func NewSlogLogger(l *slog.Logger) *SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogLogger{logger: l}
}

// Info logs at slog.LevelInfo.
func (s *SlogLogger) Info(msg string, keysAndValues ...any) {
	s.logger.Info(msg, keysAndValues...)
}

// Error logs at slog.LevelError with the error under the "error" key.
func (s *SlogLogger) Error(err error, msg string, keysAndValues ...any) {
	s.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}

// ZapLogger adapts a zap sugared logger to the Logger interface.
type ZapLogger struct {
	logger *zap.SugaredLogger
}

// NewZapLogger creates a Logger that writes to l, or to zap's global sugared
// logger if l is nil.
func NewZapLogger(l *zap.SugaredLogger) *ZapLogger {
	if l == nil {
		l = zap.S()
	}
	return &ZapLogger{logger: l}
}

// Info logs at zap's info level.
func (z *ZapLogger) Info(msg string, keysAndValues ...any) {
	z.logger.Infow(msg, keysAndValues...)
}

// Error logs at zap's error level with the error attached under the "error" key.
func (z *ZapLogger) Error(err error, msg string, keysAndValues ...any) {
	z.logger.Errorw(msg, append([]any{zap.Error(err)}, keysAndValues...)...)
}
