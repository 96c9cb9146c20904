package serlink

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the protocol's logging interface.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// NoopLogger does nothing.
type NoopLogger struct{}

func (NoopLogger) Debug(format string, args ...interface{}) {}
func (NoopLogger) Info(format string, args ...interface{})  {}
func (NoopLogger) Error(format string, args ...interface{}) {}

// ZerologLogger adapts a zerolog.Logger to the Logger interface.
type ZerologLogger struct {
	l zerolog.Logger
}

// NewZerologLogger wraps an existing zerolog logger.
func NewZerologLogger(l zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{l: l}
}

// NewConsoleLogger creates a human-readable logger writing to w at the given
// level. Intended for the CLIs.
func NewConsoleLogger(w io.Writer, level zerolog.Level) *ZerologLogger {
	l := zerolog.New(zerolog.ConsoleWriter{Out: w}).Level(level).With().Timestamp().Logger()
	return &ZerologLogger{l: l}
}

// NewFileLogger creates a logger appending JSON records to the file at path.
func NewFileLogger(path string) (*ZerologLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	l := zerolog.New(f).With().Timestamp().Logger()
	return &ZerologLogger{l: l}, nil
}

func (z *ZerologLogger) Debug(format string, args ...interface{}) {
	z.l.Debug().Msgf(format, args...)
}

func (z *ZerologLogger) Info(format string, args ...interface{}) {
	z.l.Info().Msgf(format, args...)
}

func (z *ZerologLogger) Error(format string, args ...interface{}) {
	z.l.Error().Msgf(format, args...)
}
