package logger

import (
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"codeberg.org/mutker/anglepub/internal/errors"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var log = zerolog.New(os.Stdout).With().Timestamp().Logger()

type LogLevel int8

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

const (
	defaultDirPerm    = 0o755
	defaultMaxSizeMB  = 10
	defaultMaxBackups = 5
	defaultMaxAgeDays = 28
)

type LogEvent struct {
	*zerolog.Event
}

func (e *LogEvent) Msg(msg string) {
	e.Event.Msg(msg)
}

func (e *LogEvent) Send() {
	e.Event.Send()
}

// Options controls where and how verbosely the process logs.
type Options struct {
	Level     LogLevel
	File      string
	IsService bool
}

// Init initializes the logger based on the given options
func Init(opts Options) error {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	if opts.IsService {
		output.TimeFormat = ""
		output.FormatTimestamp = func(_ interface{}) string {
			return ""
		}
	}

	var w io.Writer = output
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), defaultDirPerm); err != nil {
			return errors.New().Wrap(errors.ErrInitFailed, err)
		}
		w = zerolog.MultiLevelWriter(output, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    defaultMaxSizeMB,
			MaxBackups: defaultMaxBackups,
			MaxAge:     defaultMaxAgeDays,
			Compress:   true,
		})
	}

	log = zerolog.New(w).With().Timestamp().Logger()
	SetLogLevel(opts.Level)

	return nil
}

// SetLogLevel sets the global log level
func SetLogLevel(level LogLevel) {
	zerolog.SetGlobalLevel(zerolog.Level(level))
}

// ParseLevel maps a configured level name to a LogLevel
func ParseLevel(level string) (LogLevel, error) {
	switch level {
	case "debug":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "warning", "warn":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, errors.New().WithData(errors.ErrInvalidLogLevel, level)
	}
}

// IsService checks if the application is running as a service
func IsService() bool {
	if _, err := os.Stdin.Stat(); err != nil {
		return true
	}
	if os.Getenv("SERVICE_NAME") != "" || os.Getenv("INVOCATION_ID") != "" {
		return true
	}
	if os.Getppid() == 1 {
		return true
	}

	return syscall.Getpgrp() == syscall.Getpid()
}

// Debug logs a debug message
func Debug() *LogEvent {
	return &LogEvent{log.Debug()}
}

// Info logs an info message
func Info() *LogEvent {
	return &LogEvent{log.Info()}
}

// Warn logs a warning message
func Warn() *LogEvent {
	return &LogEvent{log.Warn()}
}

// Error logs an error message
func Error() *LogEvent {
	return &LogEvent{log.Error()}
}

// ErrorWithCode logs an error message with a specific error code
func ErrorWithCode(err errors.Error) *LogEvent {
	return &LogEvent{withCode(log.Error(), err)}
}

// Fatal logs a fatal message and exits the program
func Fatal() *LogEvent {
	return &LogEvent{log.Fatal()}
}

// FatalWithCode logs a fatal message with a specific error code and exits the program
func FatalWithCode(err errors.Error) *LogEvent {
	return &LogEvent{withCode(log.Fatal(), err)}
}

func withCode(e *zerolog.Event, err errors.Error) *zerolog.Event {
	return e.Str("error_code", string(err.Code())).
		Str("error_message", err.Error()).
		AnErr("error", err.Unwrap())
}

// New returns a Logger that tags every event with component.
// Events go through the process-wide logger configured by Init.
func New(component string) Logger {
	return &componentLogger{component: component}
}

// NewWithWriter returns a Logger writing JSON lines to w, for tests and tools.
func NewWithWriter(w io.Writer, component string) Logger {
	l := zerolog.New(w).With().Timestamp().Logger()
	return &componentLogger{component: component, base: &l}
}

type componentLogger struct {
	component string
	base      *zerolog.Logger
}

func (c *componentLogger) logger() *zerolog.Logger {
	if c.base != nil {
		return c.base
	}
	return &log
}

func (c *componentLogger) event(e *zerolog.Event) *LogEvent {
	return &LogEvent{e.Str("component", c.component)}
}

func (c *componentLogger) Debug() *LogEvent { return c.event(c.logger().Debug()) }
func (c *componentLogger) Info() *LogEvent  { return c.event(c.logger().Info()) }
func (c *componentLogger) Warn() *LogEvent  { return c.event(c.logger().Warn()) }
func (c *componentLogger) Error() *LogEvent { return c.event(c.logger().Error()) }

func (c *componentLogger) ErrorWithCode(err errors.Error) *LogEvent {
	return c.event(withCode(c.logger().Error(), err))
}

func (c *componentLogger) With(component string) Logger {
	return &componentLogger{component: c.component + "." + component, base: c.base}
}
