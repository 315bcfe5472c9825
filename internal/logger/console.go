// Package logger provides logging implementations for autopilot execution.
//
// Loggers are thread-safe and write "[HH:MM:SS] [LEVEL]" prefixed lines with
// level filtering. Console output is colorized when attached to a TTY.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/joseguzman1337/autopilot/internal/models"
)

// Logger is the leveled logging interface the orchestration packages
// depend on.
type Logger interface {
	Tracef(format string, args ...any)
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Log level constants for filtering.
const (
	levelTrace int = 0
	levelDebug int = 1
	levelInfo  int = 2
	levelWarn  int = 3
	levelError int = 4
)

// ConsoleLogger logs to a writer with timestamps and thread safety.
// Color output is enabled automatically for TTY destinations.
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool
}

// NewConsoleLogger creates a ConsoleLogger writing to the provided writer.
// If writer is nil, messages are silently discarded. logLevel is one of
// trace, debug, info, warn, error (case-insensitive); empty or invalid
// levels default to "info".
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:      writer,
		logLevel:    normalizeLogLevel(logLevel),
		colorOutput: isTerminal(writer),
	}
}

// isTerminal checks if the writer is a terminal that supports colors.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if color.NoColor {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// normalizeLogLevel lowercases and validates a level, defaulting to "info".
func normalizeLogLevel(level string) string {
	normalized := strings.ToLower(strings.TrimSpace(level))
	switch normalized {
	case "trace", "debug", "info", "warn", "error":
		return normalized
	}
	return "info"
}

func logLevelToInt(level string) int {
	switch level {
	case "trace":
		return levelTrace
	case "debug":
		return levelDebug
	case "info":
		return levelInfo
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

// Tracef logs a trace-level message (most verbose).
func (cl *ConsoleLogger) Tracef(format string, args ...any) {
	cl.logf("TRACE", format, args...)
}

// Debugf logs a debug-level message.
func (cl *ConsoleLogger) Debugf(format string, args ...any) {
	cl.logf("DEBUG", format, args...)
}

// Infof logs an info-level message.
func (cl *ConsoleLogger) Infof(format string, args ...any) {
	cl.logf("INFO", format, args...)
}

// Warnf logs a warning-level message.
func (cl *ConsoleLogger) Warnf(format string, args ...any) {
	cl.logf("WARN", format, args...)
}

// Errorf logs an error-level message.
func (cl *ConsoleLogger) Errorf(format string, args ...any) {
	cl.logf("ERROR", format, args...)
}

func (cl *ConsoleLogger) logf(level, format string, args ...any) {
	if cl.writer == nil {
		return
	}
	if logLevelToInt(strings.ToLower(level)) < logLevelToInt(cl.logLevel) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	message := fmt.Sprintf(format, args...)
	label := level
	if cl.colorOutput {
		label = colorizeLevel(level)
	}
	fmt.Fprintf(cl.writer, "[%s] [%s] %s\n", timestamp(), label, message)
}

func colorizeLevel(level string) string {
	switch level {
	case "TRACE":
		return color.New(color.FgHiBlack).Sprint(level)
	case "DEBUG":
		return color.New(color.FgCyan).Sprint(level)
	case "INFO":
		return color.New(color.FgBlue).Sprint(level)
	case "WARN":
		return color.New(color.FgYellow).Sprint(level)
	case "ERROR":
		return color.New(color.FgRed).Sprint(level)
	}
	return level
}

// ColorizeOutcome renders an outcome status with the conventional colors
// (green success, yellow degraded, red failure) when color is available.
func ColorizeOutcome(o models.Outcome) string {
	if color.NoColor {
		return o.String()
	}
	switch o.Status {
	case models.StatusSuccess:
		return color.New(color.FgGreen).Sprint(o.String())
	case models.StatusDegraded:
		return color.New(color.FgYellow).Sprint(o.String())
	case models.StatusFailure:
		return color.New(color.FgRed).Sprint(o.String())
	}
	return o.String()
}

// timestamp returns the current time formatted as "15:04:05".
func timestamp() string {
	return time.Now().Format("15:04:05")
}

// NoOpLogger discards all log messages. Useful for tests.
type NoOpLogger struct{}

// NewNoOpLogger creates a NoOpLogger instance.
func NewNoOpLogger() *NoOpLogger { return &NoOpLogger{} }

// Tracef is a no-op implementation.
func (n *NoOpLogger) Tracef(format string, args ...any) {}

// Debugf is a no-op implementation.
func (n *NoOpLogger) Debugf(format string, args ...any) {}

// Infof is a no-op implementation.
func (n *NoOpLogger) Infof(format string, args ...any) {}

// Warnf is a no-op implementation.
func (n *NoOpLogger) Warnf(format string, args ...any) {}

// Errorf is a no-op implementation.
func (n *NoOpLogger) Errorf(format string, args ...any) {}
