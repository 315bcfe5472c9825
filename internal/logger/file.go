package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileLogger writes plain-text log lines to a per-run file under a log
// directory. A new file named autopilot-YYYYMMDD-HHMMSS.log is created per
// process start.
type FileLogger struct {
	file     *os.File
	logLevel string
	mutex    sync.Mutex
}

// NewFileLogger creates the log directory if needed and opens a fresh
// per-run log file.
func NewFileLogger(dir, logLevel string) (*FileLogger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	name := fmt.Sprintf("autopilot-%s.log", time.Now().Format("20060102-150405"))
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &FileLogger{file: file, logLevel: normalizeLogLevel(logLevel)}, nil
}

// Close flushes and closes the log file.
func (fl *FileLogger) Close() error {
	fl.mutex.Lock()
	defer fl.mutex.Unlock()
	if fl.file == nil {
		return nil
	}
	err := fl.file.Close()
	fl.file = nil
	return err
}

// Tracef logs a trace-level message.
func (fl *FileLogger) Tracef(format string, args ...any) { fl.logf("TRACE", format, args...) }

// Debugf logs a debug-level message.
func (fl *FileLogger) Debugf(format string, args ...any) { fl.logf("DEBUG", format, args...) }

// Infof logs an info-level message.
func (fl *FileLogger) Infof(format string, args ...any) { fl.logf("INFO", format, args...) }

// Warnf logs a warning-level message.
func (fl *FileLogger) Warnf(format string, args ...any) { fl.logf("WARN", format, args...) }

// Errorf logs an error-level message.
func (fl *FileLogger) Errorf(format string, args ...any) { fl.logf("ERROR", format, args...) }

func (fl *FileLogger) logf(level, format string, args ...any) {
	if logLevelToInt(normalizeLogLevel(level)) < logLevelToInt(fl.logLevel) {
		return
	}

	fl.mutex.Lock()
	defer fl.mutex.Unlock()
	if fl.file == nil {
		return
	}

	line := fmt.Sprintf("[%s] [%s] %s\n",
		time.Now().Format("2006-01-02 15:04:05"), level, fmt.Sprintf(format, args...))
	fl.file.WriteString(line)
}

// MultiLogger fans each message out to several loggers, typically console
// plus file.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger combines loggers; nil entries are skipped.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	ml := &MultiLogger{}
	for _, l := range loggers {
		if l != nil {
			ml.loggers = append(ml.loggers, l)
		}
	}
	return ml
}

// Tracef forwards to all loggers.
func (ml *MultiLogger) Tracef(format string, args ...any) {
	for _, l := range ml.loggers {
		l.Tracef(format, args...)
	}
}

// Debugf forwards to all loggers.
func (ml *MultiLogger) Debugf(format string, args ...any) {
	for _, l := range ml.loggers {
		l.Debugf(format, args...)
	}
}

// Infof forwards to all loggers.
func (ml *MultiLogger) Infof(format string, args ...any) {
	for _, l := range ml.loggers {
		l.Infof(format, args...)
	}
}

// Warnf forwards to all loggers.
func (ml *MultiLogger) Warnf(format string, args ...any) {
	for _, l := range ml.loggers {
		l.Warnf(format, args...)
	}
}

// Errorf forwards to all loggers.
func (ml *MultiLogger) Errorf(format string, args ...any) {
	for _, l := range ml.loggers {
		l.Errorf(format, args...)
	}
}
