// Package runlog writes the append-only deployment run log: one timestamped,
// leveled line per event, mirrored to the interactive structured logger.
package runlog

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// =============================================================================
// Levels
// =============================================================================

// Level is the run log line level.
type Level string

const (
	LevelInfo    Level = "INFO"
	LevelSuccess Level = "SUCCESS"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// Recorder is the event sink handed to the orchestration components.
type Recorder interface {
	Infof(format string, args ...any)
	Successf(format string, args ...any)
	Warningf(format string, args ...any)
	Errorf(format string, args ...any)
}

// =============================================================================
// Logger
// =============================================================================

// Logger appends leveled lines to the run log file and mirrors every line to
// slog. The file is rotated by size so a long-lived deployment host does not
// accumulate unbounded logs.
type Logger struct {
	mu     sync.Mutex
	out    io.WriteCloser
	mirror *slog.Logger
	now    func() time.Time
}

// New creates a run log writing to path.
func New(path string, mirror *slog.Logger) *Logger {
	if mirror == nil {
		mirror = slog.Default()
	}
	return &Logger{
		out: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			Compress:   true,
		},
		mirror: mirror,
		now:    time.Now,
	}
}

// NewWithWriter creates a run log writing to an arbitrary writer. Used by
// tests.
func NewWithWriter(w io.WriteCloser, mirror *slog.Logger) *Logger {
	if mirror == nil {
		mirror = slog.Default()
	}
	return &Logger{out: w, mirror: mirror, now: time.Now}
}

// Infof records a progress event.
func (l *Logger) Infof(format string, args ...any) { l.log(LevelInfo, format, args...) }

// Successf records a completed step.
func (l *Logger) Successf(format string, args ...any) { l.log(LevelSuccess, format, args...) }

// Warningf records a non-fatal problem.
func (l *Logger) Warningf(format string, args ...any) { l.log(LevelWarning, format, args...) }

// Errorf records a fatal problem.
func (l *Logger) Errorf(format string, args ...any) { l.log(LevelError, format, args...) }

// Close closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Close()
}

func (l *Logger) log(level Level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)

	l.mu.Lock()
	fmt.Fprintf(l.out, "%s [%s] %s\n", l.now().UTC().Format(time.RFC3339), level, msg)
	l.mu.Unlock()

	switch level {
	case LevelWarning:
		l.mirror.Warn(msg)
	case LevelError:
		l.mirror.Error(msg)
	default:
		l.mirror.Info(msg)
	}
}
