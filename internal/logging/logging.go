// Package logging is the orchestrator's leveled stdout printer plus an
// optional journald sink, carried from the teacher's own
// printMessage/CreateJournaldLog pair.
package logging

import (
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/journal"
)

// Level mirrors the teacher's verbosity scale: 0 silent, increasing
// numbers progressively more detailed.
type Level int

const (
	Silent Level = iota
	Standard
	Progress
	Debug
)

// Logger prints to stdout at or below its configured verbosity, and
// mirrors errors into journald when requested.
type Logger struct {
	Verbosity    Level
	ToJournald   bool
	timestampsAt Level
}

// New builds a Logger. timestamps are added to output once verbosity
// reaches Progress, matching the teacher's own threshold.
func New(verbosity Level, toJournald bool) *Logger {
	return &Logger{Verbosity: verbosity, ToJournald: toJournald, timestampsAt: Progress}
}

func (l *Logger) printf(level Level, format string, args ...interface{}) {
	if l.Verbosity < level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if l.Verbosity >= l.timestampsAt {
		msg = time.Now().Format("15:04:05.000000") + ": " + msg
	}
	fmt.Println(msg)
}

// Info prints at Standard verbosity.
func (l *Logger) Info(format string, args ...interface{}) { l.printf(Standard, format, args...) }

// Debugf prints at Debug verbosity.
func (l *Logger) Debugf(format string, args ...interface{}) { l.printf(Debug, format, args...) }

// Progressf prints at Progress verbosity.
func (l *Logger) Progressf(format string, args ...interface{}) { l.printf(Progress, format, args...) }

// Error always prints to stdout (regardless of verbosity) and, if
// ToJournald is set, mirrors the message to journald at err priority. A
// journald send failure (e.g. no systemd socket available, common in
// containers or on non-systemd hosts) is swallowed, not fatal.
func (l *Logger) Error(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Println(msg)
	if l.ToJournald {
		l.sendJournald(msg, journal.PriErr)
	}
}

func (l *Logger) sendJournald(msg string, priority journal.Priority) {
	if err := journal.Send(msg, priority, nil); err != nil {
		if strings.Contains(err.Error(), "could not initialize socket") {
			return
		}
	}
}
