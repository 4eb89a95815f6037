// Package util provides shared logging and statistics helpers.
package util

import (
	"fmt"
	"io"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging functions backed by pterm prefixed printers.
// All output goes to stderr by default (pterm's default).

func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	Stats.AddError()
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// SetOutput redirects all log output. Tests use it to silence the logger.
func SetOutput(w io.Writer) {
	pterm.DefaultLogger.Writer = w
}

// Scope is a logger that tags every line with the component and, once a call
// session exists, its session ID.
type Scope struct {
	args []any
}

// NewScope returns a scoped logger for the named component.
func NewScope(component string) Scope {
	return Scope{args: []any{"component", component}}
}

// With returns a copy of s carrying an extra key/value pair.
func (s Scope) With(key string, value any) Scope {
	args := make([]any, 0, len(s.args)+2)
	args = append(args, s.args...)
	return Scope{args: append(args, key, value)}
}

func (s Scope) Debugf(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...), pterm.DefaultLogger.Args(s.args...))
}

func (s Scope) Infof(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...), pterm.DefaultLogger.Args(s.args...))
}

func (s Scope) Warnf(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...), pterm.DefaultLogger.Args(s.args...))
}

// Errorf logs at error level and counts the failure in Stats.
func (s Scope) Errorf(format string, args ...interface{}) {
	Stats.AddError()
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...), pterm.DefaultLogger.Args(s.args...))
}
