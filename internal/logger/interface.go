package logger

import "codeberg.org/mutker/harvester/internal/errors"

// Logger defines the interface for logging operations. Packages that log take
// a Logger so tests can hand them a Nop logger.
type Logger interface {
	Debug() *LogEvent
	Info() *LogEvent
	Warn() *LogEvent
	Error() *LogEvent
	ErrorWithCode(err errors.Error) *LogEvent
	With(component string) Logger
}
