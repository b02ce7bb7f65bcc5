// Package ulogger provides the small structured-logging interface used
// throughout chronikcache. The default implementation is backed by zerolog.
package ulogger

// Logger is the logging surface every chronikcache component depends on.
// Components never depend on zerolog directly, only on this interface, so
// callers can plug in their own implementation.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	// New returns a sub-logger scoped to component, inheriting the parent's
	// level and output.
	New(component string) Logger
}

// New builds the default zerolog-backed logger for the named component.
func New(component string, opts ...Option) Logger {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return newZeroLogger(component, o)
}
