package logger

// Multi fans every message out to all destinations. Nil destinations are
// skipped, so callers can pass an optional file logger directly.
type Multi struct {
	sinks []sink
}

type sink interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// NewMulti creates a logger that forwards to every non-nil sink.
func NewMulti(sinks ...sink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Debugf forwards a debug-level message to all sinks.
func (m *Multi) Debugf(format string, args ...any) {
	for _, s := range m.sinks {
		s.Debugf(format, args...)
	}
}

// Infof forwards an info-level message to all sinks.
func (m *Multi) Infof(format string, args ...any) {
	for _, s := range m.sinks {
		s.Infof(format, args...)
	}
}

// Warnf forwards a warning-level message to all sinks.
func (m *Multi) Warnf(format string, args ...any) {
	for _, s := range m.sinks {
		s.Warnf(format, args...)
	}
}

// Errorf forwards an error-level message to all sinks.
func (m *Multi) Errorf(format string, args ...any) {
	for _, s := range m.sinks {
		s.Errorf(format, args...)
	}
}
