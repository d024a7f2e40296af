package internal

import "github.com/sirupsen/logrus"

// ContextLogger is a wrapper for logrus that records which package and
// function a log line came from.
type ContextLogger struct {
	*logrus.Entry
}

func NewContextLogger(pkg string) ContextLogger {
	return ContextLogger{logrus.WithField("package", pkg)}
}

// NewContextLoggerFor is NewContextLogger bound to a specific logger instead of the
// logrus standard logger.
func NewContextLoggerFor(l *logrus.Logger, pkg string) ContextLogger {
	if l == nil {
		return NewContextLogger(pkg)
	}
	return ContextLogger{l.WithField("package", pkg)}
}

func (c ContextLogger) InFunc(function string) ContextLogger {
	c.Entry = c.WithField("func", function)
	return c
}

func (c ContextLogger) WithAddr(addr string) ContextLogger {
	c.Entry = c.WithField("addr", addr)
	return c
}
