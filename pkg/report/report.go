// Package report surfaces errors to the user and, optionally, an external
// error tracker.
package report

import (
	"github.com/sirupsen/logrus"

	"github.com/sidkik/syncwatch/pkg/errors"
)

// Reporter receives errors that the user should know about but that don't
// stop the program.
type Reporter interface {
	Error(err error, msg string)
}

// ScopedReporter is implemented by reporters that can be bound to a narrower
// logger, such as one that carries a connection's fields.
type ScopedReporter interface {
	Reporter
	WithLogger(log logrus.FieldLogger) Reporter
}

// LogReporter reports errors by logging them. Any tracker hooks installed on
// the logger receive the errors as well.
type LogReporter struct {
	log logrus.FieldLogger
}

// NewLogReporter returns a Reporter that logs to `log`.
func NewLogReporter(log logrus.FieldLogger) LogReporter {
	return LogReporter{log}
}

// WithLogger returns a reporter that logs to `log` instead.
func (r LogReporter) WithLogger(log logrus.FieldLogger) Reporter {
	return NewLogReporter(log)
}

// Error logs the error at the error level. If `err` has a friendly message, it
// is shown instead of the full error chain.
func (r LogReporter) Error(err error, msg string) {
	entry := r.log
	if err != nil {
		entry = r.log.WithError(err).WithField("details", errors.GetPrintableMessage(err))
	}
	entry.Error(msg)
}
