// Package logrus adapts a logrus entry to fieldsync.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/fieldsync"
)

var _ fieldsync.Logger = Logger{}

type Logger struct{ E *logrus.Entry }

// New tags every line with component=fieldsync.
func New(l *logrus.Logger) Logger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return Logger{E: l.WithField("component", "fieldsync")}
}

func (l Logger) Debug(msg string, f fieldsync.Fields) { l.entry(f).Debug(msg) }
func (l Logger) Info(msg string, f fieldsync.Fields)  { l.entry(f).Info(msg) }
func (l Logger) Warn(msg string, f fieldsync.Fields)  { l.entry(f).Warn(msg) }
func (l Logger) Error(msg string, f fieldsync.Fields) { l.entry(f).Error(msg) }

// entry moves an "err" field to logrus' error key.
func (l Logger) entry(f fieldsync.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	lf := make(logrus.Fields, len(f))
	var err error
	for k, v := range f {
		if e, ok := v.(error); ok && k == "err" {
			err = e
			continue
		}
		lf[k] = v
	}
	e := l.E.WithFields(lf)
	if err != nil {
		e = e.WithError(err)
	}
	return e
}
