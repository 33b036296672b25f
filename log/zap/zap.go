// Package zap adapts a *zap.Logger to fieldsync.Logger.
package zap

import (
	"sort"

	"go.uber.org/zap"

	"github.com/unkn0wn-root/fieldsync"
)

var _ fieldsync.Logger = Logger{}

// Logger forwards to L. Error values are attached with zap.NamedError so they
// keep their structure in JSON output.
type Logger struct{ L *zap.Logger }

// New names the logger "fieldsync". A nil l yields a no-op logger.
func New(l *zap.Logger) Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return Logger{L: l.Named("fieldsync")}
}

func (z Logger) Debug(msg string, f fieldsync.Fields) { z.L.Debug(msg, fields(f)...) }
func (z Logger) Info(msg string, f fieldsync.Fields)  { z.L.Info(msg, fields(f)...) }
func (z Logger) Warn(msg string, f fieldsync.Fields)  { z.L.Warn(msg, fields(f)...) }
func (z Logger) Error(msg string, f fieldsync.Fields) { z.L.Error(msg, fields(f)...) }

func fields(f fieldsync.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(f))
	for _, k := range keys {
		switch v := f[k].(type) {
		case error:
			out = append(out, zap.NamedError(k, v))
		case nil:
			// skip
		default:
			out = append(out, zap.Any(k, v))
		}
	}
	return out
}
