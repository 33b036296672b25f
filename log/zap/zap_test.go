package zap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/unkn0wn-root/fieldsync"
)

func TestLoggerForwardsLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := New(zap.New(core))

	l.Debug("d", nil)
	l.Info("drain completed", fieldsync.Fields{"module": "coordinator", "attempted": 3})
	l.Warn("w", fieldsync.Fields{"err": errors.New("boom"), "nothing": nil})
	l.Error("e", fieldsync.Fields{})

	entries := logs.All()
	require.Len(t, entries, 4)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "fieldsync", entries[1].LoggerName)

	ctx := entries[1].ContextMap()
	assert.Equal(t, "coordinator", ctx["module"])
	assert.EqualValues(t, 3, ctx["attempted"])

	warn := entries[2].ContextMap()
	assert.Equal(t, "boom", warn["err"])
	assert.NotContains(t, warn, "nothing")
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
}

func TestNewNil(t *testing.T) {
	assert.NotPanics(t, func() { New(nil).Info("x", fieldsync.Fields{"a": 1}) })
}
