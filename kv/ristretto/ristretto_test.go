package ristretto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/fieldsync/kv"
	"github.com/unkn0wn-root/fieldsync/kv/kvtest"
)

func TestContract(t *testing.T) {
	kvtest.Run(t, func(t *testing.T) kv.Store {
		s, err := New(Config{NumCounters: 1000, MaxCost: 1 << 20, BufferItems: 64})
		require.NoError(t, err)
		return s
	})
}

func TestInvalidConfig(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
