package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/fieldsync/kv"
	"github.com/unkn0wn-root/fieldsync/kv/kvtest"
)

func TestContract(t *testing.T) {
	kvtest.Run(t, func(*testing.T) kv.Store { return New() })
}

func TestValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	s := New()

	in := []byte("abc")
	require.NoError(t, s.Set(ctx, "k", in))
	in[0] = 'X'

	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "abc", string(v))

	v[1] = 'Y'
	v2, _, _ := s.Get(ctx, "k")
	assert.Equal(t, "abc", string(v2))
	assert.Equal(t, []string{"k"}, s.Keys())
}
