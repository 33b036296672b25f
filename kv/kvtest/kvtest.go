// Package kvtest is a behavioral suite every kv.Store implementation must pass.
package kvtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/fieldsync/kv"
)

// Run exercises the kv.Store contract against stores produced by newStore.
// newStore is called once per subtest and the store is closed afterwards.
func Run(t *testing.T, newStore func(t *testing.T) kv.Store) {
	t.Helper()

	t.Run("miss", func(t *testing.T) {
		s := open(t, newStore)
		v, ok, err := s.Get(context.Background(), "fieldsync:missing")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, v)
	})

	t.Run("set_get_overwrite", func(t *testing.T) {
		ctx := context.Background()
		s := open(t, newStore)

		require.NoError(t, s.Set(ctx, "fieldsync:queue", []byte("v1")))
		v, ok, err := s.Get(ctx, "fieldsync:queue")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("v1"), v)

		require.NoError(t, s.Set(ctx, "fieldsync:queue", []byte("v2")))
		v, ok, err = s.Get(ctx, "fieldsync:queue")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("v2"), v)
	})

	t.Run("binary_transparent", func(t *testing.T) {
		ctx := context.Background()
		s := open(t, newStore)

		in := []byte{'F', 'S', 'Y', 'N', 0, 0xff, 0x00, 0x7f}
		require.NoError(t, s.Set(ctx, "fieldsync:cache:queries", in))
		v, ok, err := s.Get(ctx, "fieldsync:cache:queries")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, in, v)
	})

	t.Run("delete", func(t *testing.T) {
		ctx := context.Background()
		s := open(t, newStore)

		require.NoError(t, s.Set(ctx, "fieldsync:blobs:index", []byte("x")))
		require.NoError(t, s.Del(ctx, "fieldsync:blobs:index"))
		_, ok, err := s.Get(ctx, "fieldsync:blobs:index")
		require.NoError(t, err)
		assert.False(t, ok)

		// deleting again is not an error
		require.NoError(t, s.Del(ctx, "fieldsync:blobs:index"))
	})
}

func open(t *testing.T, newStore func(t *testing.T) kv.Store) kv.Store {
	t.Helper()
	s := newStore(t)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}
