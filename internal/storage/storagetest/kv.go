// Package storagetest holds the behaviour every storage.KV backend must share.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"beam/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunKVContract exercises a KV backend. newKV must return an empty store.
func RunKVContract(t *testing.T, newKV func(t *testing.T) storage.KV) {
	t.Helper()
	ctx := context.Background()

	t.Run("get missing returns ErrNotFound", func(t *testing.T) {
		kv := newKV(t)
		_, err := kv.Get(ctx, "device:missing")
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	})

	t.Run("put then get round trips", func(t *testing.T) {
		kv := newKV(t)
		require.NoError(t, kv.Put(ctx, "device:chr_abcdef", []byte(`{"deviceId":"chr_abcdef"}`), 0))

		got, err := kv.Get(ctx, "device:chr_abcdef")
		require.NoError(t, err)
		assert.JSONEq(t, `{"deviceId":"chr_abcdef"}`, string(got))
	})

	t.Run("put overwrites", func(t *testing.T) {
		kv := newKV(t)
		require.NoError(t, kv.Put(ctx, "k", []byte("one"), 0))
		require.NoError(t, kv.Put(ctx, "k", []byte("two"), time.Hour))

		got, err := kv.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "two", string(got))
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		kv := newKV(t)
		require.NoError(t, kv.Put(ctx, "k", []byte("v"), 0))
		require.NoError(t, kv.Delete(ctx, "k"))
		require.NoError(t, kv.Delete(ctx, "k"))

		_, err := kv.Get(ctx, "k")
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	})

	t.Run("list filters by prefix in order", func(t *testing.T) {
		kv := newKV(t)
		for _, key := range []string{
			"pending:chr_bbbbbb:itm_2",
			"pending:chr_aaaaaa:itm_9",
			"pending:chr_aaaaaa:itm_1",
			"pending:chr_aaaaaab:itm_3",
			"device:chr_aaaaaa",
		} {
			require.NoError(t, kv.Put(ctx, key, []byte("x"), time.Hour))
		}

		keys, err := kv.List(ctx, "pending:chr_aaaaaa:")
		require.NoError(t, err)
		assert.Equal(t, []string{"pending:chr_aaaaaa:itm_1", "pending:chr_aaaaaa:itm_9"}, keys)
	})

	t.Run("list treats prefix literally", func(t *testing.T) {
		kv := newKV(t)
		require.NoError(t, kv.Put(ctx, "rate:10.0.0.1", []byte("x"), time.Hour))
		require.NoError(t, kv.Put(ctx, "rate:100", []byte("x"), time.Hour))
		require.NoError(t, kv.Put(ctx, "rate_%", []byte("x"), time.Hour))

		keys, err := kv.List(ctx, "rate:10.")
		require.NoError(t, err)
		assert.Equal(t, []string{"rate:10.0.0.1"}, keys)
	})

	t.Run("values are binary safe", func(t *testing.T) {
		kv := newKV(t)
		value := []byte{0x00, 0xff, 0x10, '"'}
		require.NoError(t, kv.Put(ctx, "bin", value, 0))

		got, err := kv.Get(ctx, "bin")
		require.NoError(t, err)
		assert.Equal(t, value, got)
	})
}
