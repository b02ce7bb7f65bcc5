package kvstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryGetPutDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Put(ctx, "k", []byte("v")))
	v, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)

	require.NoError(t, m.Delete(ctx, "k"))
	_, err = m.Get(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Delete(ctx, "already-gone"))
}

func TestMemoryIteratorPrefixAndOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Put(ctx, "address:b", []byte("2")))
	require.NoError(t, m.Put(ctx, "address:a", []byte("1")))
	require.NoError(t, m.Put(ctx, "token:z", []byte("3")))

	it, err := m.Iterator(ctx, "address:")
	require.NoError(t, err)
	defer it.Close()

	var keys []string
	for it.Next() {
		keys = append(keys, it.Entry().Key)
	}
	require.NoError(t, it.Err())
	require.Equal(t, []string{"address:a", "address:b"}, keys)
}

func TestMemoryClear(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Put(ctx, "k", []byte("v")))
	require.NoError(t, m.Clear(ctx))

	it, err := m.Iterator(ctx, "")
	require.NoError(t, err)
	require.False(t, it.Next())
}
