package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backends shared by the contract tests below.
func openBackends(t *testing.T) map[string]KV {
	t.Helper()

	badgerStore, err := OpenBadger(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { badgerStore.Close() })

	return map[string]KV{
		"memory": NewMemory(),
		"badger": badgerStore,
	}
}

func TestKVGetPutDelete(t *testing.T) {
	for name, kv := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := kv.Get([]byte("missing"))
			assert.ErrorIs(t, err, ErrKeyNotFound)

			require.NoError(t, kv.Put([]byte("file/1"), []byte("one")))
			got, err := kv.Get([]byte("file/1"))
			require.NoError(t, err)
			assert.Equal(t, []byte("one"), got)

			require.NoError(t, kv.Put([]byte("file/1"), []byte("two")))
			got, err = kv.Get([]byte("file/1"))
			require.NoError(t, err)
			assert.Equal(t, []byte("two"), got)

			require.NoError(t, kv.Delete([]byte("file/1")))
			_, err = kv.Get([]byte("file/1"))
			assert.ErrorIs(t, err, ErrKeyNotFound)
		})
	}
}

func TestKVListPrefix(t *testing.T) {
	for name, kv := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 3; i++ {
				key := fmt.Sprintf("file/%d", i)
				require.NoError(t, kv.Put([]byte(key), []byte(key)))
			}
			require.NoError(t, kv.Put([]byte("conflict/0"), []byte("c")))

			var seen []string
			err := kv.List([]byte("file/"), func(key, value []byte) error {
				seen = append(seen, string(key))
				return nil
			})
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"file/0", "file/1", "file/2"}, seen)
		})
	}
}

func TestKVListPropagatesCallbackError(t *testing.T) {
	kv := NewMemory()
	require.NoError(t, kv.Put([]byte("file/0"), []byte("x")))

	boom := errors.New("boom")
	err := kv.List([]byte("file/"), func(key, value []byte) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestMemoryInjectedFailure(t *testing.T) {
	kv := NewMemory()
	kv.SetFailure(errors.New("disk full"))

	assert.Error(t, kv.Put([]byte("k"), []byte("v")))

	kv.SetFailure(nil)
	assert.NoError(t, kv.Put([]byte("k"), []byte("v")))
}
