package keyValStore

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *KeyValStore {
	t.Helper()
	kv, err := NewKeyValStore(StoreConfig{Paths: []string{filepath.Join(t.TempDir(), "kv")}})
	require.NoError(t, err)
	return kv
}

func TestKeyValStore_WriteRead(t *testing.T) {
	kv := openStore(t)
	defer kv.Close()

	require.NoError(t, kv.Write([]byte("a"), []byte("alpha")))
	v, err := kv.Read([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha"), v)

	_, err = kv.Read([]byte("missing"))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestKeyValStore_BatchAndPrefix(t *testing.T) {
	kv := openStore(t)
	defer kv.Close()

	var batch [][2][]byte
	for i := 0; i < 100; i++ {
		batch = append(batch, [2][]byte{[]byte(fmt.Sprintf("pair:%03d", i)), []byte{byte(i)}})
	}
	batch = append(batch, [2][]byte{[]byte("meta:header"), []byte("h")})
	require.NoError(t, kv.WriteBatch(batch))

	var seen []byte
	err := kv.IterateWithPrefix([]byte("pair:"), func(key, value []byte) error {
		seen = append(seen, value[0])
		return nil
	})
	require.NoError(t, err)
	require.Len(t, seen, 100)
	for i, v := range seen {
		assert.Equal(t, byte(i), v)
	}

	require.NoError(t, kv.DropPrefix([]byte("pair:")))
	count := 0
	require.NoError(t, kv.IterateWithPrefix([]byte("pair:"), func(key, value []byte) error {
		count++
		return nil
	}))
	assert.Zero(t, count)

	_, writes := kv.Counters()
	assert.Equal(t, uint64(101), writes)
}

func TestKeyValStore_Reopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "kv")
	kv, err := NewKeyValStore(StoreConfig{Paths: []string{dir}})
	require.NoError(t, err)
	require.NoError(t, kv.Write([]byte("k"), []byte("v")))
	require.NoError(t, kv.Close())

	kv, err = NewKeyValStore(StoreConfig{Paths: []string{dir}})
	require.NoError(t, err)
	defer kv.Close()
	v, err := kv.Read([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
}

func TestStoreConfig_Check(t *testing.T) {
	sc := StoreConfig{}
	assert.Error(t, sc.checkConfig())

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	sc = StoreConfig{Paths: []string{file}}
	assert.Error(t, sc.checkConfig())

	sc = StoreConfig{Paths: []string{t.TempDir()}, MinimumFreeSpace: 1 << 30}
	assert.Error(t, sc.checkConfig())
}
