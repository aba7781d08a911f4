package lstore

import (
	"strings"
	"testing"

	"github.com/ValentinKolb/mvkv/lib/db"
	"github.com/ValentinKolb/mvkv/lib/db/engines/maple"
	"github.com/ValentinKolb/mvkv/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) store.IStore {
	t.Helper()
	s, err := NewLocalStore(func() (db.KVEngine, error) { return maple.NewMapleDB(nil), nil })
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetDelete(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.Put("a", []byte("1")))
	require.NoError(t, s.Put("a", []byte("2")))

	v, ok, err := s.Get("a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("2"), v)

	require.NoError(t, s.Delete("a"))
	_, ok, err = s.Get("a")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, store.IsNotFound(s.Delete("a")))
}

func TestValidation(t *testing.T) {
	s := newStore(t)
	assert.True(t, store.IsInvalidArgs(s.Put("", []byte("x"))))
	assert.True(t, store.IsInvalidArgs(s.Put(strings.Repeat("k", maxKeyLength+1), nil)))
	assert.True(t, store.IsInvalidArgs(s.Put("big", make([]byte, maxValueLength+1))))
}

func TestEntriesAndClear(t *testing.T) {
	s := newStore(t)
	for _, k := range []string{"p/2", "p/1", "q/1"} {
		require.NoError(t, s.Put(k, []byte(k)))
	}

	entries, err := s.Entries("p/")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "p/1", entries[0].Key)
	assert.Equal(t, "p/2", entries[1].Key)

	require.NoError(t, s.Clear())
	entries, err = s.Entries("")
	require.NoError(t, err)
	assert.Empty(t, entries)

	has, err := s.Has("q/1")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestInfo(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Put("a", []byte("1")))

	info, err := s.GetDBInfo()
	require.NoError(t, err)
	assert.Equal(t, db.ImplMaple, info.DbType)
}
