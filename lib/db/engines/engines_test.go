package engines

import (
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/mvkv/lib/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpener(t *testing.T) {
	for _, name := range Names {
		t.Run(name, func(t *testing.T) {
			open, err := Opener(name, filepath.Join(t.TempDir(), name))
			require.NoError(t, err)

			engine, err := open()
			require.NoError(t, err)
			defer engine.Close()
			assert.Equal(t, db.Implementation(name), engine.GetInfo().DbType)

			txn, err := engine.Begin(true)
			require.NoError(t, err)
			require.NoError(t, txn.Set([]byte("k"), []byte("v")))
			require.NoError(t, txn.Commit())
		})
	}
}

func TestOpenerErrors(t *testing.T) {
	_, err := Opener("rocksdb", "")
	assert.Error(t, err)
	_, err = Opener("badger", "")
	assert.Error(t, err)
	_, err = Opener("MAPLE", "")
	assert.NoError(t, err)
}
