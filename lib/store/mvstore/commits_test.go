package mvstore

import (
	"testing"

	"github.com/ValentinKolb/mvkv/lib/db"
	"github.com/ValentinKolb/mvkv/lib/db/engines/maple"
	"github.com/ValentinKolb/mvkv/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withTxn(t *testing.T, engine db.KVEngine, fn func(txn db.Txn)) {
	t.Helper()
	txn, err := engine.Begin(true)
	require.NoError(t, err)
	fn(txn)
	require.NoError(t, txn.Commit())
}

func node(id, left, right string, version uint64, device string) *Commit {
	c := &Commit{ID: []byte(id), Version: version, Timestamp: version * 10, Device: device}
	if left != "" {
		c.Left = []byte(left)
	}
	if right != "" {
		c.Right = []byte(right)
	}
	return c
}

func ids(commits []*Commit) []string {
	out := make([]string, len(commits))
	for i, c := range commits {
		out[i] = string(c.ID)
	}
	return out
}

func TestAddCommitValidation(t *testing.T) {
	engine := maple.NewMapleDB(nil)
	defer engine.Close()
	vs := newVersionStore("a")

	withTxn(t, engine, func(txn db.Txn) {
		require.NoError(t, vs.AddCommit(txn, node("root", "", "", 1, "a"), true))

		cases := []struct {
			name string
			c    *Commit
			code store.RetCode
		}{
			{"empty id", node("", "", "", 2, "a"), store.RetCInvalidArgs},
			{"id too long", node(string(make([]byte, MaxCommitIDLength+1)), "", "", 2, "a"), store.RetCInvalidArgs},
			{"self left", node("x", "x", "", 2, "a"), store.RetCInvalidArgs},
			{"self right", node("x", "root", "x", 2, "a"), store.RetCInvalidArgs},
			{"same parents", node("x", "root", "root", 2, "a"), store.RetCInvalidArgs},
			{"missing left", node("x", "nope", "", 2, "a"), store.RetCUnexpectedData},
			{"missing right", node("x", "root", "nope", 2, "a"), store.RetCUnexpectedData},
			{"too large", &Commit{ID: []byte("x"), Device: string(make([]byte, MaxCommitSerialLength))}, store.RetCInvalidArgs},
		}
		for _, tc := range cases {
			err := vs.AddCommit(txn, tc.c, true)
			assert.Equal(t, tc.code, store.CodeOf(err), tc.name)
		}

		// nothing was written by the rejected nodes
		ok, err := vs.CommitExists(txn, []byte("x"))
		require.NoError(t, err)
		assert.False(t, ok)
		header, err := vs.GetHeader(txn)
		require.NoError(t, err)
		assert.Equal(t, []byte("root"), header)
	})
}

func TestHeaderRemoveAndSet(t *testing.T) {
	engine := maple.NewMapleDB(nil)
	defer engine.Close()
	vs := newVersionStore("a")

	withTxn(t, engine, func(txn db.Txn) {
		require.NoError(t, vs.AddCommit(txn, node("c1", "", "", 1, "a"), true))
		require.NoError(t, vs.AddCommit(txn, node("c2", "c1", "", 2, "a"), true))

		// only the header can be removed
		assert.True(t, store.IsUnexpectedData(vs.RemoveCommit(txn, []byte("c1"))))
		require.NoError(t, vs.RemoveCommit(txn, []byte("c2")))
		header, err := vs.GetHeader(txn)
		require.NoError(t, err)
		assert.Equal(t, []byte("c1"), header)

		assert.True(t, store.IsNotFound(vs.SetHeader(txn, []byte("c2"))))
		require.NoError(t, vs.SetHeader(txn, nil))
		header, err = vs.GetHeader(txn)
		require.NoError(t, err)
		assert.Nil(t, header)
	})
}

// twelveNodeDAG builds the history of device a that merged device b twice:
//
//	a1 - a2 - a3 ------ m1 - a4 - a5 ------ m2 - a6
//	b1 - b2 ----------/ \-- b3 - b4 -------/
func twelveNodeDAG(t *testing.T, engine db.KVEngine, vs *versionStore) {
	withTxn(t, engine, func(txn db.Txn) {
		for _, c := range []*Commit{
			node("a1", "", "", 1, "a"),
			node("a2", "a1", "", 2, "a"),
			node("a3", "a2", "", 3, "a"),
			node("b1", "", "", 4, "b"),
			node("b2", "b1", "", 5, "b"),
			node("m1", "a3", "b2", 6, "a"),
			node("a4", "m1", "", 7, "a"),
			node("a5", "a4", "", 8, "a"),
			node("b3", "b2", "", 9, "b"),
			node("b4", "b3", "", 10, "b"),
			node("m2", "a5", "b4", 11, "a"),
			node("a6", "m2", "", 12, "a"),
		} {
			require.NoError(t, vs.AddCommit(txn, c, c.Device == "a"))
		}
	})
}

func TestLatestCommitsAndTree(t *testing.T) {
	engine := maple.NewMapleDB(nil)
	defer engine.Close()
	vs := newVersionStore("a")
	twelveNodeDAG(t, engine, vs)

	txn, err := engine.Begin(false)
	require.NoError(t, err)
	defer txn.Rollback()

	latest, err := vs.GetLatestCommits(txn)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "a6", string(latest["a"].ID))
	assert.Equal(t, "b4", string(latest["b"].ID))

	all, err := vs.GetAllCommitsInTree(txn)
	require.NoError(t, err)
	assert.Equal(t, []string{"a6", "m2", "b4", "b3", "a5", "a4", "m1", "b2", "b1", "a3", "a2", "a1"}, ids(all))

	tree, err := vs.GetCommitTree(txn, map[string][]byte{"a": []byte("a3"), "b": []byte("b2")})
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "a4", "a5", "b3", "b4", "m2", "a6"}, ids(tree))

	// a device without a cursor gets everything
	tree, err = vs.GetCommitTree(txn, map[string][]byte{"a": []byte("a6")})
	require.NoError(t, err)
	assert.Equal(t, []string{"b1", "b2", "b3", "b4"}, ids(tree))

	// an unknown cursor means the caller is ahead for that device
	tree, err = vs.GetCommitTree(txn, map[string][]byte{"a": []byte("a6"), "b": []byte("b9")})
	require.NoError(t, err)
	assert.Empty(t, tree)

	tree, err = vs.GetCommitTree(txn, nil)
	require.NoError(t, err)
	assert.Len(t, tree, 12)
	for i := 1; i < len(tree); i++ {
		assert.Less(t, tree[i-1].Version, tree[i].Version)
	}

	chain, err := vs.headerChain(txn)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2", "a3", "m1", "a4", "a5", "m2", "a6"}, ids(chain))
}

func TestWalkDetectsMissingParent(t *testing.T) {
	engine := maple.NewMapleDB(nil)
	defer engine.Close()
	vs := newVersionStore("a")
	twelveNodeDAG(t, engine, vs)

	withTxn(t, engine, func(txn db.Txn) {
		require.NoError(t, vs.deleteCommit(txn, []byte("b3")))
		_, err := vs.GetLatestCommits(txn)
		assert.True(t, store.IsUnexpectedData(err))
	})
}

func TestHeaderAlwaysResolves(t *testing.T) {
	s := newTestStore(t, "a")
	for i := 0; i < 5; i++ {
		mustPut(t, s, "k", "v")
		header, err := s.GetHeader()
		require.NoError(t, err)
		require.NotNil(t, header)

		// walking the parents terminates and visits every commit once
		all, err := s.GetAllCommitsInTree()
		require.NoError(t, err)
		assert.Len(t, all, i+1)
	}
}
