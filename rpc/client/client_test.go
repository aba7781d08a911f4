package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/mvkv/lib/db"
	"github.com/ValentinKolb/mvkv/lib/db/engines/maple"
	"github.com/ValentinKolb/mvkv/lib/store"
	"github.com/ValentinKolb/mvkv/lib/store/mvstore"
	"github.com/ValentinKolb/mvkv/lib/syncer"
	"github.com/ValentinKolb/mvkv/rpc/common"
	"github.com/ValentinKolb/mvkv/rpc/serializer"
	"github.com/ValentinKolb/mvkv/rpc/server"
	"github.com/ValentinKolb/mvkv/rpc/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	localShard = 1
	mvShard    = 2
)

// loopback connects client and server transport in process
type loopback struct {
	mu      sync.Mutex
	handler transport.ServerHandleFunc
	ready   chan struct{}
	stop    chan struct{}
	once    sync.Once
}

func newLoopback() *loopback {
	return &loopback{ready: make(chan struct{}), stop: make(chan struct{})}
}

func (l *loopback) RegisterHandler(handler transport.ServerHandleFunc) {
	l.mu.Lock()
	l.handler = handler
	l.mu.Unlock()
}

func (l *loopback) Listen(common.ServerConfig) error {
	close(l.ready)
	<-l.stop
	return nil
}

func (l *loopback) Shutdown(context.Context) error {
	l.once.Do(func() { close(l.stop) })
	return nil
}

func (l *loopback) Connect(common.ClientConfig) error { return nil }

func (l *loopback) Send(ctx context.Context, shardId uint64, req []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	h := l.handler
	l.mu.Unlock()
	return h(shardId, req), nil
}

func (l *loopback) Close() error { return nil }

// startServer runs a server with one local and one multi-version shard
func startServer(t *testing.T, ser serializer.IRPCSerializer) *loopback {
	t.Helper()
	l := newLoopback()
	srv := server.NewRPCServer(common.ServerConfig{
		Shards: []common.ServerShard{
			{ShardID: localShard, Type: common.ShardTypeLocalIStore},
			{ShardID: mvShard, Type: common.ShardTypeMultiVersionIStore},
		},
		Engine:   common.EngineMaple,
		Device:   "server",
		LogLevel: "info",
	}, l, ser)

	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()
	select {
	case <-l.ready:
	case err := <-done:
		t.Fatalf("server failed: %v", err)
	}
	t.Cleanup(func() {
		require.NoError(t, srv.Shutdown(context.Background()))
		require.NoError(t, <-done)
	})
	return l
}

func clientConfig() common.ClientConfig {
	return common.ClientConfig{Endpoints: []string{"loopback"}, TimeoutSecond: 5, RetryCount: 1}
}

func TestRPCStore(t *testing.T) {
	for name, ser := range map[string]serializer.IRPCSerializer{
		"binary": serializer.NewBinarySerializer(),
		"json":   serializer.NewJSONSerializer(),
		"gob":    serializer.NewGOBSerializer(),
	} {
		t.Run(name, func(t *testing.T) {
			l := startServer(t, ser)
			for _, shard := range []uint64{localShard, mvShard} {
				s, err := NewRPCStore(shard, clientConfig(), l, ser)
				require.NoError(t, err)

				require.NoError(t, s.Put("a/1", []byte("one")))
				require.NoError(t, s.Put("a/2", []byte("two")))
				require.NoError(t, s.Put("b/1", []byte("three")))

				v, ok, err := s.Get("a/1")
				require.NoError(t, err)
				assert.True(t, ok)
				assert.Equal(t, []byte("one"), v)

				_, ok, err = s.Get("missing")
				require.NoError(t, err)
				assert.False(t, ok)

				ok, err = s.Has("b/1")
				require.NoError(t, err)
				assert.True(t, ok)

				entries, err := s.Entries("a/")
				require.NoError(t, err)
				assert.Equal(t, []store.Entry{{Key: "a/1", Value: []byte("one")}, {Key: "a/2", Value: []byte("two")}}, entries)

				// the error code survives the round trip
				err = s.Delete("missing")
				assert.True(t, store.IsNotFound(err), "got %v", err)
				err = s.Put("", []byte("x"))
				assert.True(t, store.IsInvalidArgs(err), "got %v", err)

				require.NoError(t, s.Clear())
				entries, err = s.Entries("")
				require.NoError(t, err)
				assert.Empty(t, entries)

				info, err := s.GetDBInfo()
				require.NoError(t, err)
				assert.Equal(t, db.ImplMaple, info.DbType)
				assert.NotNil(t, info.Metadata)

				require.NoError(t, s.Close())
			}
		})
	}
}

func TestRPCUnknownShard(t *testing.T) {
	ser := serializer.NewBinarySerializer()
	l := startServer(t, ser)
	s, err := NewRPCStore(99, clientConfig(), l, ser)
	require.NoError(t, err)
	_, _, err = s.Get("k")
	assert.Error(t, err)
}

func TestRPCPeerPull(t *testing.T) {
	ctx := context.Background()
	ser := serializer.NewBinarySerializer()
	l := startServer(t, ser)

	remote, err := NewRPCStore(mvShard, clientConfig(), l, ser)
	require.NoError(t, err)
	require.NoError(t, remote.Put("shared", []byte("from server")))
	require.NoError(t, remote.Put("big", make([]byte, 200_000)))
	require.NoError(t, remote.Delete("shared"))
	require.NoError(t, remote.Put("kept", []byte("yes")))

	opts := mvstore.DefaultOptions()
	opts.Device = "laptop"
	opts.VacuumInterval = 0
	local, err := mvstore.Open(func() (db.KVEngine, error) { return maple.NewMapleDB(nil), nil }, opts)
	require.NoError(t, err)
	defer local.Close()

	peer, err := NewRPCPeer(mvShard, clientConfig(), l, ser)
	require.NoError(t, err)

	behind, err := syncer.Behind(ctx, local, peer)
	require.NoError(t, err)
	assert.Equal(t, []string{"server"}, behind)

	res, err := syncer.Pull(ctx, local, peer)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Fetched)
	require.NotNil(t, res.Merge)

	entries, err := local.Entries("")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "big", entries[0].Key)
	assert.Len(t, entries[0].Value, 200_000)
	assert.Equal(t, store.Entry{Key: "kept", Value: []byte("yes")}, entries[1])

	behind, err = syncer.Behind(ctx, local, peer)
	require.NoError(t, err)
	assert.Empty(t, behind)
}

func TestRPCPeerRequiresMultiVersionShard(t *testing.T) {
	ser := serializer.NewJSONSerializer()
	l := startServer(t, ser)
	peer, err := NewRPCPeer(localShard, clientConfig(), l, ser)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = peer.LatestCommits(ctx)
	assert.Equal(t, store.RetCUnsupportedOperation, store.CodeOf(err))
}
