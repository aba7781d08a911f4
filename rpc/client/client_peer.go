package client

import (
	"context"

	"github.com/ValentinKolb/mvkv/lib/store/mvstore"
	"github.com/ValentinKolb/mvkv/lib/syncer"
	"github.com/ValentinKolb/mvkv/rpc/common"
	"github.com/ValentinKolb/mvkv/rpc/serializer"
	"github.com/ValentinKolb/mvkv/rpc/transport"
)

// NewRPCPeer creates a syncer.Peer for the multi-version store of a remote
// shard. Close the transport when done.
func NewRPCPeer(
	shardId uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (syncer.Peer, error) {
	if err := transport.Connect(config); err != nil {
		return nil, err
	}
	return &rpcPeer{
		rpcClientAdapter{
			shardId:    shardId,
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}, nil
}

type rpcPeer struct {
	rpcClientAdapter
}

// --------------------------------------------------------------------------
// Interface Methods (docu see syncer.Peer)
// --------------------------------------------------------------------------

func (p *rpcPeer) LatestCommits(ctx context.Context) (map[string]*mvstore.Commit, error) {
	resp, err := p.invoke(ctx, common.NewSyncLatestRequest())
	if err != nil {
		return nil, err
	}
	latest := make(map[string]*mvstore.Commit, len(resp.Commits))
	for _, n := range resp.Commits {
		latest[n.Device] = n.ToCommit()
	}
	return latest, nil
}

func (p *rpcPeer) CommitTree(ctx context.Context, knownTips map[string][]byte) ([]*mvstore.Commit, error) {
	resp, err := p.invoke(ctx, common.NewSyncTreeRequest(knownTips))
	if err != nil {
		return nil, err
	}
	return common.ToCommits(resp.Commits), nil
}

func (p *rpcPeer) CommitEntries(ctx context.Context, id []byte) ([]mvstore.CommitEntry, error) {
	resp, err := p.invoke(ctx, common.NewSyncEntriesRequest(id))
	if err != nil {
		return nil, err
	}
	return common.ToCommitEntries(resp.Entries), nil
}
