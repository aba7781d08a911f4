package server

import (
	"github.com/ValentinKolb/mvkv/lib/store"
	"github.com/ValentinKolb/mvkv/lib/store/mvstore"
	"github.com/ValentinKolb/mvkv/rpc/common"
)

// NewSyncServerAdapter serves the read side of the sync protocol for
// multi-version stores. Key-value requests are passed to kv.
func NewSyncServerAdapter(kv IRPCServerAdapter) IRPCServerAdapter {
	return &syncServerAdapterImpl{kv: kv}
}

type syncServerAdapterImpl struct {
	kv IRPCServerAdapter
}

func (adapter *syncServerAdapterImpl) Handle(req *common.Message, s store.IStore) *common.Message {
	switch req.MsgType {
	case common.MsgTSyncLatest, common.MsgTSyncTree, common.MsgTSyncEntries:
	default:
		return adapter.kv.Handle(req, s)
	}

	mv, ok := s.(*mvstore.Store)
	if !ok {
		return common.NewResponse(req.MsgType, store.NewError(store.RetCUnsupportedOperation,
			"sync requires a multi-version store"))
	}

	switch req.MsgType {
	case common.MsgTSyncLatest:
		latest, err := mv.GetLatestCommits()
		commits := make([]common.CommitNode, 0, len(latest))
		for _, c := range latest {
			commits = append(commits, common.FromCommit(c))
		}
		return common.NewCommitsResponse(req.MsgType, commits, err)
	case common.MsgTSyncTree:
		tree, err := mv.GetCommitTree(req.KnownTips())
		return common.NewCommitsResponse(req.MsgType, common.FromCommits(tree), err)
	default:
		entries, err := mv.GetCommitEntries(req.Value)
		msg := common.NewResponse(req.MsgType, err)
		if err == nil {
			msg.Entries = common.FromCommitEntries(entries)
		}
		return msg
	}
}
