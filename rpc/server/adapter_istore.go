package server

import (
	"fmt"

	"github.com/ValentinKolb/mvkv/lib/store"
	"github.com/ValentinKolb/mvkv/rpc/common"
)

// NewIStoreServerAdapter translates key-value requests into store.IStore calls
func NewIStoreServerAdapter() IRPCServerAdapter {
	return &iStoreServerAdapterImpl{}
}

type iStoreServerAdapterImpl struct{}

func (adapter *iStoreServerAdapterImpl) Handle(req *common.Message, s store.IStore) *common.Message {
	// Check for nil store
	if s == nil {
		return common.NewErrorResponse("handler: store is nil")
	}

	// Handle different message types
	switch req.MsgType {
	case common.MsgTKVPut:
		return common.NewResponse(req.MsgType, s.Put(req.Key, req.Value))
	case common.MsgTKVDelete:
		return common.NewResponse(req.MsgType, s.Delete(req.Key))
	case common.MsgTKVClear:
		return common.NewResponse(req.MsgType, s.Clear())
	case common.MsgTKVGet:
		val, ok, err := s.Get(req.Key)
		return common.NewGetResponse(val, ok, err)
	case common.MsgTKVHas:
		ok, err := s.Has(req.Key)
		return common.NewHasResponse(ok, err)
	case common.MsgTKVEntries:
		entries, err := s.Entries(req.Key)
		return common.NewEntriesResponse(entries, err)
	case common.MsgTKVInfo:
		info, err := s.GetDBInfo()
		return common.NewInfoResponse(info, err)
	default:
		return unsupported("IStoreAdapter", req.MsgType)
	}
}

func unsupported(adapter string, t common.MessageType) *common.Message {
	return common.NewResponse(t, store.Errorf(store.RetCUnsupportedOperation,
		"RPC %s - Unsupported message type: %s", adapter, t))
}

// describe is used in log lines
func describe(req *common.Message) string {
	if req.Key != "" {
		return fmt.Sprintf("%s(%q)", req.MsgType, req.Key)
	}
	return req.MsgType.String()
}
