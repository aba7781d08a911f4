package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ValentinKolb/mvkv/lib/db"
	"github.com/ValentinKolb/mvkv/lib/store"
	"github.com/ValentinKolb/mvkv/rpc/common"
	"github.com/ValentinKolb/mvkv/rpc/serializer"
	"github.com/ValentinKolb/mvkv/rpc/transport"
)

// NewRPCStore creates a new RPC store
// The function takes a shard ID, a config, a transport and a serializer as parameters
// It returns a store.IStore and an error
func NewRPCStore(
	shardId uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (store.IStore, error) {

	// Connect the transport
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	return &rpcStore{
		rpcClientAdapter{
			shardId:    shardId,
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}, nil
}

type rpcStore struct {
	rpcClientAdapter
}

// ctx bounds one call of the IStore surface, which has no context parameter
func (i *rpcStore) ctx() (context.Context, context.CancelFunc) {
	if i.config.TimeoutSecond <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), time.Duration(i.config.TimeoutSecond)*time.Second)
}

func (i *rpcStore) call(req *common.Message) (*common.Message, error) {
	ctx, cancel := i.ctx()
	defer cancel()
	return i.invoke(ctx, req)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the store package in interface.go)
// --------------------------------------------------------------------------

func (i *rpcStore) Put(key string, value []byte) (err error) {
	_, err = i.call(common.NewPutRequest(key, value))
	return err
}

func (i *rpcStore) Delete(key string) (err error) {
	_, err = i.call(common.NewDeleteRequest(key))
	return err
}

func (i *rpcStore) Clear() (err error) {
	_, err = i.call(common.NewClearRequest())
	return err
}

func (i *rpcStore) Get(key string) (value []byte, loaded bool, err error) {
	resp, err := i.call(common.NewGetRequest(key))
	if err != nil {
		return nil, false, err
	}
	return resp.Value, resp.Ok, nil
}

func (i *rpcStore) Has(key string) (loaded bool, err error) {
	resp, err := i.call(common.NewHasRequest(key))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (i *rpcStore) Entries(prefix string) ([]store.Entry, error) {
	resp, err := i.call(common.NewEntriesRequest(prefix))
	if err != nil {
		return nil, err
	}
	entries := make([]store.Entry, len(resp.Entries))
	for n, e := range resp.Entries {
		entries[n] = store.Entry{Key: string(e.Key), Value: e.Value}
	}
	return entries, nil
}

// GetDBInfo returns the server's info. Metadata is decoded into generic
// json values.
func (i *rpcStore) GetDBInfo() (info db.DatabaseInfo, err error) {
	resp, err := i.call(common.NewInfoRequest())
	if err != nil {
		return db.DatabaseInfo{}, err
	}
	if err := json.Unmarshal(resp.Meta, &info); err != nil {
		return db.DatabaseInfo{}, fmt.Errorf("decode info: %w", err)
	}
	return info, nil
}

// Close releases the connections of the client. The remote store stays open.
func (i *rpcStore) Close() error {
	return i.transport.Close()
}
