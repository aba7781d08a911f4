package server

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/ValentinKolb/mvkv/lib/db/engines"
	"github.com/ValentinKolb/mvkv/lib/store"
	"github.com/ValentinKolb/mvkv/lib/store/lstore"
	"github.com/ValentinKolb/mvkv/lib/store/mvstore"
	"github.com/ValentinKolb/mvkv/rpc/common"
	"github.com/ValentinKolb/mvkv/rpc/serializer"
	"github.com/ValentinKolb/mvkv/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("rpc")

// serverShard is a struct that represents a shard in the RPC server
// It contains the store it encapsulates and the adapter
// that handles requests for the store
type serverShard struct {
	Store   store.IStore
	Adapter IRPCServerAdapter
}

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		http.NewHttpServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	Logger.Infof("Created RPC Server")
	Logger.Infof(config.String())

	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		shards:     xsync.NewMapOf[uint64, serverShard](),
	}
}

// RPCServer routes requests to the stores of its shards
//
// Thread-safety: requests are handled concurrently; Serve and Shutdown are
// called once each.
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	shards     *xsync.MapOf[uint64, serverShard]
}

// handle decodes, dispatches and encodes one request
func (s *RPCServer) handle(shardId uint64, req []byte) []byte {
	var msg common.Message
	var respMsg *common.Message

	start := time.Now()
	shard, ok := s.shards.Load(shardId)
	switch {
	case !ok:
		respMsg = common.NewErrorResponse(fmt.Sprintf("shard %d not found", shardId))
	default:
		if err := s.serializer.Deserialize(req, &msg); err != nil {
			respMsg = common.NewErrorResponse(fmt.Sprintf("failed to deserialize request: %s", err))
		} else {
			respMsg = shard.Adapter.Handle(&msg, shard.Store)
		}
	}
	observeRequest(msg.MsgType, respMsg, start)
	if respMsg.Err != "" {
		Logger.Debugf("shard %d: %s failed: %s", shardId, describe(&msg), respMsg.Err)
	}

	val, err := s.serializer.Serialize(*respMsg)
	if err != nil {
		Logger.Errorf("failed to serialize response: %v", err)
		val, _ = s.serializer.Serialize(*common.NewErrorResponse(fmt.Sprintf("failed to serialize response: %s", err)))
	}
	return val
}

// observeRequest records request count, errors and latency per message type
func observeRequest(t common.MessageType, resp *common.Message, start time.Time) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`mvkv_rpc_requests_total{type=%q}`, t)).Inc()
	if resp.Err != "" {
		metrics.GetOrCreateCounter(fmt.Sprintf(`mvkv_rpc_errors_total{type=%q}`, t)).Inc()
	}
	metrics.GetOrCreateHistogram(fmt.Sprintf(`mvkv_rpc_request_duration_seconds{type=%q}`, t)).UpdateDuration(start)
}

// openStore creates the store of one shard
func (s *RPCServer) openStore(shard common.ServerShard) (store.IStore, error) {
	dir := filepath.Join(s.config.DataDir, fmt.Sprintf("shard-%d", shard.ShardID))
	factory, err := engines.Opener(string(s.config.Engine), dir)
	if err != nil {
		return nil, err
	}

	switch shard.Type {
	case common.ShardTypeLocalIStore:
		return lstore.NewLocalStore(factory)
	case common.ShardTypeMultiVersionIStore:
		opts := mvstore.DefaultOptions()
		opts.Device = s.config.Device
		opts.VacuumInterval = s.config.VacuumInterval
		opts.CompressSlices = s.config.CompressSlices
		shardID := shard.ShardID
		opts.OnCorruption = func(err error) {
			Logger.Errorf("store of shard %d is corrupted and rejects all operations: %v", shardID, err)
		}
		return mvstore.NewMultiVersionStore(factory, opts)
	default:
		return nil, fmt.Errorf("invalid shard type: %s", shard.Type)
	}
}

func (s *RPCServer) init() error {
	/*
		Note: A single RPC Server can have any number of shards. Each shard is
		an independent store of one of the two variants; only multi-version
		shards answer sync requests.
	*/
	for _, shardConfig := range s.config.Shards {
		if _, ok := s.shards.Load(shardConfig.ShardID); ok {
			return fmt.Errorf("duplicate shard id %d", shardConfig.ShardID)
		}
		st, err := s.openStore(shardConfig)
		if err != nil {
			return errors.Join(fmt.Errorf("open shard %d: %w", shardConfig.ShardID, err), s.closeStores())
		}

		adapter := NewIStoreServerAdapter()
		if shardConfig.Type == common.ShardTypeMultiVersionIStore {
			adapter = NewSyncServerAdapter(adapter)
		}
		s.shards.Store(shardConfig.ShardID, serverShard{Store: st, Adapter: adapter})
		Logger.Infof("created %s for shard %d", shardConfig.Type, shardConfig.ShardID)
	}

	Logger.Infof("mvkv setup completed successfully")

	// Configure the transport layer
	s.transport.RegisterHandler(s.handle)
	return nil
}

// Serve starts the RPC server
// This function will also initialize the shards and start the transport layer.
// It blocks until Shutdown is called.
func (s *RPCServer) Serve() error {
	if err := s.init(); err != nil {
		return err
	}
	return s.transport.Listen(s.config)
}

// Shutdown stops the transport and closes every store
func (s *RPCServer) Shutdown(ctx context.Context) error {
	err := s.transport.Shutdown(ctx)
	return errors.Join(err, s.closeStores())
}

func (s *RPCServer) closeStores() error {
	var errs []error
	s.shards.Range(func(id uint64, shard serverShard) bool {
		if err := shard.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close shard %d: %w", id, err))
		}
		s.shards.Delete(id)
		return true
	})
	return errors.Join(errs...)
}
