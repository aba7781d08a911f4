// Package server implements the RPC server. A server hosts any number of
// shards; each shard is an independent store routed by its shard id.
//
// Key Components:
//
//   - IRPCServerAdapter: translates a request into calls on a store.IStore.
//
//   - NewIStoreServerAdapter: key-value operations (Put, Get, Has, Delete,
//     Clear, Entries, Info) for both store variants.
//
//   - NewSyncServerAdapter: wraps the key-value adapter and answers the sync
//     requests (latest commits, commit tree, commit entries) of a
//     multi-version store.
//
//   - RPCServer: opens the shard stores on the configured engine, dispatches
//     requests and records per message type request, error and latency
//     metrics with VictoriaMetrics.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Shards: []common.ServerShard{
//	    {ShardID: 1, Type: common.ShardTypeMultiVersionIStore},
//	    {ShardID: 2, Type: common.ShardTypeLocalIStore},
//	  },
//	  Engine:   common.EngineBadger,
//	  DataDir:  "/var/lib/mvkv",
//	  Device:   "server-1",
//	  Endpoint: "0.0.0.0:8080",
//	  LogLevel: "info",
//	}
//
//	s := server.NewRPCServer(config, http.NewHttpServerTransport(), serializer.NewBinarySerializer())
//	go func() {
//	  <-ctx.Done()
//	  _ = s.Shutdown(context.Background())
//	}()
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Thread Safety:
//
//	Requests are handled concurrently; the stores serialize what needs
//	serializing. Serve and Shutdown are called once each.
package server
