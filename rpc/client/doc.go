// Package client implements RPC clients for remote shards.
//
// Key Components:
//
//   - NewRPCStore: a store.IStore forwarding every operation to a shard. Each
//     call is bounded by the configured timeout. Server errors come back as
//     *store.Error with the server's code, so store.IsNotFound and friends
//     work on the client side.
//
//   - NewRPCPeer: a syncer.Peer for the multi-version store of a shard,
//     used to pull its commits into a local store.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  Endpoints:     []string{"localhost:8080"},
//	  TimeoutSecond: 5,
//	  RetryCount:    3,
//	}
//	ser := serializer.NewBinarySerializer()
//
//	s, _ := client.NewRPCStore(1, config, http.NewHttpClientTransport(), ser)
//	_ = s.Put("mykey", []byte("myvalue"))
//
//	peer, _ := client.NewRPCPeer(1, config, http.NewHttpClientTransport(), ser)
//	res, err := syncer.Pull(ctx, local, peer)
//
// Thread Safety:
//
//	All clients are safe for concurrent use.
package client
