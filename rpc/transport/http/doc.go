// Package http is the network transport of mvkv. It carries serialized
// messages as HTTP request and response bodies.
//
// Routes of the server transport:
//
//	POST /{shardId}  body is a serialized request, response body the reply
//	GET  /metrics    Prometheus metrics of the process
//	GET  /healthz    liveness probe
//
// Request bodies above MaxRequestBytes are rejected. At debug log level
// every request is logged with its status and duration.
//
// Key Components:
//
//   - httpClientTransport: implements IRPCClientTransport. Endpoints without
//     a scheme get http://. Requests are spread round-robin over the
//     endpoints and retried on the next endpoint after transport errors.
//
//   - httpServerTransport: implements IRPCServerTransport on a net/http
//     Server with graceful Shutdown.
//
// Thread Safety:
//
//	Both transports are safe for concurrent use. The round-robin cursor is
//	an atomic counter.
package http
