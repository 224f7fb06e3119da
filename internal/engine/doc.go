// Package engine defines the boundary between the gateway and the inference
// engine that actually generates tokens. The gateway only needs two calls:
//
//   - ModelConfig: one metadata round-trip, performed when the serving facade
//     is built.
//   - Generate: start a generation and pull its outputs incrementally.
//
// Implementations:
//
//   - llamaserver: HTTP client for a running llama.cpp server.
//   - spawn: starts a llama.cpp server subprocess, then delegates to llamaserver.
//   - inproc: in-process go-llama.cpp engine. Enabled with `-tags=llama`; a
//     stub reporting a dependency-unavailable error is compiled otherwise.
//
// The engine is shared by all requests; implementations must be safe for
// concurrent use.
package engine
