// Package harness contains the transports that connect a suite to other execution contexts.
//
// Each transport implements ldtest.Channel. PipeEnd connects two suites in the same process,
// WebSocketChannel connects to another process over a websocket, and CallbackChannel drives a
// suite running inside an external test service over HTTP, with the service posting its
// messages back to a mock endpoint hosted by the TestHarness.
package harness
