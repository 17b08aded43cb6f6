// Package framework contains the low-level implementation of the test collector that can be
// reused by different kinds of test programs. The base package contains shared types such as
// Logger, test filters, and result summaries; other components are in the subpackages harness
// and ldtest.
//
// The general model is:
//
// 1. A suite (package ldtest) runs independent, possibly asynchronous tests inside one
// execution context, tracks each test's lifecycle, and decides when the whole run is done.
//
// 2. The suite can incorporate results produced by other execution contexts as if they were
// local tests. Those contexts are reached through a message channel (package harness provides
// in-memory, WebSocket, and HTTP test service implementations).
//
// 3. A suite can also export its own events to external observers over the same kind of
// channel, so aggregation can be nested.
//
// The wire format of the messages is defined in the servicedef package.
package framework
