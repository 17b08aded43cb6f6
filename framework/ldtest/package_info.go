// Package ldtest runs tests and aggregates their results, including results reported by other
// execution contexts.
//
// A Suite owns a set of TestCases. Each test moves through the phases INITIAL, STARTED,
// HAS_RESULT and COMPLETE, and the suite decides when the whole run is finished: when every test
// is complete, every attached remote context has reported its own completion, and nothing is
// holding the run open. Deadlines turn silence into TIMEOUT results.
//
// Everything that changes suite or test state runs on a single goroutine, the suite's Loop.
// Timers, remote channel readers and asynchronous test code post their work onto the loop
// rather than touching state directly.
//
// Events are published through a CallbackBus and can be exported over a Channel to an observer
// in another process, which is how suites are nested: the outer suite attaches the inner one as
// a remote context.
package ldtest
