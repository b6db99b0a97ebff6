// Package bridge runs the verification engine as a child process and multiplexes
// concurrent calls onto its framed JSON-RPC stream.
//
// A Bridge owns one engine. Callers submit requests through an unbounded queue;
// a single Connection goroutine assigns ids, writes requests, and matches
// responses back to callers by id. Engine death or a corrupted stream is fatal
// and is reported to the bridge's FatalHandler, which by default exits the host.
package bridge
