// Package keyapi provides a typed client for the KeY prover's JSON-RPC API.
//
// The client is transport independent: it talks to any Caller, normally a
// *bridge.Bridge that runs the prover as a child process.
package keyapi
