// Package wire implements the engine's stdio protocol: Content-Length framed
// JSON-RPC envelopes, an incremental frame parser, and the reader and writer that
// carry them over the child's standard streams.
package wire
