// Package enginetest provides a small engine that speaks the framed JSON-RPC
// protocol, for exercising the bridge without a JVM.
package enginetest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/filegrind/keyapi-go/wire"
)

// JSON-RPC error codes the stub engine answers with.
const (
	CodeParseError     = -32700
	CodeMethodNotFound = -32601
	CodeInternalError  = -32603
)

// Request is one decoded request frame.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	ID      *uint64         `json:"id,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// RPCError is sent as a response's error member.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// RawResponse is written to the stream verbatim instead of a built response, so a
// handler can produce malformed or unsolicited messages.
type RawResponse json.RawMessage

// ErrNoReply makes the engine send nothing for a request.
var ErrNoReply = errors.New("no reply")

// Handler answers one request. A returned *RPCError becomes the error member; any
// other error becomes an internal error.
type Handler interface {
	ServeRPC(req *Request) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(req *Request) (any, error)

// ServeRPC calls f(req).
func (f HandlerFunc) ServeRPC(req *Request) (any, error) {
	return f(req)
}

// Pong answers every request with "pong".
var Pong = HandlerFunc(func(req *Request) (any, error) {
	return "pong", nil
})

// Echo answers with the request's params, or null when there are none.
var Echo = HandlerFunc(func(req *Request) (any, error) {
	if len(req.Params) == 0 {
		return nil, nil
	}
	return req.Params, nil
})

// Mux routes requests to handlers by method name.
type Mux struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewMux creates an empty Mux. Unregistered methods answer method-not-found.
func NewMux() *Mux {
	return &Mux{handlers: make(map[string]Handler)}
}

// Register registers a handler for a method
func (m *Mux) Register(method string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[method] = h
}

// HandleFunc registers a handler function for a method
func (m *Mux) HandleFunc(method string, f func(req *Request) (any, error)) {
	m.Register(method, HandlerFunc(f))
}

// ServeRPC dispatches req to the handler registered for its method.
func (m *Mux) ServeRPC(req *Request) (any, error) {
	m.mu.RLock()
	h, ok := m.handlers[req.Method]
	m.mu.RUnlock()
	if !ok {
		return nil, &RPCError{Code: CodeMethodNotFound, Message: "method not found: " + req.Method}
	}
	return h.ServeRPC(req)
}

// Default returns the stub engine's standard method set.
func Default() *Mux {
	m := NewMux()
	m.Register("ping", Pong)
	m.Register("echo", Echo)
	m.HandleFunc("meta/version", func(*Request) (any, error) {
		return "stub-engine 1.0", nil
	})
	return m
}

// Serve reads request frames from r and writes one response frame per request to
// w. Requests are handled concurrently, so responses may leave in any order.
// It returns nil once r ends cleanly between frames.
func Serve(r io.Reader, w io.Writer, h Handler) error {
	reader := wire.NewFrameReader(r)
	out := &syncWriter{writer: wire.NewFrameWriter(w)}

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		payload, err := reader.ReadFrame()
		if err != nil {
			var readErr *wire.ReadError
			if errors.As(err, &readErr) && readErr.Type == wire.ReadErrorTypeIo &&
				errors.Is(err, io.ErrUnexpectedEOF) && reader.Buffered() == 0 {
				return nil
			}
			return err
		}

		var req Request
		if err := json.Unmarshal(payload, &req); err != nil {
			if werr := out.reply(nil, nil, &RPCError{Code: CodeParseError, Message: err.Error()}); werr != nil {
				return werr
			}
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := h.ServeRPC(&req)
			out.respond(&req, result, err)
		}()

		if err := out.failure(); err != nil {
			return err
		}
	}
}

// syncWriter serializes response frames from concurrent handlers. The first write
// error is kept under its own lock so the read loop can check it while a write
// is blocked.
type syncWriter struct {
	mu     sync.Mutex
	writer *wire.FrameWriter

	errMu sync.Mutex
	err   error
}

func (s *syncWriter) respond(req *Request, result any, err error) {
	if errors.Is(err, ErrNoReply) {
		return
	}
	if raw, ok := result.(RawResponse); ok && err == nil {
		s.write([]byte(raw))
		return
	}
	if req.ID == nil {
		return
	}
	if err != nil {
		var rpcErr *RPCError
		if !errors.As(err, &rpcErr) {
			rpcErr = &RPCError{Code: CodeInternalError, Message: err.Error()}
		}
		s.reply(req.ID, nil, rpcErr)
		return
	}
	s.reply(req.ID, result, nil)
}

func (s *syncWriter) reply(id *uint64, result any, rpcErr *RPCError) error {
	msg := map[string]any{"jsonrpc": wire.Version, "id": id}
	if rpcErr != nil {
		msg["error"] = rpcErr
	} else {
		msg["result"] = result
	}
	body, err := json.Marshal(msg)
	if err != nil {
		body, _ = json.Marshal(map[string]any{
			"jsonrpc": wire.Version,
			"id":      id,
			"error":   &RPCError{Code: CodeInternalError, Message: err.Error()},
		})
	}
	return s.write(body)
}

func (s *syncWriter) write(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(); err != nil {
		return err
	}
	if _, err := s.writer.WriteFrame(payload); err != nil {
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()
		return err
	}
	return nil
}

func (s *syncWriter) failure() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Attached is an engine served in-process over pipes.
type Attached struct {
	// Stdin is where requests are written; closing it ends the engine cleanly.
	Stdin io.WriteCloser
	// Stdout carries the engine's responses.
	Stdout io.Reader
	// Exited receives Serve's result once, after Stdout has been closed.
	Exited <-chan error
}

// Start serves h in a goroutine over a fresh pair of pipes.
func Start(h Handler) *Attached {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	exited := make(chan error, 1)
	go func() {
		err := Serve(inR, outW, h)
		inR.CloseWithError(io.ErrClosedPipe)
		outW.Close()
		exited <- err
	}()
	return &Attached{Stdin: inW, Stdout: outR, Exited: exited}
}
