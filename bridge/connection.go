package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/filegrind/keyapi-go/internal/logx"
	"github.com/filegrind/keyapi-go/wire"
)

// DefaultExitGrace is how long the connection waits for the engine's exit status
// once its output stream has failed.
const DefaultExitGrace = 2 * time.Second

var errInvalidParams = errors.New("params are not valid JSON")

// Call is one queued request together with its single-use response slot.
type Call struct {
	Method string
	Params json.RawMessage

	reply  chan wire.Outcome
	queued time.Time
}

// NewCall serializes params and prepares an unfulfilled call.
func NewCall(method string, params any) (*Call, error) {
	var raw json.RawMessage
	switch p := params.(type) {
	case nil:
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, errInvalidParams
		}
		raw = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return &Call{
		Method: method,
		Params: raw,
		reply:  make(chan wire.Outcome, 1),
		queued: time.Now(),
	}, nil
}

// Reply returns the channel the call's outcome is delivered on, exactly once.
func (c *Call) Reply() <-chan wire.Outcome {
	return c.reply
}

// inbound is one result of the reader goroutine.
type inbound struct {
	msg  *wire.Response
	size int
	err  error
}

// ConnectionOptions tunes a Connection. The zero value is usable.
type ConnectionOptions struct {
	Limits    wire.Limits
	ExitGrace time.Duration
	Logger    *zerolog.Logger
	Metrics   *Metrics
}

// Connection multiplexes calls from many goroutines onto one engine stream.
//
// Run's goroutine is the only writer to the engine and the only user of the
// pending table; a reader goroutine is the only reader. Responses are matched to
// calls by id alone, in whatever order they arrive.
type Connection struct {
	writer    *wire.FrameWriter
	reader    *wire.FrameReader
	calls     <-chan *Call
	exited    <-chan error
	nextID    uint64
	pending   map[uint64]*Call
	exitGrace time.Duration
	log       zerolog.Logger
	metrics   *Metrics
}

// NewConnection wires a connection to the engine's input and output streams.
// calls is the queue of outgoing calls; closing it ends the connection cleanly.
// exited receives the engine's exit status; a nil channel means no process is watched.
func NewConnection(stdin io.Writer, stdout io.Reader, calls <-chan *Call, exited <-chan error, opts ConnectionOptions) *Connection {
	reader := wire.NewFrameReader(stdout)
	if opts.Limits.MaxFrame > 0 {
		reader.SetLimits(opts.Limits)
	}
	grace := opts.ExitGrace
	if grace <= 0 {
		grace = DefaultExitGrace
	}
	log := logx.Log
	if opts.Logger != nil {
		log = *opts.Logger
	}
	return &Connection{
		writer:    wire.NewFrameWriter(stdin),
		reader:    reader,
		calls:     calls,
		exited:    exited,
		pending:   make(map[uint64]*Call),
		exitGrace: grace,
		log:       log,
		metrics:   opts.Metrics,
	}
}

// Run processes events until the engine exits, the call queue closes, ctx ends,
// or a fatal error occurs. A clean engine exit and a closed queue return nil.
func (c *Connection) Run(ctx context.Context) error {
	incoming := make(chan inbound)
	stop := make(chan struct{})
	defer close(stop)
	go c.readLoop(incoming, stop)

	for {
		select {
		case err := <-c.exited:
			return c.exitResult(err)

		case call, ok := <-c.calls:
			if !ok {
				c.log.Info().Int("pending", len(c.pending)).Msg("call queue closed")
				return nil
			}
			if err := c.dispatch(call); err != nil {
				return err
			}

		case in := <-incoming:
			if in.err != nil {
				return c.readFailure(in.err)
			}
			c.metrics.recordFrame("in", in.size)
			c.deliver(in.msg)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Pending returns the number of calls awaiting a response. Only safe from Run's
// goroutine or after Run returned.
func (c *Connection) Pending() int {
	return len(c.pending)
}

func (c *Connection) readLoop(out chan<- inbound, stop <-chan struct{}) {
	for {
		before := c.reader.Consumed()
		msg, err := c.reader.Recv()
		in := inbound{msg: msg, size: int(c.reader.Consumed() - before), err: err}
		select {
		case out <- in:
		case <-stop:
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *Connection) dispatch(call *Call) error {
	id := c.nextID
	c.nextID++

	n, err := c.writer.WriteRequest(call.Method, call.Params, id)
	if err != nil {
		c.log.Error().Err(err).Str("method", call.Method).Uint64("id", id).Msg("write failed")
		return &BridgeError{Type: BridgeErrorTypeWrite, Method: call.Method, Err: err}
	}
	c.pending[id] = call

	c.metrics.recordCall(call.Method)
	c.metrics.recordFrame("out", n)
	c.metrics.setPending(len(c.pending))
	c.log.Trace().Str("method", call.Method).Uint64("id", id).Int("bytes", n).Msg("TX")
	return nil
}

func (c *Connection) deliver(msg *wire.Response) {
	if msg.ID == nil {
		c.metrics.recordDiscard("no_id")
		c.log.Debug().Msg("discarding message without id")
		return
	}
	id := *msg.ID
	call, ok := c.pending[id]
	if !ok {
		c.metrics.recordDiscard("unknown_id")
		c.log.Debug().Uint64("id", id).Msg("discarding response for unknown id")
		return
	}
	delete(c.pending, id)

	out := msg.Outcome()
	// The slot has room for exactly one outcome, so this never blocks. A caller
	// that stopped waiting simply never reads it.
	select {
	case call.reply <- out:
	default:
	}

	c.metrics.setPending(len(c.pending))
	c.metrics.recordDelivery(call.Method, out.Failed, time.Since(call.queued))
	c.log.Trace().Str("method", call.Method).Uint64("id", id).Bool("error", out.Failed).Msg("RX")
}

// readFailure turns a reader error into the connection's result. A failed stream
// reports the engine's exit status instead if it arrives within the grace period.
func (c *Connection) readFailure(err error) error {
	var readErr *wire.ReadError
	if errors.As(err, &readErr) && readErr.Type == wire.ReadErrorTypeIo && c.exited != nil {
		timer := time.NewTimer(c.exitGrace)
		defer timer.Stop()
		select {
		case exitErr := <-c.exited:
			return c.exitResult(exitErr)
		case <-timer.C:
		}
	}
	c.log.Error().Err(err).Int("pending", len(c.pending)).Msg("engine stream failed")
	return &BridgeError{Type: BridgeErrorTypeRead, Err: err}
}

func (c *Connection) exitResult(err error) error {
	c.metrics.recordExit(err == nil)
	if err == nil {
		c.log.Info().Int("pending", len(c.pending)).Msg("engine exited")
		return nil
	}
	c.log.Error().Err(err).Int("exit_code", ExitCode(err)).Int("pending", len(c.pending)).Msg("engine exited abnormally")
	return &BridgeError{Type: BridgeErrorTypeProcessExited, Err: err}
}
