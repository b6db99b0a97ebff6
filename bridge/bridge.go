package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/smallnest/chanx"

	"github.com/filegrind/keyapi-go/internal/logx"
	"github.com/filegrind/keyapi-go/wire"
)

// FatalHandler is invoked once when the bridge fails for good: the engine could not
// be started, exited abnormally, or its streams broke.
type FatalHandler func(err error)

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger the bridge and its connection log to.
func WithLogger(log zerolog.Logger) Option {
	return func(b *Bridge) {
		b.log = log
	}
}

// WithFatalHandler replaces the default handler, which exits the host process.
func WithFatalHandler(h FatalHandler) Option {
	return func(b *Bridge) {
		b.onFatal = h
	}
}

// WithMetrics records bridge activity on m.
func WithMetrics(m *Metrics) Option {
	return func(b *Bridge) {
		b.metrics = m
	}
}

// WithExitGrace sets how long to wait for the engine's exit status after its
// output fails, and for the engine to exit on its own after Close.
func WithExitGrace(d time.Duration) Option {
	return func(b *Bridge) {
		b.exitGrace = d
	}
}

// WithLimits bounds the frames accepted from the engine.
func WithLimits(l wire.Limits) Option {
	return func(b *Bridge) {
		b.limits = l
	}
}

// Bridge connects application callers to one engine process.
//
// Create one with New at startup, Start it, and share it with everything that
// needs Call. Calls never time out on their own; bound them with the context.
type Bridge struct {
	id        uuid.UUID
	engine    EngineConfig
	log       zerolog.Logger
	onFatal   FatalHandler
	metrics   *Metrics
	exitGrace time.Duration
	limits    wire.Limits

	queue *chanx.UnboundedChan[*Call]

	mu      sync.RWMutex
	started bool
	closed  bool

	proc   *Process
	stdout io.Closer
	done   chan struct{}
	err  error
}

// New creates a bridge for engine. Nothing is started until Start or Attach.
func New(engine EngineConfig, opts ...Option) *Bridge {
	id := uuid.New()
	b := &Bridge{
		id:        id,
		engine:    engine,
		log:       logx.Log,
		exitGrace: DefaultExitGrace,
		limits:    wire.DefaultLimits(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.With().Str("bridge_id", id.String()).Logger()
	if b.onFatal == nil {
		b.onFatal = ExitOnFatal(engine, b.log)
	}
	b.queue = chanx.NewUnboundedChan[*Call](context.Background(), 16)
	return b
}

// ID identifies this bridge instance in logs.
func (b *Bridge) ID() string {
	return b.id.String()
}

// Start launches the engine process and begins serving calls.
// A spawn failure is reported to the FatalHandler and returned.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.markStarted(); err != nil {
		return err
	}

	proc, err := Launch(b.engine)
	if err != nil {
		b.log.Error().Err(err).Str("program", b.engine.Program).Strs("args", b.engine.Args).Msg("engine did not start")
		b.finish(err)
		return err
	}
	b.proc = proc
	b.log.Info().Str("program", b.engine.Program).Strs("args", b.engine.Args).Int("pid", proc.Pid()).Msg("engine started")

	conn := b.newConnection(proc.Stdin(), proc.Stdout(), proc.Exited())
	go b.serve(ctx, conn)
	return nil
}

// Attach serves calls over already-connected engine streams, for engines that
// run in-process or were started elsewhere. exited may be nil. When stdout is an
// io.Closer the bridge closes it once it stops.
func (b *Bridge) Attach(ctx context.Context, stdin io.Writer, stdout io.Reader, exited <-chan error) error {
	if err := b.markStarted(); err != nil {
		return err
	}
	if c, ok := stdout.(io.Closer); ok {
		b.stdout = c
	}
	conn := b.newConnection(stdin, stdout, exited)
	go b.serve(ctx, conn)
	return nil
}

func (b *Bridge) markStarted() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.started {
		return errors.New("bridge already started")
	}
	b.started = true
	return nil
}

func (b *Bridge) newConnection(stdin io.Writer, stdout io.Reader, exited <-chan error) *Connection {
	log := b.log
	return NewConnection(stdin, stdout, b.queue.Out, exited, ConnectionOptions{
		Limits:    b.limits,
		ExitGrace: b.exitGrace,
		Logger:    &log,
		Metrics:   b.metrics,
	})
}

func (b *Bridge) serve(ctx context.Context, conn *Connection) {
	err := conn.Run(ctx)
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		b.log.Info().Msg("bridge stopped by host")
		err = nil
	}
	b.finish(err)
}

// finish stops accepting calls, releases the engine, records the result, and
// escalates fatal failures.
func (b *Bridge) finish(err error) {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.queue.In)
	}
	b.mu.Unlock()

	b.drain()

	if b.proc != nil {
		b.proc.Shutdown(b.exitGrace)
	}
	if b.stdout != nil {
		// Unblocks the connection's reader.
		b.stdout.Close()
	}

	b.err = err
	close(b.done)

	if err != nil && IsFatal(err) {
		b.onFatal(err)
	}
}

// drain discards calls that were queued but never written; no one will answer
// them.
func (b *Bridge) drain() {
	go func() {
		for range b.queue.Out {
		}
	}()
}

// Call sends method with params to the engine and waits for its response.
// The returned value is the response's result, else its error, else JSON null.
// There is no timeout: Call waits until the response arrives or ctx ends.
func (b *Bridge) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	out, err := b.CallOutcome(ctx, method, params)
	if err != nil {
		return nil, err
	}
	return out.Value, nil
}

// CallOutcome is Call, also reporting whether the value came from the error member.
func (b *Bridge) CallOutcome(ctx context.Context, method string, params any) (wire.Outcome, error) {
	call, err := NewCall(method, params)
	if err != nil {
		return wire.Outcome{}, err
	}
	if err := b.submit(call); err != nil {
		return wire.Outcome{}, err
	}

	select {
	case out := <-call.Reply():
		return out, nil
	case <-ctx.Done():
		// The request stays pending on the engine side; its response will be dropped.
		return wire.Outcome{}, ctx.Err()
	}
}

func (b *Bridge) submit(call *Call) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	b.queue.In <- call
	return nil
}

// Close stops accepting calls. Calls already queued are still written, after which
// the connection ends and the engine is asked to exit.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.queue.In)
	if !b.started {
		b.started = true
		b.drain()
		close(b.done)
	}
	return nil
}

// Done is closed when the bridge has stopped.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until the bridge stops and returns why it stopped: nil for a clean
// end, otherwise the fatal error.
func (b *Bridge) Wait() error {
	<-b.done
	return b.err
}

// ExitOnFatal returns the handler that reports a fatal bridge failure with a
// remediation hint and terminates the host process with status 1.
func ExitOnFatal(engine EngineConfig, log zerolog.Logger) FatalHandler {
	return func(err error) {
		ReportFatal(log, engine, err)
		os.Exit(1)
	}
}

// ReportFatal logs a fatal bridge failure with the expected engine location and
// the remediation hint.
func ReportFatal(log zerolog.Logger, engine EngineConfig, err error) {
	ev := log.Error().Err(err)
	if engine.ExpectedPath != "" {
		ev = ev.Str("expected_path", engine.ExpectedPath)
	}
	if code := ExitCode(err); code >= 0 {
		ev = ev.Int("exit_code", code)
	}
	ev.Msg("failed to start prover")
	if engine.Hint != "" {
		log.Error().Msg(engine.Hint)
	}
}
