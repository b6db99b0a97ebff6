package enginetest

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filegrind/keyapi-go/wire"
)

func requestFrames(t *testing.T, reqs ...string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	for _, r := range reqs {
		require.True(t, json.Valid([]byte(r)), r)
		buf.Write(wire.EncodeFrame([]byte(r)))
	}
	return &buf
}

func readResponses(t *testing.T, out []byte) map[uint64]*wire.Response {
	t.Helper()
	reader := wire.NewFrameReader(bytes.NewReader(out))
	got := make(map[uint64]*wire.Response)
	for reader.Consumed() < uint64(len(out)) {
		resp, err := reader.Recv()
		require.NoError(t, err)
		require.NotNil(t, resp.ID)
		got[*resp.ID] = resp
	}
	return got
}

// TEST300: The default engine answers ping, echo and unknown methods by id
func Test300_default_methods(t *testing.T) {
	in := requestFrames(t,
		`{"jsonrpc":"2.0","method":"ping","id":0}`,
		`{"jsonrpc":"2.0","method":"echo","id":1,"params":{"x":"é"}}`,
		`{"jsonrpc":"2.0","method":"nope","id":2}`,
	)
	var out bytes.Buffer
	require.NoError(t, Serve(in, &out, Default()))

	got := readResponses(t, out.Bytes())
	require.Len(t, got, 3)

	assert.JSONEq(t, `"pong"`, string(got[0].Outcome().Value))
	assert.JSONEq(t, `{"x":"é"}`, string(got[1].Outcome().Value))

	notFound := got[2].Outcome()
	assert.True(t, notFound.Failed)
	var rpcErr RPCError
	require.NoError(t, json.Unmarshal(notFound.Value, &rpcErr))
	assert.Equal(t, CodeMethodNotFound, rpcErr.Code)
}

// TEST301: Notifications and ErrNoReply produce no response frame
func Test301_no_reply(t *testing.T) {
	mux := Default()
	mux.HandleFunc("silent", func(*Request) (any, error) { return nil, ErrNoReply })
	in := requestFrames(t,
		`{"jsonrpc":"2.0","method":"ping"}`,
		`{"jsonrpc":"2.0","method":"silent","id":5}`,
	)
	var out bytes.Buffer
	require.NoError(t, Serve(in, &out, mux))
	assert.Empty(t, out.Bytes())
}

// TEST302: A handler error that is not an RPCError is reported as an internal error
func Test302_internal_error(t *testing.T) {
	mux := NewMux()
	mux.HandleFunc("boom", func(*Request) (any, error) { return nil, assert.AnError })
	var out bytes.Buffer
	require.NoError(t, Serve(requestFrames(t, `{"jsonrpc":"2.0","method":"boom","id":9}`), &out, mux))

	got := readResponses(t, out.Bytes())
	outcome := got[9].Outcome()
	require.True(t, outcome.Failed)
	var rpcErr RPCError
	require.NoError(t, json.Unmarshal(outcome.Value, &rpcErr))
	assert.Equal(t, CodeInternalError, rpcErr.Code)
	assert.Equal(t, assert.AnError.Error(), rpcErr.Message)
}

// TEST303: Input ending inside a frame is an error, not a clean end
func Test303_truncated_input(t *testing.T) {
	framed := wire.EncodeFrame([]byte(`{"jsonrpc":"2.0","method":"ping","id":0}`))
	var out bytes.Buffer
	err := Serve(bytes.NewReader(framed[:len(framed)-3]), &out, Default())
	require.Error(t, err)
	var readErr *wire.ReadError
	require.ErrorAs(t, err, &readErr)
	assert.Equal(t, wire.ReadErrorTypeIo, readErr.Type)
}

// TEST304: A RawResponse is written verbatim
func Test304_raw_response(t *testing.T) {
	mux := NewMux()
	mux.HandleFunc("raw", func(*Request) (any, error) {
		return RawResponse(`{"jsonrpc":"2.0","result":"unsolicited"}`), nil
	})
	var out bytes.Buffer
	require.NoError(t, Serve(requestFrames(t, `{"jsonrpc":"2.0","method":"raw","id":1}`), &out, mux))
	assert.Equal(t, string(wire.EncodeFrame([]byte(`{"jsonrpc":"2.0","result":"unsolicited"}`))), out.String())
}

// TEST305: A started engine answers over its pipes and reports a clean exit after stdin closes
func Test305_start(t *testing.T) {
	eng := Start(Default())
	w := wire.NewFrameWriter(eng.Stdin)
	_, err := w.WriteRequest("ping", nil, 7)
	require.NoError(t, err)

	resp, err := wire.NewFrameReader(eng.Stdout).Recv()
	require.NoError(t, err)
	require.NotNil(t, resp.ID)
	assert.Equal(t, uint64(7), *resp.ID)
	assert.JSONEq(t, `"pong"`, string(resp.Outcome().Value))

	require.NoError(t, eng.Stdin.Close())
	assert.NoError(t, <-eng.Exited)
}
