package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedReader hands out one scripted chunk per Read call and records every call.
type scriptedReader struct {
	chunks [][]byte
	reads  int
	spaces []int
}

func (s *scriptedReader) Read(p []byte) (int, error) {
	s.reads++
	s.spaces = append(s.spaces, len(p))
	if len(s.chunks) == 0 {
		return 0, io.EOF
	}
	chunk := s.chunks[0]
	n := copy(p, chunk)
	if n < len(chunk) {
		s.chunks[0] = chunk[n:]
	} else {
		s.chunks = s.chunks[1:]
	}
	return n, nil
}

// countingWriter records each Write call separately.
type countingWriter struct {
	writes [][]byte
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.writes = append(c.writes, bytes.Clone(p))
	return len(p), nil
}

type brokenPipe struct{}

func (brokenPipe) Write(p []byte) (int, error) {
	return 0, io.ErrClosedPipe
}

const pongResponse = `{"jsonrpc":"2.0","id":0,"result":"pong"}`

// TEST020: A frame split at any offset decodes the same as one delivered whole
func Test020_incremental_delivery(t *testing.T) {
	framed := EncodeFrame([]byte(pongResponse))

	whole, err := NewFrameReader(&scriptedReader{chunks: [][]byte{framed}}).Recv()
	require.NoError(t, err)

	for split := 1; split < len(framed); split++ {
		src := &scriptedReader{chunks: [][]byte{
			bytes.Clone(framed[:split]),
			bytes.Clone(framed[split:]),
		}}
		got, err := NewFrameReader(src).Recv()
		require.NoError(t, err, "split at %d", split)
		assert.Equal(t, whole, got, "split at %d", split)
		assert.Equal(t, 2, src.reads, "split at %d", split)
	}
}

// TEST021: Two frames delivered by one read drain across two Recv calls without another read
func Test021_multi_frame_drain(t *testing.T) {
	first := EncodeFrame([]byte(`{"jsonrpc":"2.0","id":1,"result":1}`))
	second := EncodeFrame([]byte(`{"jsonrpc":"2.0","id":2,"error":{"code":-32601}}`))
	src := &scriptedReader{chunks: [][]byte{append(append([]byte{}, first...), second...)}}
	reader := NewFrameReader(src)

	msg, err := reader.Recv()
	require.NoError(t, err)
	require.NotNil(t, msg.ID)
	assert.Equal(t, uint64(1), *msg.ID)
	assert.Equal(t, 1, src.reads)
	assert.Equal(t, len(second), reader.Buffered())

	msg, err = reader.Recv()
	require.NoError(t, err)
	require.NotNil(t, msg.ID)
	assert.Equal(t, uint64(2), *msg.ID)
	assert.Equal(t, 1, src.reads, "second frame must come from the buffer")
	assert.Zero(t, reader.Buffered())
	assert.Equal(t, uint64(len(first)+len(second)), reader.Consumed())
}

// TEST022: Every read offers at least 256 bytes and the buffer grows by doubling
func Test022_read_space_and_growth(t *testing.T) {
	payload, err := json.Marshal(map[string]string{"text": strings.Repeat("é", 3000)})
	require.NoError(t, err)
	framed := EncodeFrame(payload)

	var chunks [][]byte
	for off := 0; off < len(framed); off += 100 {
		end := min(off+100, len(framed))
		chunks = append(chunks, bytes.Clone(framed[off:end]))
	}
	src := &scriptedReader{chunks: chunks}
	reader := NewFrameReader(src)

	got, err := reader.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	for i, space := range src.spaces {
		assert.GreaterOrEqual(t, space, MinReadSpace, "read %d", i)
	}
	size := len(reader.buf)
	assert.GreaterOrEqual(t, size, len(framed))
	for size > MinReadSpace {
		require.Zero(t, size%2, "buffer size %d is not a doubling of %d", len(reader.buf), MinReadSpace)
		size /= 2
	}
	assert.Equal(t, MinReadSpace, size)
}

// TEST023: End of stream before a complete frame is an unexpected EOF
func Test023_unexpected_eof(t *testing.T) {
	framed := EncodeFrame([]byte(pongResponse))
	reader := NewFrameReader(&scriptedReader{chunks: [][]byte{framed[:10]}})

	_, err := reader.Recv()

	var readErr *ReadError
	require.True(t, errors.As(err, &readErr), "got %v", err)
	assert.Equal(t, ReadErrorTypeIo, readErr.Type)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

// TEST024: A stream error other than EOF is reported as-is
func Test024_stream_error(t *testing.T) {
	r, w := io.Pipe()
	require.NoError(t, r.CloseWithError(io.ErrClosedPipe))
	defer w.Close()

	_, err := NewFrameReader(r).Recv()

	var readErr *ReadError
	require.True(t, errors.As(err, &readErr), "got %v", err)
	assert.Equal(t, ReadErrorTypeIo, readErr.Type)
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

// TEST025: A payload that is not JSON is a fatal decode error
func Test025_invalid_json(t *testing.T) {
	reader := NewFrameReader(&scriptedReader{chunks: [][]byte{EncodeFrame([]byte("not json"))}})

	_, err := reader.Recv()

	var readErr *ReadError
	require.True(t, errors.As(err, &readErr), "got %v", err)
	assert.Equal(t, ReadErrorTypeInvalidJSON, readErr.Type)
}

// TEST026: A corrupted header surfaces as a parse error wrapping the token mismatch
func Test026_corrupted_header(t *testing.T) {
	reader := NewFrameReader(&scriptedReader{chunks: [][]byte{[]byte("Content-Lenght: 2\r\n\r\n{}")}})

	_, err := reader.Recv()

	var readErr *ReadError
	require.True(t, errors.As(err, &readErr), "got %v", err)
	assert.Equal(t, ReadErrorTypeParse, readErr.Type)
	var tokErr *UnexpectedTokenError
	assert.True(t, errors.As(err, &tokErr))
}

// TEST027: Payloads handed out by ReadFrame survive buffer compaction
func Test027_read_frame_not_aliased(t *testing.T) {
	first := EncodeFrame([]byte(`{"n":1}`))
	second := EncodeFrame([]byte(`{"n":2}`))
	reader := NewFrameReader(&scriptedReader{chunks: [][]byte{append(append([]byte{}, first...), second...)}})

	a, err := reader.ReadFrame()
	require.NoError(t, err)
	b, err := reader.ReadFrame()
	require.NoError(t, err)

	assert.Equal(t, `{"n":1}`, string(a))
	assert.Equal(t, `{"n":2}`, string(b))
}

// TEST028: A request is framed and written in one contiguous write
func Test028_write_request_single_write(t *testing.T) {
	w := &countingWriter{}
	writer := NewFrameWriter(w)

	n, err := writer.WriteRequest("ping", map[string]any{}, 0)
	require.NoError(t, err)

	body := `{"jsonrpc":"2.0","method":"ping","id":0,"params":{}}`
	expected := "Content-Length: 52\r\n\r\n" + body
	require.Len(t, w.writes, 1)
	assert.Equal(t, expected, string(w.writes[0]))
	assert.Equal(t, len(expected), n)
	assert.Equal(t, uint64(len(expected)), writer.Written())
}

// TEST029: Multi-byte params are measured in bytes
func Test029_write_request_byte_length(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewFrameWriter(&buf).WriteRequest("loading/loadKey", "é", 3)
	require.NoError(t, err)

	payload, consumed, err := ParseFrame(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, buf.Len(), consumed)

	var req Request
	require.NoError(t, json.Unmarshal(payload, &req))
	assert.Equal(t, Version, req.JSONRPC)
	assert.Equal(t, "loading/loadKey", req.Method)
	require.NotNil(t, req.ID)
	assert.Equal(t, uint64(3), *req.ID)
	assert.JSONEq(t, `"é"`, string(req.Params))
}

// TEST030: Nil params are omitted from the envelope
func Test030_nil_params_omitted(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewFrameWriter(&buf).WriteRequest("meta/version", nil, 1)
	require.NoError(t, err)

	payload, _, err := ParseFrame(buf.Bytes())
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"meta/version","id":1}`, string(payload))
}

// TEST031: Write failures propagate to the caller
func Test031_write_failure(t *testing.T) {
	_, err := NewFrameWriter(brokenPipe{}).WriteRequest("ping", nil, 0)
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

// TEST032: Params that cannot be serialized fail before anything is written
func Test032_unserializable_params(t *testing.T) {
	w := &countingWriter{}
	_, err := NewFrameWriter(w).WriteRequest("ping", make(chan int), 0)
	assert.Error(t, err)
	assert.Empty(t, w.writes)
}

// TEST033: Outcome prefers result, then error, then null
func Test033_response_outcome(t *testing.T) {
	cases := []struct {
		body   string
		value  string
		failed bool
	}{
		{`{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`, `{"ok":true}`, false},
		{`{"jsonrpc":"2.0","id":1,"error":{"code":-1,"message":"boom"}}`, `{"code":-1,"message":"boom"}`, true},
		{`{"jsonrpc":"2.0","id":1}`, `null`, false},
		{`{"jsonrpc":"2.0","id":1,"result":null}`, `null`, false},
		{`{"jsonrpc":"2.0","id":1,"result":"x","error":"y"}`, `"x"`, false},
	}
	for _, tc := range cases {
		var resp Response
		require.NoError(t, json.Unmarshal([]byte(tc.body), &resp), tc.body)
		out := resp.Outcome()
		assert.JSONEq(t, tc.value, string(out.Value), tc.body)
		assert.Equal(t, tc.failed, out.Failed, tc.body)
	}
}

// TEST034: A response without an id decodes with a nil ID
func Test034_unsolicited_response(t *testing.T) {
	var resp Response
	require.NoError(t, json.Unmarshal([]byte(`{"jsonrpc":"2.0","result":"hello"}`), &resp))
	assert.Nil(t, resp.ID)

	require.NoError(t, json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":null,"result":"hello"}`), &resp))
	assert.Nil(t, resp.ID)
}

// TEST035: A payload that is JSON but not an object is a fatal decode error
func Test035_non_object_payload(t *testing.T) {
	for _, payload := range []string{`null`, `[]`, `"x"`, `42`} {
		reader := NewFrameReader(&scriptedReader{chunks: [][]byte{EncodeFrame([]byte(payload))}})

		_, err := reader.Recv()

		var readErr *ReadError
		require.True(t, errors.As(err, &readErr), "%s: got %v", payload, err)
		assert.Equal(t, ReadErrorTypeInvalidJSON, readErr.Type, payload)
	}

	var resp Response
	assert.Error(t, json.Unmarshal([]byte(`null`), &resp))
}
