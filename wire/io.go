package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// FrameWriter writes Content-Length framed JSON messages to a stream
type FrameWriter struct {
	writer  io.Writer
	written uint64
}

// NewFrameWriter creates a new FrameWriter
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{writer: w}
}

// WriteRequest frames a request envelope and writes it in a single Write call.
// It returns the number of framed bytes written.
func (fw *FrameWriter) WriteRequest(method string, params any, id uint64) (int, error) {
	req, err := NewRequest(method, params, id)
	if err != nil {
		return 0, fmt.Errorf("failed to encode params for %s: %w", method, err)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("failed to encode request %s: %w", method, err)
	}
	return fw.WriteFrame(body)
}

// WriteFrame writes payload with its header as one contiguous write.
func (fw *FrameWriter) WriteFrame(payload []byte) (int, error) {
	framed := EncodeFrame(payload)
	n, err := fw.writer.Write(framed)
	fw.written += uint64(n)
	if err != nil {
		return n, err
	}
	return n, nil
}

// Written returns the total number of bytes written so far
func (fw *FrameWriter) Written() uint64 {
	return fw.written
}

// FrameReader reads Content-Length framed JSON messages from a stream.
//
// It owns a growable receive buffer. Bytes beyond the first complete frame stay
// buffered, so several frames delivered by one read are handed out one per call
// without touching the stream again.
type FrameReader struct {
	reader   io.Reader
	limits   Limits
	buf      []byte
	filled   int
	consumed uint64
}

// NewFrameReader creates a new FrameReader
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{
		reader: r,
		limits: DefaultLimits(),
		buf:    make([]byte, MinReadSpace),
	}
}

// SetLimits updates the reader's limits
func (fr *FrameReader) SetLimits(limits Limits) {
	fr.limits = limits
}

// Buffered returns the number of received bytes not yet handed out.
func (fr *FrameReader) Buffered() int {
	return fr.filled
}

// Consumed returns the total number of framed bytes handed out so far.
func (fr *FrameReader) Consumed() uint64 {
	return fr.consumed
}

// Recv reads the next frame and decodes it as a response envelope.
func (fr *FrameReader) Recv() (*Response, error) {
	var resp *Response
	err := fr.next(func(payload []byte) error {
		var r Response
		if err := json.Unmarshal(payload, &r); err != nil {
			return &ReadError{Type: ReadErrorTypeInvalidJSON, Err: err}
		}
		resp = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// ReadFrame reads the next frame and returns a copy of its payload.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	var out []byte
	err := fr.next(func(payload []byte) error {
		out = bytes.Clone(payload)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// next alternates between carving a frame from the filled prefix and reading more
// bytes. handle sees the payload before the buffer is compacted and must not keep it.
func (fr *FrameReader) next(handle func(payload []byte) error) error {
	for {
		payload, n, err := ParseFrameWithLimits(fr.buf[:fr.filled], fr.limits)
		if err == nil {
			if handleErr := handle(payload); handleErr != nil {
				return handleErr
			}
			copy(fr.buf, fr.buf[n:fr.filled])
			fr.filled -= n
			fr.consumed += uint64(n)
			return nil
		}
		if !errors.Is(err, ErrNeedMoreData) {
			return &ReadError{Type: ReadErrorTypeParse, Err: err}
		}

		fr.reserve()

		read, readErr := fr.reader.Read(fr.buf[fr.filled:])
		if read > 0 {
			fr.filled += read
			continue
		}
		if readErr == nil || errors.Is(readErr, io.EOF) {
			return &ReadError{Type: ReadErrorTypeIo, Err: io.ErrUnexpectedEOF}
		}
		return &ReadError{Type: ReadErrorTypeIo, Err: readErr}
	}
}

// reserve grows the buffer by doubling until MinReadSpace bytes are free.
func (fr *FrameReader) reserve() {
	size := len(fr.buf)
	for size-fr.filled < MinReadSpace {
		size *= 2
	}
	if size == len(fr.buf) {
		return
	}
	grown := make([]byte, size)
	copy(grown, fr.buf[:fr.filled])
	fr.buf = grown
}
