package wire

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

// Header literals of the framing protocol.
// A frame is `Content-Length: <decimal>\r\n\r\n` followed by exactly <decimal> payload bytes.
var (
	headerPrefix     = []byte("Content-Length: ")
	headerTerminator = []byte("\r\n\r\n")
)

// ErrNeedMoreData is returned by ParseFrame when the buffer does not yet hold a
// complete frame. It is retryable: read more bytes and parse again.
var ErrNeedMoreData = errors.New("need more data")

// UnexpectedTokenError reports a header literal mismatch. The stream is out of
// sync and cannot be recovered.
type UnexpectedTokenError struct {
	Expected []byte
	Found    []byte
}

func (e *UnexpectedTokenError) Error() string {
	return fmt.Sprintf("unexpected token %q, expected %q", e.Found, e.Expected)
}

// InvalidLengthError reports a Content-Length value that is not a usable integer.
type InvalidLengthError struct {
	Digits []byte
	Err    error
}

func (e *InvalidLengthError) Error() string {
	if len(e.Digits) == 0 {
		return "invalid integer: no digits in Content-Length"
	}
	return fmt.Sprintf("invalid integer %q: %v", e.Digits, e.Err)
}

func (e *InvalidLengthError) Unwrap() error {
	return e.Err
}

// FrameTooLargeError reports a declared payload length above the configured limit.
type FrameTooLargeError struct {
	Length uint64
	Limit  int
}

func (e *FrameTooLargeError) Error() string {
	return fmt.Sprintf("frame size %d exceeds max_frame limit %d", e.Length, e.Limit)
}

// EncodeFrame prefixes payload with its Content-Length header.
// The length is the byte length of payload, never its character count.
func EncodeFrame(payload []byte) []byte {
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(payload))
	framed := make([]byte, 0, len(header)+len(payload))
	framed = append(framed, header...)
	return append(framed, payload...)
}

// ParseFrame carves one complete frame out of data using the default limits.
func ParseFrame(data []byte) (payload []byte, consumed int, err error) {
	return ParseFrameWithLimits(data, DefaultLimits())
}

// ParseFrameWithLimits carves one complete frame out of data.
//
// On success it returns the payload (a subslice of data) and the total number of
// bytes consumed, header included. ErrNeedMoreData means nothing was consumed and
// the caller should retry once more bytes are available. Any other error is fatal.
func ParseFrameWithLimits(data []byte, limits Limits) (payload []byte, consumed int, err error) {
	// The header cannot be parsed until it is complete, but a prefix that already
	// diverges never will be.
	if bytes.Index(data, headerTerminator) < 0 {
		n := min(len(data), len(headerPrefix))
		if !bytes.Equal(data[:n], headerPrefix[:n]) {
			p := parser{data: data}
			return nil, 0, p.consumeLiteral(headerPrefix)
		}
		return nil, 0, ErrNeedMoreData
	}

	p := parser{data: data}
	if err := p.consumeLiteral(headerPrefix); err != nil {
		return nil, 0, err
	}
	length, err := p.consumeNumber()
	if err != nil {
		return nil, 0, err
	}
	if err := p.consumeLiteral(headerTerminator); err != nil {
		return nil, 0, err
	}

	if limits.MaxFrame > 0 && length > uint64(limits.MaxFrame) {
		return nil, 0, &FrameTooLargeError{Length: length, Limit: limits.MaxFrame}
	}
	if uint64(len(p.data)) < length {
		return nil, 0, ErrNeedMoreData
	}

	return p.advance(int(length)), p.consumed, nil
}

// parser walks a header left to right, tracking how many bytes it has consumed.
type parser struct {
	data     []byte
	consumed int
}

func (p *parser) advance(n int) []byte {
	out := p.data[:n]
	p.data = p.data[n:]
	p.consumed += n
	return out
}

func (p *parser) consumeLiteral(lit []byte) error {
	if !bytes.HasPrefix(p.data, lit) {
		found := p.data
		if len(found) > len(lit) {
			found = found[:len(lit)]
		}
		return &UnexpectedTokenError{
			Expected: append([]byte(nil), lit...),
			Found:    append([]byte(nil), found...),
		}
	}
	p.advance(len(lit))
	return nil
}

func (p *parser) consumeNumber() (uint64, error) {
	end := 0
	for end < len(p.data) && p.data[end] >= '0' && p.data[end] <= '9' {
		end++
	}
	digits := p.data[:end]
	if end == 0 {
		return 0, &InvalidLengthError{}
	}
	n, err := strconv.ParseUint(string(digits), 10, 64)
	if err != nil {
		return 0, &InvalidLengthError{Digits: append([]byte(nil), digits...), Err: err}
	}
	p.advance(end)
	return n, nil
}
