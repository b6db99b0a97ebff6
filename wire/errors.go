package wire

import "fmt"

// ReadError represents a fatal failure of the receive side
type ReadError struct {
	Type ReadErrorType
	Err  error
}

// ReadErrorType represents the type of read error
type ReadErrorType int

const (
	// ReadErrorTypeIo is a failure of the underlying stream, including an
	// unexpected end of stream.
	ReadErrorTypeIo ReadErrorType = iota
	// ReadErrorTypeParse is a corrupted or oversized frame header.
	ReadErrorTypeParse
	// ReadErrorTypeInvalidJSON is a frame whose payload is not a valid envelope.
	ReadErrorTypeInvalidJSON
)

func (t ReadErrorType) String() string {
	switch t {
	case ReadErrorTypeIo:
		return "io"
	case ReadErrorTypeParse:
		return "parse"
	case ReadErrorTypeInvalidJSON:
		return "invalid_json"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

func (e *ReadError) Error() string {
	switch e.Type {
	case ReadErrorTypeIo:
		return fmt.Sprintf("I/O error: %v", e.Err)
	case ReadErrorTypeParse:
		return fmt.Sprintf("frame error: %v", e.Err)
	case ReadErrorTypeInvalidJSON:
		return fmt.Sprintf("invalid json payload: %v", e.Err)
	default:
		return fmt.Sprintf("unknown read error: %v", e.Err)
	}
}

func (e *ReadError) Unwrap() error {
	return e.Err
}
