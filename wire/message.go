package wire

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Version is the only protocol version the engine speaks.
const Version = "2.0"

// errNotObject rejects response payloads that are valid JSON but not an object.
var errNotObject = errors.New("response is not a JSON object")

// Null is the JSON literal delivered when a response carries neither result nor error.
var Null = json.RawMessage("null")

// Request is the envelope sent to the engine.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	ID      *uint64         `json:"id,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NewRequest builds a request envelope, serializing params.
// A nil params value is omitted from the envelope.
func NewRequest(method string, params any, id uint64) (*Request, error) {
	req := &Request{
		JSONRPC: Version,
		Method:  method,
		ID:      &id,
	}
	if params == nil {
		return req, nil
	}
	switch p := params.(type) {
	case json.RawMessage:
		req.Params = p
	default:
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		req.Params = raw
	}
	return req, nil
}

// Response is the envelope received from the engine.
// A response without an ID is unsolicited and has no caller to deliver to.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// Outcome is the value a caller receives for one request.
type Outcome struct {
	// Value is the result if present, else the error if present, else JSON null.
	Value json.RawMessage
	// Failed is true when Value was taken from the error member.
	Failed bool
}

// Outcome extracts the deliverable value from the response.
func (r *Response) Outcome() Outcome {
	switch {
	case r.Result != nil:
		return Outcome{Value: r.Result}
	case r.Error != nil:
		return Outcome{Value: r.Error, Failed: true}
	default:
		return Outcome{Value: Null}
	}
}

// UnmarshalJSON keeps an explicit `"result": null` distinguishable from an
// absent result.
func (r *Response) UnmarshalJSON(data []byte) error {
	var raw struct {
		JSONRPC string  `json:"jsonrpc"`
		ID      *uint64 `json:"id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return err
	}
	if members == nil {
		return errNotObject
	}
	r.JSONRPC = raw.JSONRPC
	r.ID = raw.ID
	r.Result = cloneRaw(members["result"])
	r.Error = cloneRaw(members["error"])
	return nil
}

func cloneRaw(m json.RawMessage) json.RawMessage {
	if m == nil {
		return nil
	}
	return bytes.Clone(m)
}
