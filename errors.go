package keyapi

import (
	"encoding/json"
	"fmt"
)

// ApiError is an error reported by the engine for one call.
type ApiError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
	Method  string          `json:"-"`
}

func (e *ApiError) Error() string {
	msg := fmt.Sprintf("%s (Code %d) while calling %s", e.Message, e.Code, e.Method)
	if detail := e.Detail(); detail != "" {
		msg += ":\n" + detail
	}
	return msg
}

// Detail returns Data as text: a JSON string is unquoted, anything else is
// returned as JSON.
func (e *ApiError) Detail() string {
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Data, &s); err == nil {
		return s
	}
	return string(e.Data)
}

// newApiError decodes an error member. Members that are not error objects are
// kept whole as Data.
func newApiError(method string, raw json.RawMessage) *ApiError {
	apiErr := &ApiError{Method: method}
	if err := json.Unmarshal(raw, apiErr); err != nil {
		apiErr.Message = "malformed error response"
		apiErr.Data = raw
	}
	apiErr.Method = method
	return apiErr
}
