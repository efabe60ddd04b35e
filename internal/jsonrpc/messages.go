package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const Version = "2.0"

// ID is an identifier established by the client. It must contain a
// string, number, or null value.
type ID struct {
	value any
}

func (id ID) IsZero() bool {
	return id.value == nil
}

// EqualsNumber reports whether the ID is the given numeric value,
// regardless of whether the peer echoed it back as a number or string.
func (id ID) EqualsNumber(n int) bool {
	switch v := id.value.(type) {
	case json.Number:
		return v.String() == fmt.Sprintf("%d", n)
	case string:
		return v == fmt.Sprintf("%d", n)
	default:
		return false
	}
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.value == nil {
		return json.Marshal(nil)
	}
	return json.Marshal(id.value)
}

func (id *ID) UnmarshalJSON(data []byte) error {
	if data == nil || string(data) == "null" {
		id.value = nil
		return nil
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var v any
	if err := decoder.Decode(&v); err != nil {
		return err
	}

	switch val := v.(type) {
	case string:
		id.value = val
	case json.Number:
		id.value = val
	case nil:
		id.value = nil
	default:
		return fmt.Errorf("field 'id' must be a string, number, or null, got %T", v)
	}
	return nil
}

func NewNumberID(value int) ID {
	return ID{value: json.Number(fmt.Sprintf("%d", value))}
}

func NewStringID(value string) ID {
	return ID{value: value}
}

// Request is a JSON-RPC 2.0 request message.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      ID     `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewRequest builds a request with the protocol version set.
func NewRequest(id int, method string, params any) Request {
	return Request{
		JSONRPC: Version,
		ID:      NewNumberID(id),
		Method:  method,
		Params:  params,
	}
}

// Encode marshals the request followed by a newline, the framing stdio
// MCP servers expect on stdin.
func (r Request) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Response is a JSON-RPC 2.0 response message.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorResponse  `json:"error,omitempty"`
}

// ErrorResponse is the error member of a failed response.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ParseResponse decodes a single JSON-RPC response. It returns an error
// for anything that is not a response-shaped JSON object; callers treat
// that as "this output chunk is not JSON-RPC" and move on.
func ParseResponse(data []byte) (*Response, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var resp Response
	if err := decoder.Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to parse JSON-RPC response: %w", err)
	}

	if resp.JSONRPC != Version {
		return nil, fmt.Errorf("invalid JSON-RPC version: %q, expected %q", resp.JSONRPC, Version)
	}
	if resp.Result == nil && resp.Error == nil {
		return nil, fmt.Errorf("message has neither result nor error")
	}

	return &resp, nil
}
