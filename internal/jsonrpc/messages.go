package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ProtocolVersion is the value of the "jsonrpc" member on every message.
const ProtocolVersion = "2.0"

// Message kinds reported by AnyMessage.Type.
const (
	KindRequest      = "request"
	KindNotification = "notification"
	KindResponse     = "response"
)

// Message is one encoded JSON-RPC message as it travels on the wire.
type Message []byte

// AnyMessage is a decoded message of any kind. Decode and UnmarshalJSON
// guarantee the member combination is one a peer may legally send.
type AnyMessage struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method,omitempty"`
	Params         json.RawMessage `json:"params,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// Request is a request, or a notification when ID is nil.
type Request struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// Response always carries the id member; it encodes as null when the
// request id could not be determined.
type Response struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id"`
}

var (
	// ErrBatchUnsupported is returned by Decode for JSON arrays.
	ErrBatchUnsupported = errors.New("jsonrpc: batch messages are not supported")
	// ErrInvalidMessage wraps every structural violation found while decoding.
	ErrInvalidMessage = errors.New("jsonrpc: invalid message")
)

// Decode parses exactly one message.
func Decode(data []byte) (*AnyMessage, error) {
	if trimmed := bytes.TrimLeft(data, " \t\r\n"); len(trimmed) > 0 && trimmed[0] == '[' {
		return nil, ErrBatchUnsupported
	}
	msg := new(AnyMessage)
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (m *AnyMessage) UnmarshalJSON(data []byte) error {
	// plain drops the method set so decoding does not recurse.
	type plain AnyMessage
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := (*AnyMessage)(&p).validate(); err != nil {
		return err
	}
	*m = AnyMessage(p)
	return nil
}

func (m *AnyMessage) validate() error {
	hasResult, hasError := len(m.Result) > 0, m.Error != nil
	switch {
	case m.JSONRPCVersion != ProtocolVersion:
		return fmt.Errorf("%w: version %q, want %q", ErrInvalidMessage, m.JSONRPCVersion, ProtocolVersion)
	case m.Method != "" && (hasResult || hasError):
		return fmt.Errorf("%w: request carries result or error", ErrInvalidMessage)
	case m.Method == "" && hasResult == hasError:
		return fmt.Errorf("%w: response needs exactly one of result and error", ErrInvalidMessage)
	}
	return nil
}

// Type returns KindRequest, KindNotification or KindResponse.
func (m *AnyMessage) Type() string {
	switch {
	case m.Method == "":
		return KindResponse
	case m.ID.IsNil():
		return KindNotification
	}
	return KindRequest
}

// AsRequest returns the request view of m, or nil for a response.
func (m *AnyMessage) AsRequest() *Request {
	if m.Method == "" {
		return nil
	}
	return &Request{JSONRPCVersion: m.JSONRPCVersion, Method: m.Method, Params: m.Params, ID: m.ID}
}

// AsResponse returns the response view of m, or nil for a request.
func (m *AnyMessage) AsResponse() *Response {
	if m.Method != "" {
		return nil
	}
	return &Response{JSONRPCVersion: m.JSONRPCVersion, Result: m.Result, Error: m.Error, ID: m.ID}
}

// NewResultResponse encodes result as the success member of a response to id.
func NewResultResponse(id *RequestID, result any) (*Response, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return &Response{JSONRPCVersion: ProtocolVersion, Result: b, ID: id}, nil
}

// NewErrorResponse answers id with an error object.
func NewErrorResponse(id *RequestID, code ErrorCode, message string, data any) *Response {
	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Error:          &Error{Code: code, Message: message, Data: data},
		ID:             id,
	}
}

// NewNotification encodes params, if any, into a notification for method.
func NewNotification(method string, params any) (*Request, error) {
	n := &Request{JSONRPCVersion: ProtocolVersion, Method: method}
	if params == nil {
		return n, nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	n.Params = b
	return n, nil
}
