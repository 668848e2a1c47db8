// Package rpc implements the JSON-RPC 2.0 wire shape spoken over the
// daemon's Unix socket: message types, the codec that parses and
// serializes them, the stable error-code table, and the newline-delimited
// framing reader/writer the Session layer drives.
package rpc

import (
	"encoding/json"
	"errors"
)

// Id is a JSON-RPC request identifier: a JSON string, number, or null.
// Notifications carry no Id at all (Present is false).
type Id struct {
	Present bool
	Raw     json.RawMessage
}

// NullID is the Id used for responses that precede request parsing
// (e.g. a top-level ParseError), per JSON-RPC 2.0.
var NullID = Id{Present: true, Raw: json.RawMessage("null")}

// NewIntID wraps an integer request id.
func NewIntID(n int64) Id {
	raw, _ := json.Marshal(n)
	return Id{Present: true, Raw: raw}
}

// MarshalJSON emits null when the Id is absent, and the raw value otherwise.
func (id Id) MarshalJSON() ([]byte, error) {
	if !id.Present || len(id.Raw) == 0 {
		return []byte("null"), nil
	}
	return id.Raw, nil
}

func (id *Id) UnmarshalJSON(data []byte) error {
	id.Present = true
	id.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// Equal reports whether two ids hold the same JSON value.
func (id Id) Equal(other Id) bool {
	return string(id.Raw) == string(other.Raw)
}

// Kind distinguishes the three shapes an inbound JSON-RPC line may carry.
type Kind int

const (
	KindRequest Kind = iota
	KindNotification
	KindBatch
)

// Message is a parsed inbound JSON-RPC request or notification. Batches are
// represented at the codec layer as a []Message, not as a Message variant,
// since nested batches are invalid and disallowing them is easier to
// express structurally.
type Message struct {
	Kind   Kind
	ID     Id // zero value (Present=false) for notifications
	Method string
	Params json.RawMessage
}

// IsNotification reports whether this message expects no response.
func (m Message) IsNotification() bool {
	return m.Kind == KindNotification
}

// Response is a single JSON-RPC 2.0 response object: either a Result or an
// Error is set, never both.
type Response struct {
	ID     Id
	Result json.RawMessage
	Err    *ErrorObject
}

type wireResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
	ID      Id              `json:"id"`
}

// MarshalJSON renders the response in canonical JSON-RPC 2.0 shape.
func (r Response) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireResponse{
		JSONRPC: "2.0",
		Result:  r.Result,
		Error:   r.Err,
		ID:      r.ID,
	})
}

// NewResultResponse builds a success response, marshaling result to JSON.
func NewResultResponse(id Id, result any) (Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Response{}, err
	}
	return Response{ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response.
func NewErrorResponse(id Id, errObj *ErrorObject) Response {
	return Response{ID: id, Err: errObj}
}

// ErrOversized is returned by the framing reader when a line exceeds the
// configured size cap before a newline is found.
var ErrOversized = errors.New("rpc: message exceeds max_message_bytes")
