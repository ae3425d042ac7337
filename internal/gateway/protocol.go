package gateway

import "encoding/json"

// Frame types for the WebSocket protocol.
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// ProtocolVersion is the RPC protocol version spoken by this server.
const ProtocolVersion = 1

// Frame is the envelope for every WebSocket message. Type selects which of
// the remaining fields are meaningful.
type Frame struct {
	Type string `json:"type"`

	// Request
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	// Response
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`

	// Event
	Event string `json:"event,omitempty"`
	Seq   int64  `json:"seq,omitempty"`
}

// ErrorShape is the error body of a failed response frame. Status mirrors the
// HTTP status the same failure maps to on the REST surface.
type ErrorShape struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status,omitempty"`
}

// RPC error codes.
const (
	CodeInvalidParams  = "invalid_params"
	CodeUnauthorized   = "unauthorized"
	CodeNotFound       = "not_found"
	CodeConflict       = "conflict"
	CodeUpstream       = "upstream_error"
	CodeInternal       = "internal_error"
	CodeUnavailable    = "unavailable"
	CodeMethodNotFound = "method_not_found"
	CodeProtocol       = "protocol_error"
)

// ConnectParams are sent by the client in its first request.
type ConnectParams struct {
	Protocol int          `json:"protocol"`
	Client   ClientInfo   `json:"client"`
	Auth     *ConnectAuth `json:"auth,omitempty"`
	WatchAll bool         `json:"watchAll,omitempty"` // receive decisions for every chat
}

// ClientInfo identifies the connecting client.
type ClientInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Version     string `json:"version,omitempty"`
}

// ConnectAuth carries credentials in the connect request.
type ConnectAuth struct {
	Token    string `json:"token,omitempty"`
	Password string `json:"password,omitempty"`
}

// HelloOK is the connect response payload.
type HelloOK struct {
	Protocol int        `json:"protocol"`
	Server   ServerInfo `json:"server"`
	Methods  []string   `json:"methods"`
	Events   []string   `json:"events"`
	Policy   Policy     `json:"policy"`
}

// ServerInfo identifies the gateway.
type ServerInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	ConnID  string `json:"connId"`
}

// Policy communicates protocol limits to the client.
type Policy struct {
	MaxPayload int `json:"maxPayload"`
}

// NewRequest creates a request frame.
func NewRequest(id, method string, params any) (Frame, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameTypeRequest, ID: id, Method: method, Params: raw}, nil
}

// NewResponse creates a success response frame.
func NewResponse(id string, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	ok := true
	return Frame{Type: FrameTypeResponse, ID: id, OK: &ok, Payload: raw}, nil
}

// NewErrorResponse creates a failed response frame.
func NewErrorResponse(id string, shape ErrorShape) Frame {
	ok := false
	return Frame{Type: FrameTypeResponse, ID: id, OK: &ok, Error: &shape}
}

// NewEvent creates an event frame.
func NewEvent(event string, payload any, seq int64) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameTypeEvent, Event: event, Payload: raw, Seq: seq}, nil
}
