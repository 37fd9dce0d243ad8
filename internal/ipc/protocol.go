// Package ipc provides the unix socket protocol between the focusd daemon
// and its clients.
//
// Every message is a fixed 16-byte big-endian header followed by a JSON
// payload. Requests carry a request id which the response echoes.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"focusd/internal/engine"
	"focusd/internal/record"
	"focusd/internal/registry"
	"focusd/internal/tracking"
)

// Protocol version for compatibility checking
const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x46435344 // "FCSD"
)

// MaxPayloadSize bounds the payload of a single message.
const MaxPayloadSize = 64 * 1024 * 1024

// MessageType identifies the type of IPC message
type MessageType uint16

const (
	// Control messages (0x00xx)
	MsgPing  MessageType = 0x0001
	MsgPong  MessageType = 0x0002
	MsgError MessageType = 0x0005

	// Status messages (0x01xx)
	MsgStatusRequest   MessageType = 0x0100
	MsgStatusResponse  MessageType = 0x0101
	MsgMetricsRequest  MessageType = 0x0102
	MsgMetricsResponse MessageType = 0x0103
	MsgHealthRequest   MessageType = 0x0104
	MsgHealthResponse  MessageType = 0x0105

	// Record queries (0x02xx)
	MsgReadRange          MessageType = 0x0200
	MsgReadRangeResp      MessageType = 0x0201
	MsgReadCursor         MessageType = 0x0202
	MsgReadCursorResp     MessageType = 0x0203
	MsgDays               MessageType = 0x0204
	MsgDaysResp           MessageType = 0x0205
	MsgStartTimestamp     MessageType = 0x0206
	MsgStartTimestampResp MessageType = 0x0207

	// Application registry (0x03xx)
	MsgApps        MessageType = 0x0300
	MsgAppsResp    MessageType = 0x0301
	MsgAppPath     MessageType = 0x0302
	MsgAppPathResp MessageType = 0x0303
	MsgAppID       MessageType = 0x0304
	MsgAppIDResp   MessageType = 0x0305

	// Engine control (0x04xx)
	MsgSuspend     MessageType = 0x0400
	MsgSuspendResp MessageType = 0x0401
	MsgResume      MessageType = 0x0402
	MsgResumeResp  MessageType = 0x0403
)

var typeNames = map[MessageType]string{
	MsgPing:               "ping",
	MsgPong:               "pong",
	MsgError:              "error",
	MsgStatusRequest:      "status",
	MsgStatusResponse:     "status_response",
	MsgMetricsRequest:     "metrics",
	MsgMetricsResponse:    "metrics_response",
	MsgHealthRequest:      "health",
	MsgHealthResponse:     "health_response",
	MsgReadRange:          "read_range",
	MsgReadRangeResp:      "read_range_response",
	MsgReadCursor:         "read_cursor",
	MsgReadCursorResp:     "read_cursor_response",
	MsgDays:               "days",
	MsgDaysResp:           "days_response",
	MsgStartTimestamp:     "start_timestamp",
	MsgStartTimestampResp: "start_timestamp_response",
	MsgApps:               "apps",
	MsgAppsResp:           "apps_response",
	MsgAppPath:            "app_path",
	MsgAppPathResp:        "app_path_response",
	MsgAppID:              "app_id",
	MsgAppIDResp:          "app_id_response",
	MsgSuspend:            "suspend",
	MsgSuspendResp:        "suspend_response",
	MsgResume:             "resume",
	MsgResumeResp:         "resume_response",
}

func (t MessageType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("0x%04x", uint16(t))
}

// Header is the fixed-size message header (16 bytes)
type Header struct {
	Magic     uint32      // Protocol magic number
	Version   uint8       // Protocol version
	Flags     uint8       // Message flags
	Type      MessageType // Message type
	RequestID uint32      // Request ID for correlation
	Length    uint32      // Payload length (not including header)
}

// HeaderSize is the size of the header in bytes
const HeaderSize = 16

// Header flags
const (
	FlagJSON uint8 = 0x04
)

// Message wraps a header and payload
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType MessageType, requestID uint32, payload []byte) *Message {
	return &Message{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Flags:     FlagJSON,
			Type:      msgType,
			RequestID: requestID,
			Length:    uint32(len(payload)),
		},
		Payload: payload,
	}
}

// Write writes the header to a writer
func (h *Header) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[8:12], h.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads a header from a reader
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	h := &Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Flags:     buf[5],
		Type:      MessageType(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}

	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("%w: magic %x", ErrBadFrame, h.Magic)
	}
	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("%w: protocol version %d", ErrBadFrame, h.Version)
	}
	return h, nil
}

// Write writes the message to a writer
func (m *Message) Write(w io.Writer) error {
	m.Header.Length = uint32(len(m.Payload))
	if err := m.Header.Write(w); err != nil {
		return err
	}
	if len(m.Payload) > 0 {
		_, err := w.Write(m.Payload)
		return err
	}
	return nil
}

// ReadMessage reads a complete message from a reader
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	m := &Message{Header: *h}
	if h.Length > 0 {
		if h.Length > MaxPayloadSize {
			return nil, fmt.Errorf("%w: payload too large: %d bytes", ErrBadFrame, h.Length)
		}
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Request/Response payloads

// ErrorResponse is sent when an operation fails
type ErrorResponse struct {
	Code    int    `json:"code" yaml:"code"`
	Message string `json:"message" yaml:"message"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("ipc: remote error %d: %s", e.Code, e.Message)
}

// Error codes
const (
	ErrUnknown          = 1
	ErrInvalidRequest   = 2
	ErrNotFound         = 3
	ErrPermissionDenied = 4
	ErrInternalError    = 5
	ErrRateLimited      = 6
	ErrUnsupported      = 7
)

// StatusResponse contains daemon status
type StatusResponse struct {
	Version   string           `json:"version" yaml:"version"`
	Ready     bool             `json:"ready" yaml:"ready"`
	StartedAt time.Time        `json:"started_at" yaml:"started_at"`
	Uptime    time.Duration    `json:"uptime" yaml:"uptime"`
	DataDir   string           `json:"data_dir" yaml:"data_dir"`
	Meta      engine.Meta      `json:"meta" yaml:"meta"`
	Engine    engine.Stats     `json:"engine" yaml:"engine"`
	Tracking  *tracking.Status `json:"tracking,omitempty" yaml:"tracking,omitempty"`
	Clients   int              `json:"clients" yaml:"clients"`
}

// MetricsResponse carries a metrics snapshot.
type MetricsResponse struct {
	Values     map[string]float64 `json:"values" yaml:"values"`
	Prometheus string             `json:"prometheus,omitempty" yaml:"prometheus,omitempty"`
}

// MetricsRequest asks for the metrics of the daemon.
type MetricsRequest struct {
	Prometheus bool `json:"prometheus,omitempty"`
}

// ReadRangeRequest asks for the records overlapping [Start, End) in
// milliseconds. The first and last record come back clipped to the range.
type ReadRangeRequest struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// RecordsResponse carries a list of records.
type RecordsResponse struct {
	Records []record.FocusRecord `json:"records" yaml:"records"`
}

// ReadCursorRequest asks for one page of the record log.
type ReadCursorRequest struct {
	Cursor   uint64 `json:"cursor"`
	Limit    int    `json:"limit"`
	Backward bool   `json:"backward,omitempty"`
}

// DaysResponse lists the indexed days.
type DaysResponse struct {
	Days []engine.DayEntry `json:"days" yaml:"days"`
}

// StartTimestampResponse carries the first millisecond of history.
type StartTimestampResponse struct {
	StartTimestamp int64 `json:"start_timestamp" yaml:"start_timestamp"`
}

// AppsResponse lists the registered applications.
type AppsResponse struct {
	Apps []registry.App `json:"apps" yaml:"apps"`
}

// AppPathRequest asks for the path of an application id.
type AppPathRequest struct {
	ID record.AppID `json:"id"`
}

// AppIDRequest asks for the id of an application path.
type AppIDRequest struct {
	Path string `json:"path"`
}

// StateResponse reports the engine state after suspend or resume.
type StateResponse struct {
	State string `json:"state" yaml:"state"`
}

// Encode encodes a value to JSON
func Encode(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Decode decodes JSON data into v. An empty payload leaves v unchanged.
func Decode(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// NewErrorMessage creates an error response message
func NewErrorMessage(requestID uint32, code int, message string) *Message {
	payload, _ := Encode(&ErrorResponse{Code: code, Message: message})
	return NewMessage(MsgError, requestID, payload)
}

// NewResponse creates a response message with encoded payload
func NewResponse(msgType MessageType, requestID uint32, v any) (*Message, error) {
	payload, err := Encode(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s response: %w", msgType, err)
	}
	return NewMessage(msgType, requestID, payload), nil
}
