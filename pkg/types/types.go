package types

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message type discriminators. The set is closed: the dispatcher matches
// exhaustively and anything else is a protocol error.
const (
	MessageTypeAuthenticate         = "AUTHENTICATE"
	MessageTypeAuthenticateResponse = "AUTHENTICATE_RESPONSE"
	MessageTypeHeartbeat            = "HEARTBEAT"
	MessageTypeHeartbeatAck         = "HEARTBEAT_ACK"
	MessageTypeConnectTCP           = "CONNECT_TCP"
	MessageTypeConnectResponse      = "CONNECT_RESPONSE"
	MessageTypeSendData             = "SEND_DATA"
	MessageTypeCloseConnection      = "CLOSE_CONNECTION"
	MessageTypeError                = "ERROR"
)

// Role names assigned by the credential store.
const (
	RoleAdmin = "admin"
	RolePower = "power"
	RoleUser  = "user"
)

// Permission capability names gating message types.
const (
	PermissionTCPConnect     = "tcp_connect"
	PermissionTCPSend        = "tcp_send"
	PermissionTCPClose       = "tcp_close"
	PermissionHeartbeat      = "heartbeat"
	PermissionAdminOperation = "admin_operation"
)

// Envelope carries the fields common to every protocol message. Payload
// fields live alongside the envelope in the same JSON object; typed message
// structs embed Envelope so the wire format stays flat.
type Envelope struct {
	MessageID string    `json:"messageId"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Signature string    `json:"signature,omitempty"`
}

// NewEnvelope mints an envelope with a server-generated message ID.
// The server controls IDs on outbound traffic so reply correlation cannot
// be spoofed by clients.
func NewEnvelope(messageType string) Envelope {
	return Envelope{
		MessageID: uuid.New().String(),
		Type:      messageType,
		Timestamp: time.Now().UTC(),
	}
}

// DecodeEnvelope extracts the envelope fields from a raw frame without
// touching payload fields. Unknown types are reported so the dispatcher can
// answer with a structured protocol error instead of silently dropping.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, ErrMalformedFrame
	}
	if env.Type == "" {
		return Envelope{}, ErrMissingType
	}
	if !IsValidMessageType(env.Type) {
		return env, ErrUnknownMessageType
	}
	return env, nil
}

// AuthenticateMessage is the only message accepted before a session exists.
type AuthenticateMessage struct {
	Envelope
	Credential    string `json:"credential"`
	ClientID      string `json:"clientId"`
	ClientVersion string `json:"clientVersion"`
}

// UserInfo summarizes the authenticated identity for the client.
type UserInfo struct {
	UserID      string   `json:"userId"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

type AuthenticateResponseMessage struct {
	Envelope
	Success      bool       `json:"success"`
	SessionToken string     `json:"sessionToken,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	UserInfo     *UserInfo  `json:"userInfo,omitempty"`
}

type HeartbeatMessage struct {
	Envelope
	ClientTime  string          `json:"clientTime"`
	ClientStats json.RawMessage `json:"clientStats,omitempty"`
}

type HeartbeatAckMessage struct {
	Envelope
	ServerTime time.Time `json:"serverTime"`
}

// ConnectTCPMessage requests a new multiplexed outbound connection. The
// connectionId is chosen by the client and scoped to that client.
type ConnectTCPMessage struct {
	Envelope
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ConnectionID string `json:"connectionId"`
	TimeoutMs    int    `json:"timeout,omitempty"`
}

type ConnectResponseMessage struct {
	Envelope
	ConnectionID string `json:"connectionId"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// DataMessage carries one chunk of a multiplexed stream, base64 encoded in
// both directions.
type DataMessage struct {
	Envelope
	ConnectionID string `json:"connectionId"`
	Data         string `json:"data"`
}

// NewDataMessage builds an outbound data frame from raw bytes.
func NewDataMessage(connectionID string, data []byte) *DataMessage {
	return &DataMessage{
		Envelope:     NewEnvelope(MessageTypeSendData),
		ConnectionID: connectionID,
		Data:         base64.StdEncoding.EncodeToString(data),
	}
}

// BinaryData decodes the base64 payload back into the original bytes.
func (m *DataMessage) BinaryData() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(m.Data)
	if err != nil {
		return nil, ErrInvalidDataEncoding
	}
	return data, nil
}

type CloseConnectionMessage struct {
	Envelope
	ConnectionID string `json:"connectionId"`
}

// NewCloseConnectionMessage builds the server-side notification that a
// multiplexed stream ended (remote EOF or forced teardown).
func NewCloseConnectionMessage(connectionID string) *CloseConnectionMessage {
	return &CloseConnectionMessage{
		Envelope:     NewEnvelope(MessageTypeCloseConnection),
		ConnectionID: connectionID,
	}
}

// ErrorMessage reports authorization and protocol failures to the client
// without tearing down the transport.
type ErrorMessage struct {
	Envelope
	ErrorMessage     string `json:"errorMessage"`
	RelatedMessageID string `json:"relatedMessageId,omitempty"`
}

// NewErrorMessage builds an ERROR reply optionally correlated to the
// offending inbound message.
func NewErrorMessage(errText, relatedMessageID string) *ErrorMessage {
	return &ErrorMessage{
		Envelope:         NewEnvelope(MessageTypeError),
		ErrorMessage:     errText,
		RelatedMessageID: relatedMessageID,
	}
}
