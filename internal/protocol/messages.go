// Package protocol defines the WebSocket message types and structures used for
// communication between the client and server. All messages are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeFindPartner  = "find-partner"
	TypeNextPartner  = "next-partner"
	TypeReportUser   = "report-user"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
	TypeChatMessage  = "chat-message"
	TypePing         = "ping"
)

// Server -> Client message types. Offer, answer, ice-candidate and
// chat-message are passed through to the partner under the same type.
const (
	TypeSessionCreated      = "session-created"
	TypePartnerFound        = "partner-found"
	TypePartnerDisconnected = "partner-disconnected"
	TypeRateLimited         = "rate-limited"
	TypeError               = "error"
	TypePong                = "pong"
)

// Report reasons accepted in a report-user message.
const (
	ReasonInappropriateContent = "inappropriate_content"
	ReasonHarassment           = "harassment"
	ReasonSpam                 = "spam"
	ReasonUnderageUser         = "underage_user"
	ReasonOther                = "other"
)

// ReportReasons lists every accepted report reason.
var ReportReasons = []string{
	ReasonInappropriateContent,
	ReasonHarassment,
	ReasonSpam,
	ReasonUnderageUser,
	ReasonOther,
}

// IsSignal reports whether msgType is relayed verbatim to the partner.
func IsSignal(msgType string) bool {
	switch msgType {
	case TypeOffer, TypeAnswer, TypeICECandidate, TypeChatMessage:
		return true
	}
	return false
}

// ErrInvalidMessage is wrapped by ParseClientMessage when a well-formed
// message fails field validation.
var ErrInvalidMessage = errors.New("protocol: invalid message")

// ErrUnknownType is wrapped by ParseClientMessage for types a client may
// not send.
var ErrUnknownType = errors.New("protocol: unknown client message type")

var validate = validator.New()

// ---------------------------------------------------------------------------
// Envelope: used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// FindPartnerMsg asks to be paired with someone of the same chat type. An
// empty chat type means the server default.
type FindPartnerMsg struct {
	Type     string `json:"type"`
	ChatType string `json:"chat_type" validate:"omitempty,alphanum,max=32"`
}

// NextPartnerMsg ends the current pairing and asks for a new partner.
type NextPartnerMsg struct {
	Type string `json:"type"`
}

// ReportUserMsg reports the current partner.
type ReportUserMsg struct {
	Type    string `json:"type"`
	Reason  string `json:"reason" validate:"required,oneof=inappropriate_content harassment spam underage_user other"`
	Details string `json:"details" validate:"max=1000"`
}

// SignalMsg carries an offer, answer, ICE candidate or chat message. The
// payload is opaque to the server and forwarded to the partner as is.
type SignalMsg struct {
	Type    string          `json:"type,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// SessionCreatedMsg is sent by the server when a new session is established.
type SessionCreatedMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// PartnerFoundMsg announces a new partner. Exactly one side of a pairing
// receives Initiator=true and is expected to send the offer.
type PartnerFoundMsg struct {
	Type      string `json:"type"`
	PartnerID string `json:"partner_id"`
	Initiator bool   `json:"initiator"`
	Tag       string `json:"tag"`
}

// PartnerDisconnectedMsg is sent when the partner left or asked for someone
// else.
type PartnerDisconnectedMsg struct {
	Type string `json:"type"`
}

// RateLimitedMsg is sent by the server when the client has been rate-limited.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing or validation. An error is returned for unknown
// or server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeFindPartner:
		var m FindPartnerMsg
		if err = json.Unmarshal(env.Raw, &m); err == nil {
			err = check(m)
		}
		msg = m
	case TypeNextPartner:
		var m NextPartnerMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeReportUser:
		var m ReportUserMsg
		if err = json.Unmarshal(env.Raw, &m); err == nil {
			err = check(m)
		}
		msg = m
	case TypeOffer, TypeAnswer, TypeICECandidate, TypeChatMessage:
		var m SignalMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if err != nil {
		if errors.Is(err, ErrInvalidMessage) {
			return env.Type, nil, err
		}
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

func check(msg interface{}) error {
	if err := validate.Struct(msg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. Nested
// values are kept byte for byte, so relayed payloads reach the partner
// exactly as they were sent.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	m := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}
	if m == nil { // nil payload
		m = make(map[string]json.RawMessage)
	}

	typ, err := json.Marshal(msgType)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal type: %w", err)
	}
	m["type"] = typ

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
