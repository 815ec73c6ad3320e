package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid find-partner message
// ---------------------------------------------------------------------------

func TestParseClientMessage_FindPartner(t *testing.T) {
	input := []byte(`{"type":"find-partner","chat_type":"text"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeFindPartner {
		t.Fatalf("expected type %q, got %q", TypeFindPartner, msgType)
	}

	fp, ok := msg.(FindPartnerMsg)
	if !ok {
		t.Fatalf("expected FindPartnerMsg, got %T", msg)
	}
	if fp.ChatType != "text" {
		t.Errorf("expected chat_type %q, got %q", "text", fp.ChatType)
	}
}

func TestParseClientMessage_FindPartnerWithoutChatType(t *testing.T) {
	_, msg, err := ParseClientMessage([]byte(`{"type":"find-partner"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fp := msg.(FindPartnerMsg); fp.ChatType != "" {
		t.Errorf("expected empty chat_type, got %q", fp.ChatType)
	}
}

// ---------------------------------------------------------------------------
// Test: Validation failures
// ---------------------------------------------------------------------------

func TestParseClientMessage_ValidationErrors(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"chat type with symbols", `{"type":"find-partner","chat_type":"vid eo!"}`},
		{"chat type too long", `{"type":"find-partner","chat_type":"abcdefghijklmnopqrstuvwxyzabcdefg"}`},
		{"report without reason", `{"type":"report-user"}`},
		{"report with unknown reason", `{"type":"report-user","reason":"rude"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, msg, err := ParseClientMessage([]byte(tc.input))
			if err == nil {
				t.Fatal("expected a validation error, got nil")
			}
			if !errors.Is(err, ErrInvalidMessage) {
				t.Errorf("expected ErrInvalidMessage, got %v", err)
			}
			if msg != nil {
				t.Errorf("expected nil message, got %v", msg)
			}
		})
	}
}

func TestParseClientMessage_ReportUser(t *testing.T) {
	for _, reason := range ReportReasons {
		t.Run(reason, func(t *testing.T) {
			input := []byte(`{"type":"report-user","reason":"` + reason + `","details":"x"}`)
			_, msg, err := ParseClientMessage(input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			rm := msg.(ReportUserMsg)
			if rm.Reason != reason {
				t.Errorf("expected reason %q, got %q", reason, rm.Reason)
			}
			if rm.Details != "x" {
				t.Errorf("expected details %q, got %q", "x", rm.Details)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Test: Signal payloads stay opaque
// ---------------------------------------------------------------------------

func TestParseClientMessage_SignalKeepsPayload(t *testing.T) {
	input := []byte(`{"type":"offer","payload":{"sdp":"v=0\r\n","n":12345678901234567890}}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeOffer {
		t.Fatalf("expected type %q, got %q", TypeOffer, msgType)
	}

	sm, ok := msg.(SignalMsg)
	if !ok {
		t.Fatalf("expected SignalMsg, got %T", msg)
	}
	want := `{"sdp":"v=0\r\n","n":12345678901234567890}`
	if string(sm.Payload) != want {
		t.Errorf("payload changed: expected %s, got %s", want, sm.Payload)
	}
}

func TestNewServerMessage_SignalPassThrough(t *testing.T) {
	payload := json.RawMessage(`{"candidate":"candidate:1 1 UDP 2122252543 10.0.0.1 54321 typ host","n":12345678901234567890}`)

	data, err := NewServerMessage(TypeICECandidate, SignalMsg{Payload: payload})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if decoded.Type != TypeICECandidate {
		t.Errorf("expected type %q, got %q", TypeICECandidate, decoded.Type)
	}
	if string(decoded.Payload) != string(payload) {
		t.Errorf("payload changed: expected %s, got %s", payload, decoded.Payload)
	}
}

// ---------------------------------------------------------------------------
// Test: Creating a partner-found server message
// ---------------------------------------------------------------------------

func TestNewServerMessage_PartnerFound(t *testing.T) {
	payload := PartnerFoundMsg{
		PartnerID: "uuid-456",
		Initiator: true,
		Tag:       "Japan",
	}

	data, err := NewServerMessage(TypePartnerFound, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["type"] != TypePartnerFound {
		t.Errorf("expected type %q, got %v", TypePartnerFound, result["type"])
	}
	if result["partner_id"] != "uuid-456" {
		t.Errorf("expected partner_id %q, got %v", "uuid-456", result["partner_id"])
	}
	if result["initiator"] != true {
		t.Errorf("expected initiator true, got %v", result["initiator"])
	}
	if result["tag"] != "Japan" {
		t.Errorf("expected tag %q, got %v", "Japan", result["tag"])
	}
}

func TestNewServerMessage_NilPayload(t *testing.T) {
	data, err := NewServerMessage(TypePartnerDisconnected, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `{"type":"partner-disconnected"}` {
		t.Errorf("unexpected message: %s", data)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing an unknown message type returns an error
// ---------------------------------------------------------------------------

func TestParseClientMessage_UnknownType(t *testing.T) {
	input := []byte(`{"type":"unknown_type","data":"something"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected an error for unknown message type, got nil")
	}
	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}
	if msg != nil {
		t.Errorf("expected nil message for unknown type, got %v", msg)
	}
	if msgType != "unknown_type" {
		t.Errorf("expected returned type %q, got %q", "unknown_type", msgType)
	}
}

func TestParseClientMessage_ServerOnlyTypeRejected(t *testing.T) {
	if _, _, err := ParseClientMessage([]byte(`{"type":"partner-found","partner_id":"x"}`)); err == nil {
		t.Fatal("expected an error for a server-only type, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: Envelope UnmarshalJSON edge cases
// ---------------------------------------------------------------------------

func TestEnvelope_MissingType(t *testing.T) {
	input := []byte(`{"data":"no type field"}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for missing type field, got nil")
	}
}

func TestEnvelope_InvalidJSON(t *testing.T) {
	input := []byte(`{invalid json}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing all client message types succeeds
// ---------------------------------------------------------------------------

func TestParseClientMessage_AllTypes(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		wantType string
	}{
		{"find-partner", `{"type":"find-partner","chat_type":"video"}`, TypeFindPartner},
		{"next-partner", `{"type":"next-partner"}`, TypeNextPartner},
		{"report-user", `{"type":"report-user","reason":"spam"}`, TypeReportUser},
		{"offer", `{"type":"offer","payload":{"sdp":"x"}}`, TypeOffer},
		{"answer", `{"type":"answer","payload":{"sdp":"y"}}`, TypeAnswer},
		{"ice-candidate", `{"type":"ice-candidate","payload":{"candidate":"c"}}`, TypeICECandidate},
		{"chat-message", `{"type":"chat-message","payload":"hello"}`, TypeChatMessage},
		{"ping", `{"type":"ping"}`, TypePing},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msgType, msg, err := ParseClientMessage([]byte(tc.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msgType != tc.wantType {
				t.Errorf("expected type %q, got %q", tc.wantType, msgType)
			}
			if msg == nil {
				t.Error("expected non-nil message")
			}
			if IsSignal(msgType) != (tc.wantType == TypeOffer || tc.wantType == TypeAnswer ||
				tc.wantType == TypeICECandidate || tc.wantType == TypeChatMessage) {
				t.Errorf("IsSignal(%q) returned the wrong answer", msgType)
			}
		})
	}
}
