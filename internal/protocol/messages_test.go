package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/chatkool/chat-app/internal/chat"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid bind_identity message
// ---------------------------------------------------------------------------

func TestParseClientMessage_BindIdentity(t *testing.T) {
	input := []byte(`{"type":"bind_identity","identity":"ana"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeBindIdentity {
		t.Fatalf("expected type %q, got %q", TypeBindIdentity, msgType)
	}

	bm, ok := msg.(BindIdentityMsg)
	if !ok {
		t.Fatalf("expected BindIdentityMsg, got %T", msg)
	}
	if bm.Identity != "ana" {
		t.Errorf("expected identity %q, got %q", "ana", bm.Identity)
	}
}

func TestParseClientMessage_SetUsernameAlias(t *testing.T) {
	input := []byte(`{"type":"set_username","username":"bea"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeBindIdentity {
		t.Fatalf("expected alias to report %q, got %q", TypeBindIdentity, msgType)
	}
	if bm := msg.(BindIdentityMsg); bm.Identity != "bea" {
		t.Errorf("expected identity %q, got %q", "bea", bm.Identity)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a valid chat_message
// ---------------------------------------------------------------------------

func TestParseClientMessage_ChatMsg(t *testing.T) {
	input := []byte(`{"type":"chat_message","content":"Hello!"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeChatMessage {
		t.Fatalf("expected type %q, got %q", TypeChatMessage, msgType)
	}

	cm, ok := msg.(ChatMsg)
	if !ok {
		t.Fatalf("expected ChatMsg, got %T", msg)
	}
	if cm.Content != "Hello!" {
		t.Errorf("expected content %q, got %q", "Hello!", cm.Content)
	}
}

func TestParseClientMessage_JoinRoom(t *testing.T) {
	_, msg, err := ParseClientMessage([]byte(`{"type":"join_room","roomId":"r-1"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if jm := msg.(JoinRoomMsg); jm.RoomID != "r-1" {
		t.Errorf("expected roomId %q, got %q", "r-1", jm.RoomID)
	}
}

// ---------------------------------------------------------------------------
// Test: Creating server messages
// ---------------------------------------------------------------------------

func TestNewServerMessage_MatchFound(t *testing.T) {
	payload := MatchFoundMsg{
		Room: chat.Room{
			ID:           "uuid-456",
			Participants: [2]string{"ana", "bea"},
			CreatedAt:    time.Unix(1700000000, 0).UTC(),
		},
		Partner: "ana",
	}

	data, err := NewServerMessage(TypeMatchFound, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["type"] != TypeMatchFound {
		t.Errorf("expected type %q, got %v", TypeMatchFound, result["type"])
	}
	if result["partner"] != "ana" {
		t.Errorf("expected partner %q, got %v", "ana", result["partner"])
	}

	room, ok := result["room"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected room to be an object, got %T", result["room"])
	}
	if room["id"] != "uuid-456" {
		t.Errorf("expected room id %q, got %v", "uuid-456", room["id"])
	}
	if _, ok := room["persona"]; ok {
		t.Error("human rooms must not carry a persona field")
	}
}

func TestNewServerMessage_Message(t *testing.T) {
	data, err := NewServerMessage(TypeMessage, ServerChatMsg{
		Message: chat.Message{ID: "m1", Content: "hi", Username: "ana", RoomID: "r1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded struct {
		Type    string       `json:"type"`
		Message chat.Message `json:"message"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if decoded.Type != TypeMessage {
		t.Errorf("expected type %q, got %q", TypeMessage, decoded.Type)
	}
	if decoded.Message.Content != "hi" || decoded.Message.Username != "ana" {
		t.Errorf("unexpected message %+v", decoded.Message)
	}
}

func TestNewError(t *testing.T) {
	var decoded ErrorMsg
	if err := json.Unmarshal(NewError(ReasonNotInRoom, "join a room first"), &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if decoded.Type != TypeError || decoded.Reason != ReasonNotInRoom {
		t.Errorf("unexpected error frame %+v", decoded)
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
	if msg != nil {
		t.Errorf("expected nil message for unknown type, got %v", msg)
	}
	if msgType != "unknown_type" {
		t.Errorf("expected returned type %q, got %q", "unknown_type", msgType)
	}
}

func TestParseClientMessage_ServerOnlyType(t *testing.T) {
	if _, _, err := ParseClientMessage([]byte(`{"type":"match_found"}`)); err == nil {
		t.Fatal("expected an error for a server-only message type")
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
		{"bind_identity", `{"type":"bind_identity","identity":"ana"}`, TypeBindIdentity},
		{"join_room", `{"type":"join_room","roomId":"id1"}`, TypeJoinRoom},
		{"chat_message", `{"type":"chat_message","content":"hi"}`, TypeChatMessage},
		{"typing_start", `{"type":"typing_start"}`, TypeTypingStart},
		{"typing_stop", `{"type":"typing_stop"}`, TypeTypingStop},
		{"end_chat", `{"type":"end_chat"}`, TypeEndChat},
		{"find_match", `{"type":"find_match"}`, TypeFindMatch},
		{"cancel_match", `{"type":"cancel_match"}`, TypeCancelMatch},
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
		})
	}
}
