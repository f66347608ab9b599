// Package protocol defines the WebSocket message types and structures used for
// communication between the client and server. All messages are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/chatkool/chat-app/internal/chat"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeBindIdentity = "bind_identity"
	TypeSetUsername  = "set_username" // legacy alias of bind_identity
	TypeJoinRoom     = "join_room"
	TypeChatMessage  = "chat_message"
	TypeTypingStart  = "typing_start"
	TypeTypingStop   = "typing_stop"
	TypeEndChat      = "end_chat"
	TypeFindMatch    = "find_match"
	TypeCancelMatch  = "cancel_match"
	TypePing         = "ping"
)

// Server -> Client message types.
const (
	TypeIdentityBound   = "identity_bound"
	TypeRoomJoined      = "room_joined"
	TypeMessage         = "message"
	TypeTyping          = "typing"
	TypePartnerLeft     = "partner_left"
	TypeMatchFound      = "match_found"
	TypeMatchingStarted = "matching_started"
	TypeChatEnded       = "chat_ended"
	TypeError           = "error"
	TypePong            = "pong"
)

// Error reasons carried by ErrorMsg.
const (
	ReasonParseError       = "parse_error"
	ReasonUnsupportedType  = "unsupported_type"
	ReasonInvalidIdentity  = "invalid_identity"
	ReasonAlreadyBound     = "already_bound"
	ReasonIdentityRequired = "identity_required"
	ReasonUnknownRoom      = "unknown_room"
	ReasonNotInRoom        = "not_in_room"
	ReasonInvalidMessage   = "invalid_message"
	ReasonRateLimited      = "rate_limited"
	ReasonFailedToSend     = "failed_to_send"
	ReasonAlreadyInRoom    = "already_in_room"
	ReasonMatchFailed      = "match_failed"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
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

// BindIdentityMsg binds the connection to a display name. Legacy clients
// send the name under "username".
type BindIdentityMsg struct {
	Type     string `json:"type"`
	Identity string `json:"identity" validate:"required,max=20"`
	Username string `json:"username,omitempty"`
}

// JoinRoomMsg binds the connection to a room the identity was paired into.
type JoinRoomMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

// ChatMsg is a text message sent by the client to its current room.
type ChatMsg struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// TypingMsg is sent for both typing_start and typing_stop.
type TypingMsg struct {
	Type string `json:"type"`
}

// EndChatMsg is sent by the client to end its current room.
type EndChatMsg struct {
	Type string `json:"type"`
}

// FindMatchMsg asks the server to pair the bound identity.
type FindMatchMsg struct {
	Type string `json:"type"`
}

// CancelMatchMsg is sent by the client to leave the waiting pool.
type CancelMatchMsg struct {
	Type string `json:"type"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// IdentityBoundMsg acknowledges bind_identity.
type IdentityBoundMsg struct {
	Type     string `json:"type"`
	Identity string `json:"identity"`
}

// RoomJoinedMsg acknowledges join_room, or announces a server-side join.
type RoomJoinedMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

// ServerChatMsg delivers a chat message from the room counterpart.
type ServerChatMsg struct {
	Type    string       `json:"type"`
	Message chat.Message `json:"message"`
}

// ServerTypingMsg relays the partner's typing indicator to the client.
type ServerTypingMsg struct {
	Type     string `json:"type"`
	IsTyping bool   `json:"isTyping"`
}

// PartnerLeftMsg is sent when the counterpart ended the chat or
// disconnected. The receiver's room binding is already cleared.
type PartnerLeftMsg struct {
	Type     string `json:"type"`
	Identity string `json:"identity"`
}

// MatchFoundMsg notifies a client that it has been paired.
type MatchFoundMsg struct {
	Type    string    `json:"type"`
	Room    chat.Room `json:"room"`
	Partner string    `json:"partner"`
}

// MatchingStartedMsg confirms the client is waiting for a partner. Timeout
// is the number of seconds before a persona takes over.
type MatchingStartedMsg struct {
	Type    string `json:"type"`
	Timeout int    `json:"timeout"`
}

// ChatEndedMsg confirms end_chat to the client that sent it.
type ChatEndedMsg struct {
	Type string `json:"type"`
}

// ErrorMsg is sent by the server to communicate an error condition. The
// connection stays open.
type ErrorMsg struct {
	Type    string `json:"type"`
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
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
// encountered during parsing. An error is returned for unknown or
// server-only message types. The set_username alias is reported as
// bind_identity.
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
	case TypeBindIdentity, TypeSetUsername:
		var m BindIdentityMsg
		err = json.Unmarshal(env.Raw, &m)
		if m.Identity == "" {
			m.Identity = m.Username
		}
		m.Type = TypeBindIdentity
		env.Type = TypeBindIdentity
		msg = m
	case TypeJoinRoom:
		var m JoinRoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeChatMessage:
		var m ChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTypingStart, TypeTypingStop:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeEndChat:
		var m EndChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeFindMatch:
		var m FindMatchMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCancelMatch:
		var m CancelMatchMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}

// NewError builds an error event with the given reason.
func NewError(reason, message string) []byte {
	data, err := NewServerMessage(TypeError, ErrorMsg{Reason: reason, Message: message})
	if err != nil {
		// ErrorMsg always marshals; keep a valid frame regardless.
		return []byte(`{"type":"error","reason":"` + reason + `"}`)
	}
	return data
}
