package ws

import (
	"github.com/rs/zerolog"

	"github.com/chatkool/chat-app/internal/logging"
	"github.com/chatkool/chat-app/internal/protocol"
)

// MessageHandler is the callback signature for handling a parsed client message.
// The msg parameter is the concrete struct returned by protocol.ParseClientMessage
// (e.g., protocol.FindMatchMsg, protocol.ChatMsg, etc.).
type MessageHandler func(conn *Connection, msg interface{})

// MessageDispatcher routes incoming WebSocket messages to registered handlers
// based on the message type. It handles the built-in ping/pong keepalive
// internally and sends structured error responses for malformed or unsupported
// messages.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	log      zerolog.Logger
}

// NewMessageDispatcher creates an empty MessageDispatcher.
func NewMessageDispatcher(log zerolog.Logger) *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		log:      log,
	}
}

// Register associates a MessageHandler with a message type. If a handler was
// already registered for the given type, it is silently replaced.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the onMessage callback implementation. It parses the raw bytes
// into a typed message, handles ping internally, and routes all other types to
// the registered handler. Parse errors and unregistered types result in an
// error message sent back to the client; the connection stays open.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		_, known := d.handlers[msgType]
		if !known && msgType != "" && msgType != protocol.TypePing {
			d.log.Debug().Str("type", msgType).Str(logging.FieldSessionID, conn.ID).Msg("unsupported message type")
			d.sendError(conn, protocol.ReasonUnsupportedType, "unsupported message type")
			return
		}
		d.log.Debug().Err(err).Str(logging.FieldSessionID, conn.ID).Msg("dispatch parse error")
		d.sendError(conn, protocol.ReasonParseError, "invalid message format")
		return
	}

	// Built-in ping handler: respond immediately without requiring registration.
	if msgType == protocol.TypePing {
		d.sendPong(conn)
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		d.log.Debug().Str("type", msgType).Str(logging.FieldSessionID, conn.ID).Msg("unsupported message type")
		d.sendError(conn, protocol.ReasonUnsupportedType, "unsupported message type")
		return
	}

	handler(conn, msg)
}

func (d *MessageDispatcher) sendError(conn *Connection, reason string, message string) {
	if err := conn.WriteMessage(protocol.NewError(reason, message)); err != nil {
		d.log.Debug().Err(err).Str(logging.FieldSessionID, conn.ID).Msg("failed to send error message")
	}
}

// sendPong responds to a client ping with a pong message.
func (d *MessageDispatcher) sendPong(conn *Connection) {
	conn.touch()

	data, err := protocol.NewServerMessage(protocol.TypePong, protocol.PongMsg{})
	if err != nil {
		d.log.Error().Err(err).Msg("failed to build pong message")
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		d.log.Debug().Err(err).Str(logging.FieldSessionID, conn.ID).Msg("failed to send pong message")
	}
}
