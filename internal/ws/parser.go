package ws

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/EmirPirija/lmx-chat/internal/bus"
	"github.com/EmirPirija/lmx-chat/internal/model"
)

// envelope is the wire framing for every inbound event.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type typingPayload struct {
	ConversationID int64 `json:"item_offer_id"`
	UserID         int64 `json:"user_id"`
	IsTyping       bool  `json:"is_typing"`
}

type userStatusPayload struct {
	UserID int64 `json:"user_id"`
	Online bool  `json:"is_online"`
}

type statusPayload struct {
	ConversationID int64  `json:"item_offer_id"`
	MessageID      string `json:"message_id"`
	Status         string `json:"status"`
}

// inboundMessage wraps a message frame. Push-notification relays carry the
// real type in message_type_temp with message_type abused for routing.
type inboundMessage struct {
	model.Message
	MessageTypeTemp string `json:"message_type_temp"`
}

// ErrUnknownFrame reports a frame type this client does not understand.
type ErrUnknownFrame struct {
	Type string
}

func (e *ErrUnknownFrame) Error() string {
	return fmt.Sprintf("unknown frame type %q", e.Type)
}

// ParseFrame normalizes one wire frame into a bus event. The returned kind
// is one of ws.typing, ws.user_status, ws.new_message, ws.message_status.
func ParseFrame(data []byte) (bus.Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return bus.Event{}, fmt.Errorf("decode frame: %w", err)
	}

	switch env.Type {
	case "typing":
		var p typingPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return bus.Event{}, fmt.Errorf("decode typing: %w", err)
		}
		return bus.Event{
			Kind:      "ws.typing",
			Timestamp: time.Now(),
			Payload: model.TypingEvent{
				ConversationID: p.ConversationID,
				UserID:         p.UserID,
				IsTyping:       p.IsTyping,
			},
		}, nil
	case "user_status":
		var p userStatusPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return bus.Event{}, fmt.Errorf("decode user_status: %w", err)
		}
		return bus.Event{
			Kind:      "ws.user_status",
			Timestamp: time.Now(),
			Payload: model.UserStatusEvent{
				UserID: p.UserID,
				Online: p.Online,
			},
		}, nil
	case "message_status":
		var p statusPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return bus.Event{}, fmt.Errorf("decode message_status: %w", err)
		}
		return bus.Event{
			Kind:      "ws.message_status",
			Timestamp: time.Now(),
			Payload: model.MessageStatusEvent{
				ConversationID: p.ConversationID,
				MessageID:      p.MessageID,
				Status:         model.Status(p.Status),
			},
		}, nil
	case "new_message":
		var p inboundMessage
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return bus.Event{}, fmt.Errorf("decode new_message: %w", err)
		}
		msg := p.Message
		if p.MessageTypeTemp != "" {
			msg.Type = p.MessageTypeTemp
		}
		return bus.Event{
			Kind:      "ws.new_message",
			Timestamp: time.Now(),
			Payload:   msg,
		}, nil
	default:
		return bus.Event{}, &ErrUnknownFrame{Type: env.Type}
	}
}
