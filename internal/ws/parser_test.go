package ws

import (
	"errors"
	"testing"

	"github.com/EmirPirija/lmx-chat/internal/model"
)

func TestParseTypingFrame(t *testing.T) {
	evt, err := ParseFrame([]byte(`{"type":"typing","data":{"item_offer_id":42,"user_id":7,"is_typing":true}}`))
	if err != nil {
		t.Fatal(err)
	}
	if evt.Kind != "ws.typing" {
		t.Errorf("kind = %q, want ws.typing", evt.Kind)
	}
	p := evt.Payload.(model.TypingEvent)
	if p.ConversationID != 42 || p.UserID != 7 || !p.IsTyping {
		t.Errorf("payload = %+v", p)
	}
}

func TestParseUserStatusFrame(t *testing.T) {
	evt, err := ParseFrame([]byte(`{"type":"user_status","data":{"user_id":7,"is_online":true}}`))
	if err != nil {
		t.Fatal(err)
	}
	p := evt.Payload.(model.UserStatusEvent)
	if p.UserID != 7 || !p.Online {
		t.Errorf("payload = %+v", p)
	}
}

func TestParseMessageStatusFrame(t *testing.T) {
	evt, err := ParseFrame([]byte(`{"type":"message_status","data":{"item_offer_id":42,"message_id":"m1","status":"seen"}}`))
	if err != nil {
		t.Fatal(err)
	}
	p := evt.Payload.(model.MessageStatusEvent)
	if p.ConversationID != 42 || p.MessageID != "m1" || p.Status != model.StatusSeen {
		t.Errorf("payload = %+v", p)
	}
}

func TestParseMessageStatusBulkFrame(t *testing.T) {
	evt, err := ParseFrame([]byte(`{"type":"message_status","data":{"item_offer_id":42,"status":"seen"}}`))
	if err != nil {
		t.Fatal(err)
	}
	p := evt.Payload.(model.MessageStatusEvent)
	if p.MessageID != "" {
		t.Errorf("message_id = %q, want empty (bulk)", p.MessageID)
	}
}

func TestParseNewMessageFrame(t *testing.T) {
	evt, err := ParseFrame([]byte(`{"type":"new_message","data":{"id":"m1","item_offer_id":42,"sender_id":7,"message":"hi","message_type":"text","created_at":1000}}`))
	if err != nil {
		t.Fatal(err)
	}
	msg := evt.Payload.(model.Message)
	if msg.ID != "m1" || msg.ConversationID != 42 || msg.Text != "hi" || msg.Type != "text" {
		t.Errorf("payload = %+v", msg)
	}
}

// Push-notification relays carry the real type in message_type_temp.
func TestParseNewMessagePushVariant(t *testing.T) {
	evt, err := ParseFrame([]byte(`{"type":"new_message","data":{"id":"m1","item_offer_id":42,"sender_id":7,"message":"voice","message_type":"push","message_type_temp":"audio"}}`))
	if err != nil {
		t.Fatal(err)
	}
	msg := evt.Payload.(model.Message)
	if msg.Type != "audio" {
		t.Errorf("type = %q, want audio (message_type_temp wins)", msg.Type)
	}
}

func TestParseUnknownFrame(t *testing.T) {
	_, err := ParseFrame([]byte(`{"type":"auction_update","data":{}}`))
	var unknown *ErrUnknownFrame
	if !errors.As(err, &unknown) {
		t.Fatalf("err = %v, want ErrUnknownFrame", err)
	}
	if unknown.Type != "auction_update" {
		t.Errorf("type = %q", unknown.Type)
	}
}

func TestParseMalformedFrame(t *testing.T) {
	if _, err := ParseFrame([]byte(`not json`)); err == nil {
		t.Error("expected error for malformed frame")
	}
	if _, err := ParseFrame([]byte(`{"type":"typing","data":"nope"}`)); err == nil {
		t.Error("expected error for malformed payload")
	}
}
