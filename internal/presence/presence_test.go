package presence

import (
	"testing"
	"time"

	"github.com/EmirPirija/lmx-chat/internal/bus"
	"github.com/EmirPirija/lmx-chat/internal/model"
)

func TestTypingSetAndClear(t *testing.T) {
	s := New(bus.New(), nil)

	s.SetTyping(5, 42, true)
	if !s.IsTyping(5, 42) {
		t.Error("expected typing after is_typing=true")
	}
	if s.IsTyping(5, 43) {
		t.Error("unrelated user should not be typing")
	}

	s.SetTyping(5, 42, false)
	if s.IsTyping(5, 42) {
		t.Error("expected cleared after is_typing=false")
	}
}

func TestTypingAutoExpiry(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("presence.", 10)
	defer unsub()

	s := newWithTTL(100*time.Millisecond, 20*time.Millisecond, b, nil)
	s.SetTyping(5, 42, true)

	// Must still be set well before the TTL.
	time.Sleep(40 * time.Millisecond)
	if !s.IsTyping(5, 42) {
		t.Fatal("typing expired too early")
	}

	// Must clear after the TTL passes with no refresh.
	deadline := time.After(2 * time.Second)
	for s.IsTyping(5, 42) {
		select {
		case <-deadline:
			t.Fatal("typing flag never expired")
		case <-time.After(20 * time.Millisecond):
		}
	}

	// Expiry must announce itself on the bus.
	select {
	case evt := <-ch:
		if evt.Kind != "presence.typing_cleared" {
			t.Errorf("event kind = %q, want presence.typing_cleared", evt.Kind)
		}
		te, ok := evt.Payload.(model.TypingEvent)
		if !ok {
			t.Fatalf("payload type = %T, want TypingEvent", evt.Payload)
		}
		if te.ConversationID != 5 || te.UserID != 42 || te.IsTyping {
			t.Errorf("payload = %+v, want conv 5 user 42 cleared", te)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for typing_cleared event")
	}
}

func TestTypingRefreshExtendsExpiry(t *testing.T) {
	s := newWithTTL(100*time.Millisecond, 20*time.Millisecond, bus.New(), nil)

	s.SetTyping(5, 42, true)
	time.Sleep(60 * time.Millisecond)
	s.SetTyping(5, 42, true) // refresh
	time.Sleep(60 * time.Millisecond)

	// 120ms since the first event, but only 60ms since the refresh.
	if !s.IsTyping(5, 42) {
		t.Error("refresh should have extended the typing window")
	}
}

func TestDefaultTTL(t *testing.T) {
	if typingTTL != 3*time.Second {
		t.Errorf("typingTTL = %v, want 3s", typingTTL)
	}
}

func TestOnlinePresence(t *testing.T) {
	s := New(bus.New(), nil)

	s.SetOnline(7, true)
	s.SetOnline(8, true)
	if !s.Online(7) || !s.Online(8) {
		t.Error("expected users 7 and 8 online")
	}
	if s.OnlineCount() != 2 {
		t.Errorf("OnlineCount() = %d, want 2", s.OnlineCount())
	}

	s.SetOnline(7, false)
	if s.Online(7) {
		t.Error("user 7 should be offline")
	}
	if s.OnlineCount() != 1 {
		t.Errorf("OnlineCount() = %d, want 1", s.OnlineCount())
	}
}
