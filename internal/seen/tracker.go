package seen

import (
	"context"
	"sync"
	"time"

	"github.com/EmirPirija/lmx-chat/internal/bus"
	"github.com/EmirPirija/lmx-chat/internal/convlist"
	"go.uber.org/zap"
)

// State is the per-conversation mark-seen request state.
type State string

const (
	Idle         State = "idle"
	Requesting   State = "requesting"
	Acknowledged State = "acknowledged"
	Failed       State = "failed"
)

// MarkSeenCaller is the backend endpoint that acknowledges a read.
type MarkSeenCaller interface {
	MarkSeen(ctx context.Context, conversationID int64) error
}

// Tracker fires the mark-as-seen round trip when a conversation is opened
// and reconciles the unread reset into the list reconciler. The local reset
// is optimistic: a failed server call is logged but never rolled back.
type Tracker struct {
	mu     sync.Mutex
	api    MarkSeenCaller
	list   *convlist.Reconciler
	bus    *bus.Bus
	logger *zap.Logger
	states map[int64]State
}

// New creates a seen tracker.
func New(api MarkSeenCaller, list *convlist.Reconciler, b *bus.Bus, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		api:    api,
		list:   list,
		bus:    b,
		logger: logger,
		states: make(map[int64]State),
	}
}

// ConversationOpened runs one idle → requesting → {acknowledged|failed}
// cycle for the conversation. The unread counter is zeroed locally before
// the server call goes out.
func (t *Tracker) ConversationOpened(ctx context.Context, conversationID int64) {
	t.mu.Lock()
	if t.states[conversationID] == Requesting {
		t.mu.Unlock()
		return
	}
	t.states[conversationID] = Requesting
	t.mu.Unlock()

	// Optimistic reset; the UX stays snappy whatever the server says.
	t.list.MarkSeen(conversationID)

	err := t.api.MarkSeen(ctx, conversationID)

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.states[conversationID] = Failed
		t.logger.Warn("mark seen failed; keeping optimistic reset",
			zap.Int64("conversation_id", conversationID), zap.Error(err))
		t.publish("seen.failed", conversationID)
		return
	}
	t.states[conversationID] = Acknowledged
	t.publish("seen.acknowledged", conversationID)
}

// State returns the last known request state for a conversation.
func (t *Tracker) State(conversationID int64) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.states[conversationID]; ok {
		return s
	}
	return Idle
}

func (t *Tracker) publish(kind string, conversationID int64) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: conversationID})
}
