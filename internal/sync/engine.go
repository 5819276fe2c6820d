package sync

import (
	"context"

	"go.uber.org/zap"

	"github.com/EmirPirija/lmx-chat/internal/bus"
	"github.com/EmirPirija/lmx-chat/internal/convlist"
	"github.com/EmirPirija/lmx-chat/internal/model"
	"github.com/EmirPirija/lmx-chat/internal/presence"
	"github.com/EmirPirija/lmx-chat/internal/store"
	"github.com/EmirPirija/lmx-chat/internal/thread"
)

// Engine routes inbound transport events to the in-memory reconcilers and
// mirrors durable state into the cache. It subscribes to "ws." events plus
// the presence store's typing expiry notifications.
type Engine struct {
	localUserID int64
	db          *store.DB
	bus         *bus.Bus
	list        *convlist.Reconciler
	thread      *thread.Reconciler
	presence    *presence.Store
	logger      *zap.Logger
	cancel      context.CancelFunc
}

// NewEngine creates a new sync engine.
func NewEngine(localUserID int64, db *store.DB, b *bus.Bus, list *convlist.Reconciler, th *thread.Reconciler, pr *presence.Store, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		localUserID: localUserID,
		db:          db,
		bus:         b,
		list:        list,
		thread:      th,
		presence:    pr,
		logger:      logger,
	}
}

// Start subscribes to inbound events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	wsCh, unsubWS := e.bus.Subscribe("ws.", 256)
	prCh, unsubPr := e.bus.Subscribe("presence.typing_cleared", 64)

	go func() {
		defer unsubWS()
		defer unsubPr()
		for {
			select {
			case evt := <-wsCh:
				e.handleEvent(evt)
			case evt := <-prCh:
				e.handleTypingCleared(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case "ws.typing":
		ev, ok := evt.Payload.(model.TypingEvent)
		if !ok {
			return
		}
		e.presence.SetTyping(ev.ConversationID, ev.UserID, ev.IsTyping)
		e.list.ApplyTyping(ev.ConversationID, ev.UserID, ev.IsTyping)
	case "ws.user_status":
		ev, ok := evt.Payload.(model.UserStatusEvent)
		if !ok {
			return
		}
		e.presence.SetOnline(ev.UserID, ev.Online)
		e.list.ApplyOnline(ev.UserID, ev.Online)
	case "ws.new_message":
		msg, ok := evt.Payload.(model.Message)
		if !ok {
			return
		}
		e.ingestMessage(msg)
	case "ws.message_status":
		ev, ok := evt.Payload.(model.MessageStatusEvent)
		if !ok {
			return
		}
		e.applyStatus(ev)
	}
}

func (e *Engine) handleTypingCleared(evt bus.Event) {
	ev, ok := evt.Payload.(model.TypingEvent)
	if !ok {
		return
	}
	e.list.ApplyTyping(ev.ConversationID, ev.UserID, false)
}

// ingestMessage applies one inbound message to the open thread, the list
// summaries, and the cache. Upserts are idempotent so redelivered frames
// are harmless.
func (e *Engine) ingestMessage(msg model.Message) {
	e.thread.ApplyIncoming(msg)
	e.list.ApplyNewMessage(msg.ConversationID, msg)

	if e.db == nil {
		return
	}
	status := msg.Status
	if status == "" {
		status = model.StatusSent
	}
	if err := e.db.UpsertMessage(&store.Message{
		ConversationID: msg.ConversationID,
		MsgID:          msg.ID,
		SenderID:       msg.SenderID,
		Body:           msg.Text,
		MessageType:    msg.Type,
		AudioURL:       msg.AudioURL,
		FileURL:        msg.FileURL,
		Status:         string(status),
		CreatedAt:      msg.CreatedAt,
	}); err != nil {
		e.logger.Error("failed to cache message", zap.Error(err), zap.String("msg_id", msg.ID))
	}
}

func (e *Engine) applyStatus(ev model.MessageStatusEvent) {
	e.thread.ApplyStatus(ev)

	if e.db == nil {
		return
	}
	var err error
	if ev.MessageID == "" {
		err = e.db.SetAllMessagesStatus(ev.ConversationID, e.localUserID, string(ev.Status))
	} else {
		err = e.db.SetMessageStatus(ev.ConversationID, ev.MessageID, string(ev.Status))
	}
	if err != nil {
		e.logger.Error("failed to cache status update", zap.Error(err),
			zap.Int64("conversation_id", ev.ConversationID), zap.String("msg_id", ev.MessageID))
	}
}
