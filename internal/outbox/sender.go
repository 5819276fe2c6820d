package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/EmirPirija/lmx-chat/internal/bus"
	"github.com/EmirPirija/lmx-chat/internal/model"
	"github.com/EmirPirija/lmx-chat/internal/store"
	"github.com/EmirPirija/lmx-chat/internal/thread"
)

// MessageSender is the backend endpoint that delivers an outgoing message
// and returns its server-side record.
type MessageSender interface {
	SendMessage(ctx context.Context, conversationID int64, text, messageType string) (*model.Message, error)
}

// Sender drains the outbox and delivers queued messages to the backend.
// Sends are optimistic: Queue inserts the message into the open thread with
// a client-generated ID before the round trip, and the loop swaps in the
// server ID on acknowledgement.
type Sender struct {
	localUserID int64
	db          *store.DB
	api         MessageSender
	thread      *thread.Reconciler
	bus         *bus.Bus
	logger      *zap.Logger
	cancel      context.CancelFunc
}

// NewSender creates a new outbox sender.
func NewSender(localUserID int64, db *store.DB, api MessageSender, th *thread.Reconciler, b *bus.Bus, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		localUserID: localUserID,
		db:          db,
		api:         api,
		thread:      th,
		bus:         b,
		logger:      logger,
	}
}

// Queue stores an outgoing message and inserts it optimistically into the
// open thread. Returns the client-generated message ID.
func (s *Sender) Queue(conversationID int64, text, messageType string) (string, error) {
	clientID := model.LocalIDPrefix + uuid.NewString()
	if err := s.db.QueueOutbox(clientID, conversationID, text, messageType); err != nil {
		return "", err
	}

	now := time.Now().UnixMilli()
	s.thread.AppendLocal(model.Message{
		ID:             clientID,
		ConversationID: conversationID,
		SenderID:       s.localUserID,
		Text:           text,
		Type:           messageType,
		CreatedAt:      now,
		Status:         model.StatusSending,
	})
	_ = s.db.UpsertMessage(&store.Message{
		ConversationID: conversationID,
		MsgID:          clientID,
		SenderID:       s.localUserID,
		Body:           text,
		MessageType:    messageType,
		Status:         string(model.StatusSending),
		CreatedAt:      now,
	})

	s.bus.Publish(bus.Event{
		Kind:      "outbox.queued",
		Timestamp: time.Now(),
		Payload:   map[string]string{"client_msg_id": clientID},
	})
	return clientID, nil
}

// Start begins polling the outbox for pending messages.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.ProcessPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// ProcessPending drains the queued outbox entries once.
func (s *Sender) ProcessPending(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			continue
		}

		sent, err := s.api.SendMessage(ctx, entry.ConversationID, entry.Body, entry.MessageType)
		if err != nil {
			s.logger.Error("failed to send message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			_ = s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error())
			_ = s.db.SetMessageStatus(entry.ConversationID, entry.ClientMsgID, string(model.StatusFailed))
			s.thread.SetLocalStatus(entry.ClientMsgID, model.StatusFailed)
			s.bus.Publish(bus.Event{
				Kind:      "outbox.send_failed",
				Timestamp: time.Now(),
				Payload: map[string]string{
					"client_msg_id": entry.ClientMsgID,
					"error":         err.Error(),
				},
			})
			continue
		}

		if err := s.db.MarkOutboxSent(entry.ClientMsgID, sent.ID); err != nil {
			s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		}
		_ = s.db.ReplaceMessageID(entry.ConversationID, entry.ClientMsgID, sent.ID)
		_ = s.db.SetMessageStatus(entry.ConversationID, sent.ID, string(model.StatusSent))
		s.thread.ConfirmLocal(entry.ClientMsgID, sent.ID, model.StatusSent)

		s.logger.Info("message sent", zap.String("client_msg_id", entry.ClientMsgID), zap.String("server_msg_id", sent.ID))
		s.bus.Publish(bus.Event{
			Kind:      "outbox.send_ack",
			Timestamp: time.Now(),
			Payload: map[string]string{
				"client_msg_id": entry.ClientMsgID,
				"server_msg_id": sent.ID,
			},
		})
	}
}
