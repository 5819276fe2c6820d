package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/EmirPirija/lmx-chat/internal/bus"
	"github.com/EmirPirija/lmx-chat/internal/status"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
	writeTimeout   = 10 * time.Second
)

// Manager owns the WebSocket connection to the chat backend. It dials,
// reads frames into bus events, and reconnects with exponential backoff,
// driving the status machine through the connection lifecycle. Per-chat
// subscriptions are replayed after every reconnect.
type Manager struct {
	url     string
	token   string
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger

	mu     sync.Mutex
	wmu    sync.Mutex // serializes frame writes
	conn   *websocket.Conn
	subs   map[int64]struct{}
	cancel context.CancelFunc
}

// controlFrame is the outbound subscribe/unsubscribe framing.
type controlFrame struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"item_offer_id"`
}

// NewManager creates a WebSocket manager.
func NewManager(url, token string, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		url:     url,
		token:   token,
		bus:     b,
		machine: machine,
		logger:  logger,
		subs:    make(map[int64]struct{}),
	}
}

// Start begins the connect/read/reconnect loop.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	go m.run(ctx)
}

// Stop closes the connection and halts reconnection.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Lock()
	if m.conn != nil {
		_ = m.conn.Close()
	}
	m.mu.Unlock()
}

func (m *Manager) run(ctx context.Context) {
	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		_ = m.machine.Transition(status.Connecting)

		conn, err := m.dial(ctx)
		if err != nil {
			m.logger.Warn("websocket dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			_ = m.machine.Transition(status.Reconnecting)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			if backoff *= 2; backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = initialBackoff

		m.mu.Lock()
		m.conn = conn
		m.mu.Unlock()

		_ = m.machine.Transition(status.Syncing)
		m.resubscribe()
		_ = m.machine.Transition(status.Ready)
		m.bus.Publish(bus.Event{Kind: "ws.connected", Timestamp: time.Now()})

		err = m.readLoop(ctx, conn)
		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		m.logger.Warn("websocket connection lost", zap.Error(err))
		_ = m.machine.Transition(status.Reconnecting)
		m.bus.Publish(bus.Event{Kind: "ws.disconnected", Timestamp: time.Now()})
	}
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if m.token != "" {
		header.Set("Authorization", "Bearer "+m.token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, m.url, header)
	return conn, err
}

func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		evt, err := ParseFrame(data)
		if err != nil {
			var unknown *ErrUnknownFrame
			if errors.As(err, &unknown) {
				m.logger.Warn("dropping unknown frame", zap.String("type", unknown.Type))
			} else {
				m.logger.Warn("dropping malformed frame", zap.Error(err))
			}
			continue
		}
		m.bus.Publish(evt)
	}
}

// SubscribeToChat registers interest in a conversation's events. The
// subscription survives reconnects.
func (m *Manager) SubscribeToChat(conversationID int64) error {
	m.mu.Lock()
	m.subs[conversationID] = struct{}{}
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return nil
	}
	return m.writeControl(conn, controlFrame{Type: "subscribe", ConversationID: conversationID})
}

// UnsubscribeFromChat drops interest in a conversation's events.
func (m *Manager) UnsubscribeFromChat(conversationID int64) error {
	m.mu.Lock()
	delete(m.subs, conversationID)
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return nil
	}
	return m.writeControl(conn, controlFrame{Type: "unsubscribe", ConversationID: conversationID})
}

// SendTyping notifies the backend that the local user started or stopped
// typing in a conversation.
func (m *Manager) SendTyping(conversationID int64, isTyping bool) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return nil
	}
	frameType := "typing_stop"
	if isTyping {
		frameType = "typing_start"
	}
	return m.writeControl(conn, controlFrame{Type: frameType, ConversationID: conversationID})
}

func (m *Manager) resubscribe() {
	m.mu.Lock()
	conn := m.conn
	ids := make([]int64, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		if err := m.writeControl(conn, controlFrame{Type: "subscribe", ConversationID: id}); err != nil {
			m.logger.Warn("resubscribe failed", zap.Int64("conversation_id", id), zap.Error(err))
		}
	}
}

func (m *Manager) writeControl(conn *websocket.Conn, frame controlFrame) error {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(frame)
}
