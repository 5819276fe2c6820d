package presence

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/EmirPirija/lmx-chat/internal/bus"
	"github.com/EmirPirija/lmx-chat/internal/model"
	cache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// A typing flag lives this long after the last is_typing=true event
// with no refresh.
const typingTTL = 3 * time.Second

const cleanupInterval = time.Second

// Store tracks ephemeral typing state and online presence. Typing entries
// expire on their own; expiry (and explicit clears) are announced on the
// bus as presence.typing_cleared so the list reconciler can drop its flag.
type Store struct {
	typing *cache.Cache

	mu     sync.RWMutex
	online map[int64]struct{}

	bus    *bus.Bus
	logger *zap.Logger
}

// New creates a presence store with the standard 3s typing expiry.
func New(b *bus.Bus, logger *zap.Logger) *Store {
	return newWithTTL(typingTTL, cleanupInterval, b, logger)
}

func newWithTTL(ttl, cleanup time.Duration, b *bus.Bus, logger *zap.Logger) *Store {
	s := &Store{
		typing: cache.New(ttl, cleanup),
		online: make(map[int64]struct{}),
		bus:    b,
		logger: logger,
	}
	s.typing.OnEvicted(func(key string, _ any) {
		convID, userID, err := parseTypingKey(key)
		if err != nil {
			return
		}
		if s.bus != nil {
			s.bus.Publish(bus.Event{
				Kind:      "presence.typing_cleared",
				Timestamp: time.Now(),
				Payload:   model.TypingEvent{ConversationID: convID, UserID: userID, IsTyping: false},
			})
		}
	})
	return s
}

// SetTyping records a typing event. is_typing=true arms (or refreshes) the
// expiry timer; is_typing=false clears immediately, which also fires the
// eviction callback.
func (s *Store) SetTyping(conversationID, userID int64, isTyping bool) {
	key := typingKey(conversationID, userID)
	if isTyping {
		s.typing.SetDefault(key, time.Now())
		return
	}
	s.typing.Delete(key)
}

// IsTyping reports whether the user is currently typing in the conversation.
func (s *Store) IsTyping(conversationID, userID int64) bool {
	_, ok := s.typing.Get(typingKey(conversationID, userID))
	return ok
}

// SetOnline toggles a user's online presence.
func (s *Store) SetOnline(userID int64, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if online {
		s.online[userID] = struct{}{}
	} else {
		delete(s.online, userID)
	}
}

// Online reports whether the user is currently online.
func (s *Store) Online(userID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.online[userID]
	return ok
}

// OnlineCount returns how many users are currently online.
func (s *Store) OnlineCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.online)
}

func typingKey(conversationID, userID int64) string {
	return fmt.Sprintf("%d:%d", conversationID, userID)
}

func parseTypingKey(key string) (conversationID, userID int64, err error) {
	parts := strings.SplitN(key, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed typing key %q", key)
	}
	conversationID, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	userID, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	return conversationID, userID, nil
}
