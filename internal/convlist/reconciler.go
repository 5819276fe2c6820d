package convlist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/EmirPirija/lmx-chat/internal/bus"
	"github.com/EmirPirija/lmx-chat/internal/model"
	"go.uber.org/zap"
)

// ErrFetchInFlight is returned when a page load for a role is requested
// while another one is still running. Callers should retry after the
// current load settles.
var ErrFetchInFlight = errors.New("page fetch already in flight for this role")

// ListFetcher fetches one page of a role's conversation list.
type ListFetcher interface {
	ChatList(ctx context.Context, role model.Role, page int) (*model.ConversationPage, error)
}

// Reconciler maintains the two role-scoped conversation lists (as-buyer and
// as-seller) and folds push events into their summary fields without
// re-fetching. Event application never reorders entries; ordering changes
// only through explicit page loads.
type Reconciler struct {
	mu          sync.Mutex
	localUserID int64
	fetcher     ListFetcher
	bus         *bus.Bus
	logger      *zap.Logger
	lists       map[model.Role]*pageState
}

type pageState struct {
	items       []model.Conversation
	currentPage int
	lastPage    int
	loading     bool
}

// New creates a reconciler for the given local user.
func New(localUserID int64, fetcher ListFetcher, b *bus.Bus, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		localUserID: localUserID,
		fetcher:     fetcher,
		bus:         b,
		logger:      logger,
		lists: map[model.Role]*pageState{
			model.RoleBuyer:  {},
			model.RoleSeller: {},
		},
	}
}

// LoadPage fetches one page of a role's list. Page 1 replaces the
// collection; later pages append. Only one fetch per role may be in
// flight; a concurrent call gets ErrFetchInFlight.
func (r *Reconciler) LoadPage(ctx context.Context, role model.Role, page int) error {
	r.mu.Lock()
	st, ok := r.lists[role]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("unknown role %q", role)
	}
	if st.loading {
		r.mu.Unlock()
		return ErrFetchInFlight
	}
	st.loading = true
	r.mu.Unlock()

	fetched, err := r.fetcher.ChatList(ctx, role, page)

	r.mu.Lock()
	defer r.mu.Unlock()
	st.loading = false
	if err != nil {
		// Prior state stays visible; the failure is only logged.
		r.logger.Warn("conversation list fetch failed",
			zap.String("role", string(role)), zap.Int("page", page), zap.Error(err))
		return err
	}

	if page <= 1 {
		st.items = append([]model.Conversation(nil), fetched.Data...)
	} else {
		st.items = append(st.items, fetched.Data...)
	}
	st.currentPage = fetched.CurrentPage
	st.lastPage = fetched.LastPage

	r.publish("chat.page_loaded", role)
	return nil
}

// Conversations returns a copy of the role's current list.
func (r *Reconciler) Conversations(role model.Role) []model.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.lists[role]
	if st == nil {
		return nil
	}
	return append([]model.Conversation(nil), st.items...)
}

// HasMore reports whether more pages exist for the role.
func (r *Reconciler) HasMore(role model.Role) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.lists[role]
	return st != nil && st.currentPage < st.lastPage
}

// Get returns a conversation by id from whichever list holds it.
func (r *Reconciler) Get(conversationID int64) (model.Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, role := range []model.Role{model.RoleBuyer, model.RoleSeller} {
		if _, c := r.find(role, conversationID); c != nil {
			return *c, true
		}
	}
	return model.Conversation{}, false
}

// ApplyTyping sets or clears the other-party typing flag. The target list
// is derived from the conversation's own buyer/seller ids, never from
// which list the user happens to be viewing.
func (r *Reconciler) ApplyTyping(conversationID, userID int64, isTyping bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, role := range []model.Role{model.RoleBuyer, model.RoleSeller} {
		_, c := r.find(role, conversationID)
		if c == nil {
			continue
		}
		other := c.OtherParty(r.localUserID)
		if other.ID != userID {
			continue
		}
		if other.IsTyping != isTyping {
			other.IsTyping = isTyping
			r.publish("chat.updated", role)
		}
	}
}

// ApplyOnline updates is_online on every conversation in BOTH lists whose
// other party is userID.
func (r *Reconciler) ApplyOnline(userID int64, online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, role := range []model.Role{model.RoleBuyer, model.RoleSeller} {
		st := r.lists[role]
		changed := false
		for i := range st.items {
			other := st.items[i].OtherParty(r.localUserID)
			if other.ID == userID && other.IsOnline != online {
				other.IsOnline = online
				changed = true
			}
		}
		if changed {
			r.publish("chat.updated", role)
		}
	}
}

// ApplyNewMessage refreshes the conversation's last-message summary and
// bumps the unread counter when the sender is not the local user. Entries
// keep their position; resorting is an explicit user action.
func (r *Reconciler) ApplyNewMessage(conversationID int64, msg model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, role := range []model.Role{model.RoleBuyer, model.RoleSeller} {
		_, c := r.find(role, conversationID)
		if c == nil {
			continue
		}
		c.LastMessage = msg.Text
		c.LastMessageType = msg.Type
		c.LastMessageTime = msg.CreatedAt
		c.LastMessageSenderID = msg.SenderID
		if msg.SenderID != r.localUserID {
			c.UnreadCount++
		}
		r.publish("chat.updated", role)
	}
}

// MarkSeen zeroes the unread counter locally. Server reconciliation is the
// seen tracker's job; a failed acknowledgement does not restore the count.
func (r *Reconciler) MarkSeen(conversationID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, role := range []model.Role{model.RoleBuyer, model.RoleSeller} {
		_, c := r.find(role, conversationID)
		if c == nil {
			continue
		}
		if c.UnreadCount != 0 {
			c.UnreadCount = 0
			r.publish("chat.updated", role)
		}
	}
}

// SetPinned applies the local side of an explicit pin/unpin command.
func (r *Reconciler) SetPinned(conversationID int64, pinned bool) {
	r.setFlag(conversationID, func(c *model.Conversation) { c.IsPinned = pinned })
}

// SetMuted applies the local side of an explicit mute/unmute command.
func (r *Reconciler) SetMuted(conversationID int64, muted bool) {
	r.setFlag(conversationID, func(c *model.Conversation) { c.IsMuted = muted })
}

// SetArchived applies the local side of an explicit archive/unarchive command.
func (r *Reconciler) SetArchived(conversationID int64, archived bool) {
	r.setFlag(conversationID, func(c *model.Conversation) { c.IsArchived = archived })
}

func (r *Reconciler) setFlag(conversationID int64, apply func(*model.Conversation)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, role := range []model.Role{model.RoleBuyer, model.RoleSeller} {
		_, c := r.find(role, conversationID)
		if c == nil {
			continue
		}
		apply(c)
		r.publish("chat.updated", role)
	}
}

// find returns the index and a pointer into the role's backing slice.
// Callers must hold r.mu.
func (r *Reconciler) find(role model.Role, conversationID int64) (int, *model.Conversation) {
	st := r.lists[role]
	for i := range st.items {
		if st.items[i].ID == conversationID {
			return i, &st.items[i]
		}
	}
	return -1, nil
}

func (r *Reconciler) publish(kind string, role model.Role) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: role})
}
