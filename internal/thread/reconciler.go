package thread

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/EmirPirija/lmx-chat/internal/bus"
	"github.com/EmirPirija/lmx-chat/internal/model"
	"go.uber.org/zap"
)

// ErrFetchInFlight is returned when a history page is requested while
// another fetch for the open conversation is still running.
var ErrFetchInFlight = errors.New("history fetch already in flight")

// ErrNoOpenConversation is returned when a page is requested with no
// conversation open.
var ErrNoOpenConversation = errors.New("no conversation is open")

// HistoryFetcher fetches one page of a conversation's history, newest-first.
type HistoryFetcher interface {
	ChatMessages(ctx context.Context, conversationID int64, page int) (*model.MessagePage, error)
}

// Reconciler maintains the single ordered message sequence of the currently
// open conversation. It merges paginated history, live socket arrivals,
// optimistic local sends and push-derived events into one list with no
// duplicates. All merges are idempotent.
type Reconciler struct {
	mu          sync.Mutex
	localUserID int64
	fetcher     HistoryFetcher
	bus         *bus.Bus
	logger      *zap.Logger

	openID      int64 // 0 when no conversation is open
	openSeq     uint64
	msgs        []model.Message
	currentPage int
	lastPage    int
	loading     bool
}

// New creates a thread reconciler for the given local user.
func New(localUserID int64, fetcher HistoryFetcher, b *bus.Bus, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		localUserID: localUserID,
		fetcher:     fetcher,
		bus:         b,
		logger:      logger,
	}
}

// Open switches the reconciler to a new conversation: the held sequence is
// cleared and page 1 is fetched. Opening the already-open conversation
// refetches page 1.
func (r *Reconciler) Open(ctx context.Context, conversationID int64) error {
	r.mu.Lock()
	r.openID = conversationID
	r.openSeq++
	r.msgs = nil
	r.currentPage = 0
	r.lastPage = 0
	r.loading = false
	r.mu.Unlock()

	return r.FetchPage(ctx, 1)
}

// Close clears the open conversation.
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.openID = 0
	r.openSeq++
	r.msgs = nil
	r.currentPage = 0
	r.lastPage = 0
	r.loading = false
}

// OpenID returns the id of the open conversation, or 0.
func (r *Reconciler) OpenID() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.openID
}

// FetchPage loads one history page for the open conversation. Page 1
// replaces the sequence; later pages prepend older messages before
// everything currently held. A response that arrives after the open
// conversation changed is dropped.
func (r *Reconciler) FetchPage(ctx context.Context, page int) error {
	r.mu.Lock()
	if r.openID == 0 {
		r.mu.Unlock()
		return ErrNoOpenConversation
	}
	if r.loading {
		r.mu.Unlock()
		return ErrFetchInFlight
	}
	convID := r.openID
	seq := r.openSeq
	r.loading = true
	r.mu.Unlock()

	fetched, err := r.fetcher.ChatMessages(ctx, convID, page)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.openSeq == seq {
		r.loading = false
	}
	if err != nil {
		r.logger.Warn("history fetch failed",
			zap.Int64("conversation_id", convID), zap.Int("page", page), zap.Error(err))
		return err
	}
	if r.openSeq != seq || r.openID != convID {
		// Conversation changed while the fetch was in flight.
		r.logger.Debug("dropping stale history page",
			zap.Int64("conversation_id", convID), zap.Int("page", page))
		return nil
	}

	// Server pages are newest-first; reverse to chronological and derive
	// the display status each message carries.
	incoming := make([]model.Message, 0, len(fetched.Data))
	for i := len(fetched.Data) - 1; i >= 0; i-- {
		m := fetched.Data[i]
		m.Status = r.deriveFetchedStatus(&m)
		incoming = append(incoming, m)
	}

	if page <= 1 {
		r.msgs = incoming
	} else {
		r.msgs = append(incoming, r.msgs...)
	}
	r.currentPage = fetched.CurrentPage
	r.lastPage = fetched.LastPage

	r.publish("thread.page_loaded")
	return nil
}

// deriveFetchedStatus annotates a fetched message. Own messages show seen
// when the server marked them read, otherwise delivered. Messages from the
// other party are seen by definition of being fetched into an open thread.
func (r *Reconciler) deriveFetchedStatus(m *model.Message) model.Status {
	if m.SenderID == r.localUserID {
		if m.Read {
			return model.StatusSeen
		}
		return model.StatusDelivered
	}
	return model.StatusSeen
}

// ApplyIncoming merges a live or push-derived message into the open
// sequence. It appends unless the message belongs to another conversation,
// already exists by id, or reconciles against an optimistic local entry
// (matched by local-id prefix plus identical text), in which case the
// server identity is adopted in place. Returns true when the sequence
// changed.
func (r *Reconciler) ApplyIncoming(msg model.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.openID == 0 || msg.ConversationID != r.openID {
		return false
	}

	for i := range r.msgs {
		held := &r.msgs[i]
		if held.ID == msg.ID {
			// Exact duplicate; idempotent no-op.
			return false
		}
		if held.IsLocal() && held.SenderID == msg.SenderID && held.Text == msg.Text {
			// Server confirmation of an optimistic send: keep the entry's
			// position, adopt the server id and state.
			held.ID = msg.ID
			held.CreatedAt = msg.CreatedAt
			if msg.Status != "" {
				held.Status = msg.Status
			} else if held.Status.Advances(model.StatusSent) {
				held.Status = model.StatusSent
			}
			r.publish("thread.updated")
			return true
		}
	}

	if msg.Status == "" {
		msg.Status = model.StatusSent
	}
	r.msgs = append(r.msgs, msg)
	r.publish("thread.updated")
	return true
}

// AppendLocal adds an optimistic outgoing message to the open sequence.
// The caller supplies the client-generated id.
func (r *Reconciler) AppendLocal(msg model.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.openID == 0 || msg.ConversationID != r.openID {
		return false
	}
	if msg.Status == "" {
		msg.Status = model.StatusSending
	}
	r.msgs = append(r.msgs, msg)
	r.publish("thread.updated")
	return true
}

// ConfirmLocal swaps an optimistic entry's client id for the server id
// after a successful REST send. The later socket echo then dedupes by id.
func (r *Reconciler) ConfirmLocal(clientID, serverID string, status model.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.msgs {
		if r.msgs[i].ID == clientID {
			r.msgs[i].ID = serverID
			if status != "" {
				r.msgs[i].Status = status
			}
			r.publish("thread.updated")
			return
		}
	}
}

// SetLocalStatus updates the status of an optimistic entry, e.g. to failed.
func (r *Reconciler) SetLocalStatus(clientID string, status model.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.msgs {
		if r.msgs[i].ID == clientID {
			r.msgs[i].Status = status
			r.publish("thread.updated")
			return
		}
	}
}

// ApplyStatus handles a message_status event. A targeted update (with a
// message id) sets that message's status, server state winning over local.
// A bulk update (empty id) sets the status on every message the local user
// sent, the "all my messages became seen" case.
func (r *Reconciler) ApplyStatus(update model.MessageStatusEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.openID == 0 || update.ConversationID != r.openID {
		return
	}

	changed := false
	if update.MessageID != "" {
		for i := range r.msgs {
			if r.msgs[i].ID == update.MessageID {
				if r.msgs[i].Status != update.Status {
					r.msgs[i].Status = update.Status
					changed = true
				}
				break
			}
		}
	} else {
		for i := range r.msgs {
			if r.msgs[i].SenderID == r.localUserID && r.msgs[i].Status != update.Status {
				r.msgs[i].Status = update.Status
				changed = true
			}
		}
	}
	if changed {
		r.publish("thread.updated")
	}
}

// Messages returns a copy of the open sequence in chronological order.
func (r *Reconciler) Messages() []model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Message(nil), r.msgs...)
}

// Search filters the held sequence by case-insensitive substring match on
// the message text. The underlying sequence is never mutated; an empty
// query returns the full list.
func (r *Reconciler) Search(query string) []model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if query == "" {
		return append([]model.Message(nil), r.msgs...)
	}
	needle := strings.ToLower(query)
	var out []model.Message
	for _, m := range r.msgs {
		if strings.Contains(strings.ToLower(m.Text), needle) {
			out = append(out, m)
		}
	}
	return out
}

// HasMore reports whether older history pages remain.
func (r *Reconciler) HasMore() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentPage < r.lastPage
}

func (r *Reconciler) publish(kind string) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: r.openID})
}
