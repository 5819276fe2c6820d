package thread

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/EmirPirija/lmx-chat/internal/bus"
	"github.com/EmirPirija/lmx-chat/internal/model"
)

const localUser = int64(1)

// fakeHistory serves canned pages keyed by conversation and page number.
type fakeHistory struct {
	mu    sync.Mutex
	pages map[int64]map[int]*model.MessagePage
	err   error
	block chan struct{}
	calls int
}

func (f *fakeHistory) ChatMessages(_ context.Context, convID int64, page int) (*model.MessagePage, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if f.err != nil {
		return nil, f.err
	}
	if byPage, ok := f.pages[convID]; ok {
		if p, ok := byPage[page]; ok {
			return p, nil
		}
	}
	return &model.MessagePage{CurrentPage: page, LastPage: page}, nil
}

func msg(id string, sender int64, text string, at int64) model.Message {
	return model.Message{ID: id, ConversationID: 10, SenderID: sender, Text: text, Type: "text", CreatedAt: at}
}

func newOpen(t *testing.T, f *fakeHistory) *Reconciler {
	t.Helper()
	r := New(localUser, f, bus.New(), nil)
	if err := r.Open(context.Background(), 10); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestOpenFetchesPageOne(t *testing.T) {
	f := &fakeHistory{pages: map[int64]map[int]*model.MessagePage{
		10: {1: {
			// Newest-first from the server.
			Data:        []model.Message{msg("2", 2, "second", 2000), msg("1", 2, "first", 1000)},
			CurrentPage: 1, LastPage: 1,
		}},
	}}
	r := newOpen(t, f)

	got := r.Messages()
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	// Reversed to chronological.
	if got[0].ID != "1" || got[1].ID != "2" {
		t.Errorf("order = [%s %s], want [1 2]", got[0].ID, got[1].ID)
	}
}

func TestFetchedStatusDerivation(t *testing.T) {
	f := &fakeHistory{pages: map[int64]map[int]*model.MessagePage{
		10: {1: {
			Data: []model.Message{
				{ID: "3", ConversationID: 10, SenderID: localUser, Text: "mine unread", CreatedAt: 3000},
				{ID: "2", ConversationID: 10, SenderID: localUser, Text: "mine read", CreatedAt: 2000, Read: true},
				{ID: "1", ConversationID: 10, SenderID: 2, Text: "theirs", CreatedAt: 1000},
			},
			CurrentPage: 1, LastPage: 1,
		}},
	}}
	r := newOpen(t, f)

	got := r.Messages()
	if got[0].Status != model.StatusSeen {
		t.Errorf("other-party message status = %s, want seen", got[0].Status)
	}
	if got[1].Status != model.StatusSeen {
		t.Errorf("own read message status = %s, want seen", got[1].Status)
	}
	if got[2].Status != model.StatusDelivered {
		t.Errorf("own unread message status = %s, want delivered", got[2].Status)
	}
}

func TestFetchPagePrependsOlder(t *testing.T) {
	f := &fakeHistory{pages: map[int64]map[int]*model.MessagePage{
		10: {
			1: {
				Data:        []model.Message{msg("4", 2, "d", 4000), msg("3", 2, "c", 3000)},
				CurrentPage: 1, LastPage: 2,
			},
			2: {
				Data:        []model.Message{msg("2", 2, "b", 2000), msg("1", 2, "a", 1000)},
				CurrentPage: 2, LastPage: 2,
			},
		},
	}}
	r := newOpen(t, f)
	if !r.HasMore() {
		t.Fatal("HasMore = false, want true after page 1 of 2")
	}

	if err := r.FetchPage(context.Background(), 2); err != nil {
		t.Fatal(err)
	}
	got := r.Messages()
	if len(got) != 4 {
		t.Fatalf("got %d messages, want 4", len(got))
	}
	for i, wantID := range []string{"1", "2", "3", "4"} {
		if got[i].ID != wantID {
			t.Errorf("position %d = %s, want %s", i, got[i].ID, wantID)
		}
	}
	// Sorted by created_at across the page boundary.
	for i := 1; i < len(got); i++ {
		if got[i-1].CreatedAt > got[i].CreatedAt {
			t.Errorf("not chronological at %d: %d > %d", i, got[i-1].CreatedAt, got[i].CreatedAt)
		}
	}
	if r.HasMore() {
		t.Error("HasMore = true, want false after last page")
	}
}

func TestFetchPageOneReplaces(t *testing.T) {
	f := &fakeHistory{pages: map[int64]map[int]*model.MessagePage{
		10: {1: {
			Data:        []model.Message{msg("1", 2, "a", 1000)},
			CurrentPage: 1, LastPage: 1,
		}},
	}}
	r := newOpen(t, f)

	// A live arrival, then a refetch of page 1.
	r.ApplyIncoming(msg("9", 2, "live", 9000))
	if err := r.FetchPage(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	got := r.Messages()
	if len(got) != 1 || got[0].ID != "1" {
		t.Errorf("page 1 should replace entirely, got %+v", got)
	}
}

func TestStaleFetchDropped(t *testing.T) {
	block := make(chan struct{})
	f := &fakeHistory{
		block: block,
		pages: map[int64]map[int]*model.MessagePage{
			10: {1: {Data: []model.Message{msg("1", 2, "old conv", 1000)}, CurrentPage: 1, LastPage: 1}},
		},
	}
	r := New(localUser, f, bus.New(), nil)

	done := make(chan error, 1)
	go func() { done <- r.Open(context.Background(), 10) }()
	for {
		f.mu.Lock()
		started := f.calls > 0
		f.mu.Unlock()
		if started {
			break
		}
	}

	// Switch conversations while the first fetch is still in flight.
	f.mu.Lock()
	f.block = nil
	f.pages[20] = map[int]*model.MessagePage{
		1: {Data: []model.Message{{ID: "n1", ConversationID: 20, SenderID: 2, Text: "new conv", CreatedAt: 100}}, CurrentPage: 1, LastPage: 1},
	}
	f.mu.Unlock()
	if err := r.Open(context.Background(), 20); err != nil {
		t.Fatal(err)
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	got := r.Messages()
	if len(got) != 1 || got[0].ID != "n1" {
		t.Errorf("stale page leaked into new conversation: %+v", got)
	}
	if r.OpenID() != 20 {
		t.Errorf("OpenID = %d, want 20", r.OpenID())
	}
}

func TestApplyIncomingIdempotent(t *testing.T) {
	f := &fakeHistory{}
	r := newOpen(t, f)

	m := msg("5", 2, "hello", 1000)
	if !r.ApplyIncoming(m) {
		t.Fatal("first apply should change the sequence")
	}
	if r.ApplyIncoming(m) {
		t.Error("second apply of the same event should be a no-op")
	}
	if got := r.Messages(); len(got) != 1 {
		t.Errorf("got %d messages, want 1", len(got))
	}
}

func TestApplyIncomingWrongConversationDropped(t *testing.T) {
	f := &fakeHistory{}
	r := newOpen(t, f)

	other := model.Message{ID: "7", ConversationID: 99, SenderID: 2, Text: "elsewhere", CreatedAt: 100}
	if r.ApplyIncoming(other) {
		t.Error("message for another conversation must be dropped")
	}
	if len(r.Messages()) != 0 {
		t.Error("sequence should be empty")
	}
}

func TestOptimisticReconciliation(t *testing.T) {
	f := &fakeHistory{}
	r := newOpen(t, f)

	local := model.Message{
		ID: model.LocalIDPrefix + "abc", ConversationID: 10,
		SenderID: localUser, Text: "Hello", Type: "text",
		CreatedAt: 1000, Status: model.StatusSending,
	}
	if !r.AppendLocal(local) {
		t.Fatal("AppendLocal failed")
	}

	// Server echo with the real id and the same text.
	echo := model.Message{
		ID: "501", ConversationID: 10, SenderID: localUser,
		Text: "Hello", Type: "text", CreatedAt: 1100, Status: model.StatusSent,
	}
	r.ApplyIncoming(echo)

	got := r.Messages()
	if len(got) != 1 {
		t.Fatalf("got %d messages, want exactly 1 (reconciled)", len(got))
	}
	if got[0].ID != "501" {
		t.Errorf("id = %q, want server id 501", got[0].ID)
	}
	if got[0].Status != model.StatusSent {
		t.Errorf("status = %s, want sent", got[0].Status)
	}

	// The echo arriving again is now an id-duplicate.
	r.ApplyIncoming(echo)
	if got := r.Messages(); len(got) != 1 {
		t.Errorf("got %d messages after replay, want 1", len(got))
	}
}

func TestConfirmLocalThenEchoDedupes(t *testing.T) {
	f := &fakeHistory{}
	r := newOpen(t, f)

	clientID := model.LocalIDPrefix + "xyz"
	r.AppendLocal(model.Message{ID: clientID, ConversationID: 10, SenderID: localUser, Text: "Hi", CreatedAt: 1000})

	// REST ack lands first, then the socket echoes the same message.
	r.ConfirmLocal(clientID, "600", model.StatusSent)
	r.ApplyIncoming(model.Message{ID: "600", ConversationID: 10, SenderID: localUser, Text: "Hi", CreatedAt: 1050})

	got := r.Messages()
	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1", len(got))
	}
	if got[0].ID != "600" {
		t.Errorf("id = %q, want 600", got[0].ID)
	}
}

func TestApplyStatusTargeted(t *testing.T) {
	f := &fakeHistory{}
	r := newOpen(t, f)
	r.ApplyIncoming(msg("1", localUser, "mine", 1000))
	r.ApplyIncoming(msg("2", 2, "theirs", 2000))

	r.ApplyStatus(model.MessageStatusEvent{ConversationID: 10, MessageID: "1", Status: model.StatusSeen})

	got := r.Messages()
	if got[0].Status != model.StatusSeen {
		t.Errorf("message 1 status = %s, want seen", got[0].Status)
	}
	if got[1].Status != model.StatusSent {
		t.Errorf("message 2 status = %s, want sent (untouched)", got[1].Status)
	}
}

func TestApplyStatusBulkOnlyOwnMessages(t *testing.T) {
	f := &fakeHistory{}
	r := newOpen(t, f)
	r.ApplyIncoming(msg("1", localUser, "mine a", 1000))
	r.ApplyIncoming(msg("2", 2, "theirs", 2000))
	r.ApplyIncoming(msg("3", localUser, "mine b", 3000))

	r.ApplyStatus(model.MessageStatusEvent{ConversationID: 10, Status: model.StatusSeen})

	for _, m := range r.Messages() {
		if m.SenderID == localUser && m.Status != model.StatusSeen {
			t.Errorf("own message %s status = %s, want seen", m.ID, m.Status)
		}
		if m.SenderID != localUser && m.Status == model.StatusSeen {
			t.Errorf("other-party message %s should not be bulk-updated", m.ID)
		}
	}
}

func TestSearchFilter(t *testing.T) {
	f := &fakeHistory{}
	r := newOpen(t, f)
	r.ApplyIncoming(msg("1", 2, "Hi", 1000))
	r.ApplyIncoming(msg("2", 2, "Yo there", 2000))

	got := r.Search("yo")
	if len(got) != 1 || got[0].Text != "Yo there" {
		t.Errorf("Search(yo) = %+v, want [Yo there]", got)
	}

	// Empty query returns the whole sequence, order preserved.
	all := r.Search("")
	if len(all) != 2 || all[0].ID != "1" || all[1].ID != "2" {
		t.Errorf("Search(\"\") = %+v, want full list in order", all)
	}

	// Filtering must not mutate the held sequence.
	if held := r.Messages(); len(held) != 2 {
		t.Errorf("held sequence mutated by search: %d entries", len(held))
	}
}

func TestOpenConversationScenario(t *testing.T) {
	// Conversation 10 holds one message; a live arrival follows.
	f := &fakeHistory{pages: map[int64]map[int]*model.MessagePage{
		10: {1: {
			Data:        []model.Message{msg("1", localUser, "Hi", 1000)},
			CurrentPage: 1, LastPage: 1,
		}},
	}}
	r := newOpen(t, f)

	if got := r.Messages(); len(got) != 1 || got[0].ID != "1" {
		t.Fatalf("after open: %+v, want [msg 1]", got)
	}

	applied := r.ApplyIncoming(msg("2", 2, "Yo", 2000))
	if !applied {
		t.Fatal("live message should be applied")
	}
	got := r.Messages()
	if len(got) != 2 || got[0].ID != "1" || got[1].ID != "2" {
		t.Errorf("sequence = %+v, want [1 2]", got)
	}
}

func TestFetchFailureKeepsState(t *testing.T) {
	f := &fakeHistory{pages: map[int64]map[int]*model.MessagePage{
		10: {1: {
			Data:        []model.Message{msg("1", 2, "a", 1000)},
			CurrentPage: 1, LastPage: 2,
		}},
	}}
	r := newOpen(t, f)

	f.err = errors.New("timeout")
	if err := r.FetchPage(context.Background(), 2); err == nil {
		t.Fatal("expected fetch error")
	}
	if got := r.Messages(); len(got) != 1 {
		t.Errorf("prior state lost: %d messages", len(got))
	}

	// Loading flag cleared; retry possible.
	f.err = nil
	f.pages[10][2] = &model.MessagePage{CurrentPage: 2, LastPage: 2}
	if err := r.FetchPage(context.Background(), 2); err != nil {
		t.Errorf("retry failed: %v", err)
	}
}
