package seen

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/EmirPirija/lmx-chat/internal/bus"
	"github.com/EmirPirija/lmx-chat/internal/convlist"
	"github.com/EmirPirija/lmx-chat/internal/model"
)

const localUser = int64(1)

type fakeSeenAPI struct {
	calls []int64
	err   error
}

func (f *fakeSeenAPI) MarkSeen(_ context.Context, conversationID int64) error {
	f.calls = append(f.calls, conversationID)
	return f.err
}

type fixedList struct {
	page model.ConversationPage
}

func (f *fixedList) ChatList(_ context.Context, _ model.Role, _ int) (*model.ConversationPage, error) {
	return &f.page, nil
}

func listWithUnread(t *testing.T, unread int) *convlist.Reconciler {
	t.Helper()
	fetcher := &fixedList{page: model.ConversationPage{
		Data: []model.Conversation{{
			ID:          10,
			Buyer:       model.User{ID: localUser},
			Seller:      model.User{ID: 2},
			UnreadCount: unread,
		}},
		CurrentPage: 1, LastPage: 1,
	}}
	r := convlist.New(localUser, fetcher, bus.New(), nil)
	if err := r.LoadPage(context.Background(), model.RoleBuyer, 1); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestAcknowledgedCycle(t *testing.T) {
	list := listWithUnread(t, 3)
	api := &fakeSeenAPI{}
	b := bus.New()
	ch, unsub := b.Subscribe("seen.", 10)
	defer unsub()

	tr := New(api, list, b, nil)
	if got := tr.State(10); got != Idle {
		t.Errorf("initial state = %s, want idle", got)
	}

	tr.ConversationOpened(context.Background(), 10)

	if got := tr.State(10); got != Acknowledged {
		t.Errorf("state = %s, want acknowledged", got)
	}
	if len(api.calls) != 1 || api.calls[0] != 10 {
		t.Errorf("api calls = %v, want [10]", api.calls)
	}
	if got := list.Conversations(model.RoleBuyer)[0].UnreadCount; got != 0 {
		t.Errorf("unread = %d, want 0", got)
	}

	select {
	case evt := <-ch:
		if evt.Kind != "seen.acknowledged" {
			t.Errorf("event kind = %q, want seen.acknowledged", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for seen event")
	}
}

func TestFailedCycleKeepsOptimisticReset(t *testing.T) {
	list := listWithUnread(t, 3)
	api := &fakeSeenAPI{err: errors.New("backend down")}
	b := bus.New()
	ch, unsub := b.Subscribe("seen.failed", 10)
	defer unsub()

	tr := New(api, list, b, nil)
	tr.ConversationOpened(context.Background(), 10)

	if got := tr.State(10); got != Failed {
		t.Errorf("state = %s, want failed", got)
	}
	// No rollback: the optimistic zero stands.
	if got := list.Conversations(model.RoleBuyer)[0].UnreadCount; got != 0 {
		t.Errorf("unread = %d, want 0 (no rollback)", got)
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for seen.failed event")
	}
}

func TestReopenAfterFailureRetries(t *testing.T) {
	list := listWithUnread(t, 1)
	api := &fakeSeenAPI{err: errors.New("flaky")}
	tr := New(api, list, bus.New(), nil)

	tr.ConversationOpened(context.Background(), 10)
	api.err = nil
	tr.ConversationOpened(context.Background(), 10)

	if got := tr.State(10); got != Acknowledged {
		t.Errorf("state = %s, want acknowledged after retry", got)
	}
	if len(api.calls) != 2 {
		t.Errorf("api calls = %d, want 2", len(api.calls))
	}
}
