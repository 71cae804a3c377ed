package conversation

import (
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func confirmed(id, chatID, sender int64, content string, at time.Time) model.Message {
	return model.Message{ID: id, ChatID: chatID, SenderID: sender, Content: content, CreatedAt: at, Delivery: model.Confirmed}
}

func messageIDs(msgs []model.Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestLoadHistoryOrdersOldestFirst(t *testing.T) {
	s := New(nil, nil, nil)
	// Newest first, as the history endpoint returns it.
	s.LoadHistory(1, []model.Message{
		confirmed(3, 1, 2, "c", t0.Add(2*time.Minute)),
		confirmed(2, 1, 2, "b", t0.Add(time.Minute)),
		confirmed(1, 1, 2, "a", t0),
	})

	got := messageIDs(s.Messages(1))
	want := []int64{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestLoadHistoryBreaksTimestampTiesByID(t *testing.T) {
	s := New(nil, nil, nil)
	s.LoadHistory(1, []model.Message{
		confirmed(9, 1, 2, "b", t0),
		confirmed(4, 1, 2, "a", t0),
	})
	if got := messageIDs(s.Messages(1)); got[0] != 4 || got[1] != 9 {
		t.Errorf("got %v, want [4 9]", got)
	}
}

func TestConfirmReplacesPendingInPlace(t *testing.T) {
	s := New(nil, nil, nil)
	s.LoadHistory(1, []model.Message{confirmed(1, 1, 2, "hi", t0)})

	h := s.AppendOptimistic(Draft{ChatID: 1, SenderID: 7, Content: "hello"})
	msgs := s.Messages(1)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[1].Delivery != model.Pending || msgs[1].LocalID != string(h) {
		t.Fatalf("got %+v, want pending entry with handle", msgs[1])
	}

	s.Confirm(h, confirmed(5, 1, 7, "hello", t0.Add(time.Second)))
	msgs = s.Messages(1)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages after confirm, want 2", len(msgs))
	}
	if msgs[1].ID != 5 || msgs[1].Delivery != model.Confirmed {
		t.Errorf("got %+v, want confirmed id 5", msgs[1])
	}
	if s.HasPending(1) {
		t.Error("handle still outstanding after confirm")
	}
}

func TestConfirmUnknownHandleAppends(t *testing.T) {
	s := New(nil, nil, nil)
	s.LoadHistory(1, nil)

	s.Confirm(Handle("never-issued"), confirmed(5, 1, 7, "hello", t0))
	if got := s.Messages(1); len(got) != 1 || got[0].ID != 5 {
		t.Fatalf("got %v, want the confirmation appended", messageIDs(got))
	}

	// A second confirmation of the same server id is not duplicated.
	s.Confirm(Handle("other"), confirmed(5, 1, 7, "hello", t0))
	if got := s.Messages(1); len(got) != 1 {
		t.Errorf("got %d messages, want 1", len(got))
	}
}

func TestConfirmKeepsLaterPendingAtTail(t *testing.T) {
	s := New(nil, nil, nil)
	first := s.AppendOptimistic(Draft{ChatID: 1, SenderID: 7, Content: "one"})
	s.AppendOptimistic(Draft{ChatID: 1, SenderID: 7, Content: "two"})

	s.Confirm(first, confirmed(10, 1, 7, "one", t0))
	msgs := s.Messages(1)
	if msgs[0].ID != 10 || msgs[1].Content != "two" || msgs[1].Delivery != model.Pending {
		t.Errorf("got %+v, want confirmed entry before pending one", msgs)
	}

	s.ReceivePushed(confirmed(11, 1, 3, "from someone", t0.Add(time.Second)))
	msgs = s.Messages(1)
	if msgs[1].ID != 11 || msgs[2].Delivery != model.Pending {
		t.Errorf("got %+v, want pushed message before the pending tail", msgs)
	}
}

func TestFailMarksEntry(t *testing.T) {
	s := New(nil, nil, nil)
	h := s.AppendOptimistic(Draft{ChatID: 1, SenderID: 7, Content: "x"})

	if !s.Fail(h, errors.New("boom")) {
		t.Fatal("Fail returned false for an outstanding handle")
	}
	m := s.Messages(1)[0]
	if m.Delivery != model.Failed || m.Error != "boom" {
		t.Errorf("got %+v, want failed entry", m)
	}
	if s.Fail(h, nil) {
		t.Error("second Fail should report an unknown handle")
	}
}

func TestReceivePushedIsIdempotent(t *testing.T) {
	s := New(nil, nil, nil)
	msg := confirmed(1, 1, 2, "hi", t0)

	if !s.ReceivePushed(msg) {
		t.Fatal("first receive should add the message")
	}
	if s.ReceivePushed(msg) {
		t.Error("second receive should be a no-op")
	}
	if got := len(s.Messages(1)); got != 1 {
		t.Errorf("got %d messages, want 1", got)
	}
}

func TestPushedEchoReconcilesOptimisticEntry(t *testing.T) {
	s := New(nil, nil, nil)
	h := s.AppendOptimistic(Draft{ChatID: 1, SenderID: 7, Content: "hello"})

	// The echo is pushed before the request/response confirmation lands.
	s.ReceivePushed(confirmed(5, 1, 7, "hello", t0))
	s.Confirm(h, confirmed(5, 1, 7, "hello", t0))

	msgs := s.Messages(1)
	if len(msgs) != 1 || msgs[0].ID != 5 || msgs[0].Delivery != model.Confirmed {
		t.Errorf("got %+v, want a single confirmed message", msgs)
	}
}

func TestPushedEchoMatchesClientID(t *testing.T) {
	s := New(nil, nil, nil)
	s.AppendOptimistic(Draft{ChatID: 1, SenderID: 7, Content: "same"})
	h := s.AppendOptimistic(Draft{ChatID: 1, SenderID: 7, Content: "same"})

	echo := confirmed(5, 1, 7, "same", t0)
	echo.LocalID = string(h)
	s.ReceivePushed(echo)

	msgs := s.Messages(1)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].ID != 5 || msgs[0].LocalID != string(h) {
		t.Errorf("got %+v, want the second draft confirmed", msgs[0])
	}
	if msgs[1].Delivery != model.Pending {
		t.Errorf("got %+v, want the first draft still pending", msgs[1])
	}
}

func TestLoadHistoryKeepsUnsentEntries(t *testing.T) {
	s := New(nil, nil, nil)
	s.LoadHistory(1, []model.Message{confirmed(1, 1, 2, "old", t0)})
	lost := s.AppendOptimistic(Draft{ChatID: 1, SenderID: 7, Content: "lost"})
	s.Fail(lost, errors.New("offline"))
	h := s.AppendOptimistic(Draft{ChatID: 1, SenderID: 7, Content: "waiting"})

	s.LoadHistory(1, []model.Message{
		confirmed(3, 1, 2, "c", t0.Add(2*time.Minute)),
		confirmed(2, 1, 2, "b", t0.Add(time.Minute)),
	})

	msgs := s.Messages(1)
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4", len(msgs))
	}
	if msgs[0].ID != 2 || msgs[1].ID != 3 {
		t.Errorf("got %v, want the new page first", messageIDs(msgs))
	}
	if msgs[2].Content != "lost" || msgs[2].Delivery != model.Failed {
		t.Errorf("got %+v, want the failed entry kept", msgs[2])
	}
	if msgs[3].LocalID != string(h) || msgs[3].Delivery != model.Pending {
		t.Errorf("got %+v, want the pending entry kept", msgs[3])
	}

	s.Confirm(h, confirmed(4, 1, 7, "waiting", t0.Add(3*time.Minute)))
	msgs = s.Messages(1)
	if len(msgs) != 4 || msgs[2].ID != 4 || msgs[3].Delivery != model.Failed || s.HasPending(1) {
		t.Errorf("got %+v, want the confirmation ahead of the failed entry", msgs)
	}
	// The confirmed id dropped with the old page can arrive again.
	if !s.ReceivePushed(confirmed(1, 1, 2, "old", t0)) {
		t.Error("replaced history id still indexed")
	}
}

func TestEchoAlreadyInReloadedPage(t *testing.T) {
	s := New(nil, nil, nil)
	h := s.AppendOptimistic(Draft{ChatID: 1, SenderID: 7, Content: "hi"})
	s.LoadHistory(1, []model.Message{confirmed(5, 1, 7, "hi", t0)})

	echo := confirmed(5, 1, 7, "hi", t0)
	echo.LocalID = string(h)
	if s.ReceivePushed(echo) {
		t.Error("echo of a loaded message should not be added")
	}
	if got := s.Messages(1); len(got) != 1 || got[0].ID != 5 || s.HasPending(1) {
		t.Errorf("got %+v, want only the loaded copy", got)
	}
}

func TestHasUnsent(t *testing.T) {
	s := New(nil, nil, nil)
	s.LoadHistory(1, []model.Message{confirmed(1, 1, 2, "a", t0)})
	if s.HasUnsent(1) {
		t.Fatal("confirmed history reported as unsent")
	}
	h := s.AppendOptimistic(Draft{ChatID: 1, SenderID: 7, Content: "x"})
	s.Fail(h, nil)
	if !s.HasUnsent(1) {
		t.Error("failed entry not reported as unsent")
	}
	if s.HasPending(1) {
		t.Error("failed entry still pending")
	}
}

func TestOptimisticEntryUsesClock(t *testing.T) {
	s := New(nil, nil, func() time.Time { return t0 })
	s.AppendOptimistic(Draft{ChatID: 1, SenderID: 7, Content: "x"})
	if got := s.Messages(1)[0].CreatedAt; !got.Equal(t0) {
		t.Errorf("got %v, want %v", got, t0)
	}
}

func TestReadState(t *testing.T) {
	s := New(nil, nil, nil)
	s.LoadHistory(1, []model.Message{confirmed(1, 1, 7, "a", t0)})

	r, ok := s.ReadState(1, false)
	if !ok || !r.Delivered || r.Read {
		t.Fatalf("got %+v, want delivered and unread", r)
	}

	// The sender reading their own message does not count.
	s.MarkRead(1, 7, t0)
	if r, _ := s.ReadState(1, false); r.Read {
		t.Error("sender's own read marked the message read")
	}

	s.MarkRead(1, 8, t0.Add(time.Second))
	if r, _ := s.ReadState(1, false); !r.Read {
		t.Error("two-party message not read after the other participant read it")
	}

	s.MarkRead(1, 9, t0.Add(time.Second))
	r, _ = s.ReadState(1, true)
	if len(r.ReadBy) != 2 || r.ReadBy[0] != 8 || r.ReadBy[1] != 9 {
		t.Errorf("got read-by %v, want [8 9]", r.ReadBy)
	}

	if s.MarkRead(99, 8, t0) {
		t.Error("MarkRead on an unknown message reported success")
	}
}

func TestMarkReadUpTo(t *testing.T) {
	s := New(nil, nil, nil)
	s.LoadHistory(1, []model.Message{
		confirmed(1, 1, 7, "a", t0),
		confirmed(2, 1, 8, "b", t0.Add(time.Second)),
		confirmed(3, 1, 7, "c", t0.Add(2*time.Second)),
	})

	if n := s.MarkReadUpTo(1, 8, 2, t0); n != 1 {
		t.Errorf("got %d newly read, want 1", n)
	}
	if r, _ := s.ReadState(1, false); !r.Read {
		t.Error("message 1 should be read")
	}
	if r, _ := s.ReadState(3, false); r.Read {
		t.Error("message 3 is past the watermark")
	}
}

func TestMarkDeliveredAndDeleted(t *testing.T) {
	s := New(nil, nil, nil)
	s.LoadHistory(1, []model.Message{confirmed(1, 1, 7, "a", t0)})

	if !s.MarkDelivered(1, t0) {
		t.Fatal("MarkDelivered returned false")
	}
	if !s.MarkDeleted(1) {
		t.Fatal("MarkDeleted returned false")
	}
	if s.MarkDeleted(1) {
		t.Error("second MarkDeleted should be a no-op")
	}
	m := s.Messages(1)[0]
	if m.DeliveredAt == nil || !m.DeliveredAt.Equal(t0) || !m.Deleted {
		t.Errorf("got %+v, want delivered and deleted", m)
	}
}

func TestEvictForgetsChat(t *testing.T) {
	s := New(nil, nil, nil)
	s.LoadHistory(1, []model.Message{confirmed(1, 1, 7, "a", t0)})
	s.Evict(1)

	if got := len(s.Messages(1)); got != 0 {
		t.Errorf("got %d messages, want 0", got)
	}
	// The evicted id can be received again.
	if !s.ReceivePushed(confirmed(1, 1, 7, "a", t0)) {
		t.Error("evicted message id still indexed")
	}
}

func TestMutationsPublishChanged(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe(bus.ConversationChanged, 10)
	defer unsub()

	s := New(b, nil, nil)
	s.AppendOptimistic(Draft{ChatID: 4, SenderID: 7, Content: "x"})

	select {
	case evt := <-ch:
		c := evt.Payload.(Changed)
		if c.ChatID != 4 || c.Reason != "optimistic" {
			t.Errorf("got %+v, want chat 4 optimistic", c)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for conversation.changed")
	}
}
