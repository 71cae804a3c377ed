package notify

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/errs"
	"github.com/matheus3301/chatsync/internal/frame"
	"github.com/matheus3301/chatsync/internal/model"
)

type recordingSender struct {
	sent []frame.Outbound
	err  error
}

func (s *recordingSender) Send(_ context.Context, f frame.Outbound) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, f)
	return nil
}

func names(chatID int64) string {
	if chatID == 2 {
		return "alice"
	}
	return "?"
}

func self() int64 { return 7 }

func TestActiveChatIsInlineWithOneReceipt(t *testing.T) {
	sender := &recordingSender{}
	r := New(sender, names, self, nil, nil)

	d := r.Route(context.Background(), model.Message{ID: 11, ChatID: 1, SenderID: 8, Content: "hey"}, 1)
	if d.Kind != Inline {
		t.Fatalf("got %v, want inline", d.Kind)
	}
	if !d.ReceiptSent {
		t.Error("ReceiptSent = false, want true")
	}
	if len(sender.sent) != 1 {
		t.Fatalf("got %d frames sent, want 1", len(sender.sent))
	}
	if got := sender.sent[0]; got.Type != frame.TypeReadReceipt || got.MessageID != 11 {
		t.Errorf("got %+v, want read_receipt for 11", got)
	}
}

func TestOtherChatIsOutOfBandWithoutReceipt(t *testing.T) {
	sender := &recordingSender{}
	r := New(sender, names, self, nil, nil)

	d := r.Route(context.Background(), model.Message{ID: 11, ChatID: 2, SenderID: 8, Content: "hey"}, 1)
	if d.Kind != OutOfBand {
		t.Fatalf("got %v, want out_of_band", d.Kind)
	}
	if d.ChatName != "alice" {
		t.Errorf("got chat name %q, want alice", d.ChatName)
	}
	if len(sender.sent) != 0 {
		t.Errorf("got %d frames sent, want none", len(sender.sent))
	}
}

func TestNoActiveChatIsOutOfBand(t *testing.T) {
	r := New(&recordingSender{}, names, self, nil, nil)
	if d := r.Route(context.Background(), model.Message{ID: 1, ChatID: 2}, 0); d.Kind != OutOfBand {
		t.Errorf("got %v, want out_of_band", d.Kind)
	}
}

func TestOwnMessageInActiveChatSendsNoReceipt(t *testing.T) {
	sender := &recordingSender{}
	r := New(sender, names, self, nil, nil)

	d := r.Route(context.Background(), model.Message{ID: 11, ChatID: 1, SenderID: 7}, 1)
	if d.Kind != Inline || d.ReceiptSent || len(sender.sent) != 0 {
		t.Errorf("got %+v with %d frames, want inline without receipt", d, len(sender.sent))
	}
}

func TestReceiptFailureStillInline(t *testing.T) {
	r := New(&recordingSender{err: errs.ErrNotConnected}, names, self, nil, nil)
	d := r.Route(context.Background(), model.Message{ID: 11, ChatID: 1, SenderID: 8}, 1)
	if d.Kind != Inline || d.ReceiptSent {
		t.Errorf("got %+v, want inline with no receipt", d)
	}
}

func TestRoutePublishes(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("notify.", 4)
	defer unsub()

	r := New(&recordingSender{}, names, self, b, nil)
	r.Route(context.Background(), model.Message{ID: 11, ChatID: 2, SenderID: 8, Content: strings.Repeat("x", 200)}, 1)

	select {
	case evt := <-ch:
		if evt.Kind != bus.NotifyOutOfBand {
			t.Fatalf("got %s, want %s", evt.Kind, bus.NotifyOutOfBand)
		}
		d := evt.Payload.(Decision)
		if n := len([]rune(d.Preview)); n != previewLen {
			t.Errorf("got preview of %d runes, want %d", n, previewLen)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for notify event")
	}
}
