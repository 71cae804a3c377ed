// Package notify decides whether an inbound message is shown inline in the
// open conversation or surfaced as a notification.
package notify

import (
	"context"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/frame"
	"github.com/matheus3301/chatsync/internal/model"
	"go.uber.org/zap"
)

// Kind is the routing outcome of an inbound message.
type Kind int

const (
	Inline Kind = iota
	OutOfBand
)

func (k Kind) String() string {
	if k == Inline {
		return "inline"
	}
	return "out_of_band"
}

// Decision is the payload of bus.NotifyInline and bus.NotifyOutOfBand.
type Decision struct {
	Kind      Kind
	ChatID    int64
	MessageID int64
	SenderID  int64
	ChatName  string // set for OutOfBand
	Preview   string
	// ReceiptSent is true when a read receipt went out for the message.
	ReceiptSent bool
}

// Sender writes outbound frames. The connection manager implements it.
type Sender interface {
	Send(ctx context.Context, f frame.Outbound) error
}

// Router routes inbound messages. ChatName and Self are looked up per call.
type Router struct {
	sender   Sender
	chatName func(chatID int64) string
	self     func() int64
	bus      *bus.Bus
	logger   *zap.Logger
}

// New creates a router. chatName and self may be nil.
func New(sender Sender, chatName func(chatID int64) string, self func() int64, b *bus.Bus, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{sender: sender, chatName: chatName, self: self, bus: b, logger: logger.Named("notify")}
}

// Route classifies msg against the active chat (0 when none is open). An
// inline message from someone else is acknowledged with one read receipt.
func (r *Router) Route(ctx context.Context, msg model.Message, activeChatID int64) Decision {
	d := Decision{
		ChatID:    msg.ChatID,
		MessageID: msg.ID,
		SenderID:  msg.SenderID,
		Preview:   preview(msg.Content),
	}

	if activeChatID != 0 && msg.ChatID == activeChatID {
		d.Kind = Inline
		if msg.SenderID != r.selfID() && msg.ID != 0 {
			if err := r.sender.Send(ctx, frame.NewReadReceipt(msg.ID)); err != nil {
				r.logger.Debug("read receipt not sent", zap.Int64("message_id", msg.ID), zap.Error(err))
			} else {
				d.ReceiptSent = true
			}
		}
		r.bus.Emit(bus.NotifyInline, d)
		return d
	}

	d.Kind = OutOfBand
	if r.chatName != nil {
		d.ChatName = r.chatName(msg.ChatID)
	}
	r.bus.Emit(bus.NotifyOutOfBand, d)
	return d
}

func (r *Router) selfID() int64 {
	if r.self == nil {
		return 0
	}
	return r.self()
}

const previewLen = 80

func preview(s string) string {
	runes := []rune(s)
	if len(runes) <= previewLen {
		return s
	}
	return string(runes[:previewLen-1]) + "…"
}
