package engine

import (
	"context"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/frame"
	"go.uber.org/zap"
)

// handlers applies routed frames. Every method runs on the event loop.
type handlers struct {
	s *Session
}

func (h handlers) OnNewMessage(f frame.NewMessage) {
	s := h.s
	msg := f.Message.Model()
	self := s.selfID.Load()

	s.ensureChat(msg.ChatID)
	if !s.messages.ReceivePushed(msg) {
		return
	}
	s.chats.Promote(msg.ChatID)
	if msg.SenderID == self {
		return
	}
	s.presence.ClearTyping(msg.ChatID, msg.SenderID)

	ctx, cancel := context.WithTimeout(s.ctx, s.opts.SendTimeout)
	defer cancel()
	d := s.notifier.Route(ctx, msg, s.active.Load())
	if d.ReceiptSent {
		s.messages.MarkRead(msg.ID, self, s.opts.Now())
	}
}

func (h handlers) OnChatUpdated(f frame.ChatUpdated) {
	h.s.chats.Upsert(f.Chat.Model())
}

func (h handlers) OnUserTyping(f frame.UserTyping) {
	s := h.s
	if f.UserID == s.selfID.Load() {
		return
	}
	if f.IsTyping != nil && !*f.IsTyping {
		s.presence.ClearTyping(f.ChatID, f.UserID)
		return
	}
	s.presence.SetTyping(f.ChatID, f.UserID)
}

func (h handlers) OnMessageRead(f frame.MessageRead) {
	h.s.messages.MarkRead(f.MessageID, f.ReaderID, h.s.at(f.ReadAt))
}

func (h handlers) OnNotification(f frame.Notification) {
	h.s.bus.Emit(bus.NotifyNotification, f.Message)
}

func (h handlers) OnChatRead(f frame.ChatRead) {
	h.s.messages.MarkReadUpTo(f.ChatID, f.UserID, f.LastReadMessageID, h.s.opts.Now())
}

func (h handlers) OnMessageDelivered(f frame.MessageDelivered) {
	h.s.messages.MarkDelivered(f.MessageID, h.s.at(f.DeliveredAt))
}

func (h handlers) OnMessageDeleted(f frame.MessageDeleted) {
	h.s.messages.MarkDeleted(f.MessageID)
}

func (h handlers) OnServerError(f frame.ServerError) {
	h.s.logger.Warn("server reported an error", zap.String("message", f.Message))
	h.s.bus.Emit(bus.NotifyServerError, f.Message)
}

// at falls back to the local clock when the server omitted a timestamp.
func (s *Session) at(t frame.Time) time.Time {
	if t.IsZero() {
		return s.opts.Now()
	}
	return t.Time
}
