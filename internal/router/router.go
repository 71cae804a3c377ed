// Package router maps decoded inbound frames to exactly one handler.
package router

import (
	"github.com/matheus3301/chatsync/internal/frame"
	"go.uber.org/zap"
)

// Handlers receives routed frames. Each frame reaches exactly one method.
type Handlers interface {
	OnNewMessage(frame.NewMessage)
	OnChatUpdated(frame.ChatUpdated)
	OnUserTyping(frame.UserTyping)
	OnMessageRead(frame.MessageRead)
	OnNotification(frame.Notification)
	OnChatRead(frame.ChatRead)
	OnMessageDelivered(frame.MessageDelivered)
	OnMessageDeleted(frame.MessageDeleted)
	OnServerError(frame.ServerError)
}

// Router holds no state besides its handlers and may be rebuilt per connection.
type Router struct {
	h      Handlers
	logger *zap.Logger
}

// New returns a router that forwards frames to h.
func New(h Handlers, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{h: h, logger: logger.Named("router")}
}

// Dispatch routes f. Unknown and link-level frames are logged and dropped.
func (r *Router) Dispatch(f frame.Frame) {
	switch v := f.(type) {
	case frame.NewMessage:
		r.h.OnNewMessage(v)
	case frame.ChatUpdated:
		r.h.OnChatUpdated(v)
	case frame.UserTyping:
		r.h.OnUserTyping(v)
	case frame.MessageRead:
		r.h.OnMessageRead(v)
	case frame.Notification:
		r.h.OnNotification(v)
	case frame.ChatRead:
		r.h.OnChatRead(v)
	case frame.MessageDelivered:
		r.h.OnMessageDelivered(v)
	case frame.MessageDeleted:
		r.h.OnMessageDeleted(v)
	case frame.ServerError:
		r.h.OnServerError(v)
	case frame.Unknown:
		r.logger.Debug("ignoring unknown frame type", zap.String("type", v.Type))
	default:
		// Link-level frames are consumed by the connection manager.
		r.logger.Debug("ignoring link frame", zap.String("type", f.FrameType()))
	}
}
