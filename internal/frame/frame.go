// Package frame decodes inbound realtime frames into typed variants and builds outbound frames.
package frame

import (
	"encoding/json"
	"fmt"

	"github.com/matheus3301/chatsync/internal/errs"
)

// Inbound frame types.
const (
	TypeConnectionEstablished = "connection_established"
	TypeSystem                = "system"
	TypePing                  = "ping"
	TypePong                  = "pong"
	TypeNewMessage            = "new_message"
	TypeChatUpdated           = "chat_updated"
	TypeUserTyping            = "user_typing"
	TypeMessageRead           = "message_read"
	TypeNotification          = "notification"
	TypeChatRead              = "chat_read"
	TypeMessageDelivered      = "message_delivered"
	TypeMessageDeleted        = "message_deleted"
	TypeError                 = "error"
)

// Outbound frame types.
const (
	TypeReadReceipt = "read_receipt"
	TypeTyping      = "typing"
	TypeSendMessage = "send_message"
)

// Frame is one decoded inbound frame. The concrete type is the variant.
type Frame interface {
	FrameType() string
}

type ConnectionEstablished struct{}

type Ping struct{}

type Pong struct{}

type NewMessage struct {
	Message MessagePayload `json:"message"`
}

type ChatUpdated struct {
	Chat ChatPayload `json:"chat"`
}

type UserTyping struct {
	ChatID   int64 `json:"chat_id"`
	UserID   int64 `json:"user_id"`
	IsTyping *bool `json:"is_typing,omitempty"`
}

type MessageRead struct {
	MessageID int64 `json:"message_id"`
	ReaderID  int64 `json:"reader_id"`
	ReadAt    Time  `json:"read_at"`
}

type Notification struct {
	Message string `json:"message"`
}

// ChatRead is a read watermark: UserID has read every message up to LastReadMessageID.
type ChatRead struct {
	ChatID            int64 `json:"chat_id"`
	UserID            int64 `json:"user_id"`
	LastReadMessageID int64 `json:"last_read_message_id"`
}

type MessageDelivered struct {
	MessageID   int64 `json:"message_id"`
	DeliveredAt Time  `json:"delivered_at"`
}

type MessageDeleted struct {
	MessageID int64 `json:"message_id"`
	ChatID    int64 `json:"chat_id"`
}

// ServerError is an error report pushed by the server. It does not close the link.
type ServerError struct {
	Message string `json:"message"`
}

// Unknown is any frame whose type this client does not recognize.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (ConnectionEstablished) FrameType() string { return TypeConnectionEstablished }
func (Ping) FrameType() string                  { return TypePing }
func (Pong) FrameType() string                  { return TypePong }
func (NewMessage) FrameType() string            { return TypeNewMessage }
func (ChatUpdated) FrameType() string           { return TypeChatUpdated }
func (UserTyping) FrameType() string            { return TypeUserTyping }
func (MessageRead) FrameType() string           { return TypeMessageRead }
func (Notification) FrameType() string          { return TypeNotification }
func (ChatRead) FrameType() string              { return TypeChatRead }
func (MessageDelivered) FrameType() string      { return TypeMessageDelivered }
func (MessageDeleted) FrameType() string        { return TypeMessageDeleted }
func (ServerError) FrameType() string           { return TypeError }
func (u Unknown) FrameType() string             { return u.Type }

type envelope struct {
	Type string `json:"type"`
}

// Decode parses one raw frame. Every error wraps errs.ErrMalformedFrame.
func Decode(data []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrMalformedFrame, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", errs.ErrMalformedFrame)
	}

	switch env.Type {
	case TypeConnectionEstablished, TypeSystem:
		return ConnectionEstablished{}, nil
	case TypePing:
		return Ping{}, nil
	case TypePong:
		return Pong{}, nil
	case TypeNewMessage:
		var f NewMessage
		if err := unmarshal(data, &f); err != nil {
			return nil, err
		}
		if f.Message.ID == 0 || f.Message.ChatID == 0 {
			return nil, fmt.Errorf("%w: new_message without id or chat_id", errs.ErrMalformedFrame)
		}
		return f, nil
	case TypeChatUpdated:
		var f ChatUpdated
		if err := unmarshal(data, &f); err != nil {
			return nil, err
		}
		if f.Chat.ID == 0 {
			return nil, fmt.Errorf("%w: chat_updated without chat id", errs.ErrMalformedFrame)
		}
		return f, nil
	case TypeUserTyping:
		var f UserTyping
		if err := unmarshal(data, &f); err != nil {
			return nil, err
		}
		return f, nil
	case TypeMessageRead:
		var f MessageRead
		if err := unmarshal(data, &f); err != nil {
			return nil, err
		}
		return f, nil
	case TypeNotification:
		var f Notification
		if err := unmarshal(data, &f); err != nil {
			return nil, err
		}
		return f, nil
	case TypeChatRead:
		var f ChatRead
		if err := unmarshal(data, &f); err != nil {
			return nil, err
		}
		return f, nil
	case TypeMessageDelivered:
		var f MessageDelivered
		if err := unmarshal(data, &f); err != nil {
			return nil, err
		}
		return f, nil
	case TypeMessageDeleted:
		var f MessageDeleted
		if err := unmarshal(data, &f); err != nil {
			return nil, err
		}
		return f, nil
	case TypeError:
		var f ServerError
		if err := unmarshal(data, &f); err != nil {
			return nil, err
		}
		return f, nil
	default:
		return Unknown{Type: env.Type, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}

func unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrMalformedFrame, err)
	}
	return nil
}
