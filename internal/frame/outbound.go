package frame

// Outbound is a client-to-server frame.
type Outbound struct {
	Type      string `json:"type"`
	MessageID int64  `json:"message_id,omitempty"`
	ChatID    int64  `json:"chat_id,omitempty"`
	IsTyping  *bool  `json:"is_typing,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

// NewPong answers a server ping.
func NewPong() Outbound {
	return Outbound{Type: TypePong}
}

// NewReadReceipt acknowledges messageID and everything before it in the chat.
func NewReadReceipt(messageID int64) Outbound {
	return Outbound{Type: TypeReadReceipt, MessageID: messageID}
}

// NewTyping reports whether the user is typing in chatID.
func NewTyping(chatID int64, isTyping bool) Outbound {
	return Outbound{Type: TypeTyping, ChatID: chatID, IsTyping: &isTyping}
}

// NewSendMessage builds the socket-path send frame. clientID correlates the server echo.
func NewSendMessage(clientID string, chatID int64, content string) Outbound {
	return Outbound{Type: TypeSendMessage, ClientID: clientID, ChatID: chatID, Content: content}
}
