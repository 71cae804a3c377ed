// Package model turns engine snapshots into what the terminal views draw.
// Nothing here touches tview, so it is tested without a screen.
package model

import (
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/matheus3301/chatsync/internal/model"
)

// ChatRow is one line of the chat list.
type ChatRow struct {
	ID       int64
	Name     string
	Unread   int
	Typing   bool
	Activity time.Time
}

// MessageLine is one entry of the message thread.
type MessageLine struct {
	Sender  string
	Time    time.Time
	Body    string
	Receipt string // only set for the user's own messages
	Failed  bool
	Pending bool
}

// Lookups resolves the names and live state a view needs.
type Lookups struct {
	ChatName func(chatID int64) string
	UserName func(userID int64) string
	Typing   func(chatID int64) []int64
}

// ViewModel keeps the state that only the terminal cares about: unread
// counters fed by out-of-band notifications, and the flash message.
type ViewModel struct {
	mu     sync.Mutex
	unread map[int64]int
	Flash  Flash
}

// NewViewModel creates an empty view model.
func NewViewModel() *ViewModel {
	return &ViewModel{unread: make(map[int64]int)}
}

// NoteUnread counts a message that arrived in a chat the user is not viewing.
func (vm *ViewModel) NoteUnread(chatID int64) {
	vm.mu.Lock()
	vm.unread[chatID]++
	vm.mu.Unlock()
}

// Opened clears the unread counter of a chat.
func (vm *ViewModel) Opened(chatID int64) {
	vm.mu.Lock()
	delete(vm.unread, chatID)
	vm.mu.Unlock()
}

// Unread returns the unread counter of a chat.
func (vm *ViewModel) Unread(chatID int64) int {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.unread[chatID]
}

// Rows builds the chat list in list order.
func (vm *ViewModel) Rows(chats []domain.Chat, l Lookups) []ChatRow {
	rows := make([]ChatRow, 0, len(chats))
	for _, c := range chats {
		rows = append(rows, ChatRow{
			ID:       c.ID,
			Name:     l.ChatName(c.ID),
			Unread:   vm.Unread(c.ID),
			Typing:   len(l.Typing(c.ID)) > 0,
			Activity: c.LastActivity,
		})
	}
	return rows
}

// Lines builds the message thread of a chat, oldest first.
func Lines(msgs []domain.Message, selfID int64, isGroup bool, l Lookups) []MessageLine {
	lines := make([]MessageLine, 0, len(msgs))
	for _, m := range msgs {
		line := MessageLine{
			Time:    m.CreatedAt,
			Body:    m.Content,
			Failed:  m.Delivery == domain.Failed,
			Pending: m.Delivery == domain.Pending,
		}
		if m.Deleted {
			line.Body = "message deleted"
		}
		if m.SenderID == selfID {
			line.Sender = "You"
			line.Receipt = ReceiptGlyph(m, isGroup)
		} else {
			line.Sender = l.UserName(m.SenderID)
		}
		lines = append(lines, line)
	}
	return lines
}

// ReceiptGlyph renders the delivery and read state of an outgoing message.
func ReceiptGlyph(m domain.Message, isGroup bool) string {
	switch m.Delivery {
	case domain.Pending:
		return "…"
	case domain.Failed:
		return "!"
	}
	r := m.Receipt(isGroup)
	switch {
	case isGroup && len(r.ReadBy) > 0:
		return fmt.Sprintf("✓✓ %d read", len(r.ReadBy))
	case r.Read:
		return "✓✓ read"
	case m.DeliveredAt != nil:
		return "✓✓"
	default:
		return "✓"
	}
}

// TypingLine describes who is typing, or returns "" when nobody is.
func TypingLine(userIDs []int64, name func(int64) string) string {
	switch len(userIDs) {
	case 0:
		return ""
	case 1:
		return name(userIDs[0]) + " is typing"
	case 2:
		return name(userIDs[0]) + " and " + name(userIDs[1]) + " are typing"
	default:
		return fmt.Sprintf("%d people are typing", len(userIDs))
	}
}

// Readers formats the result of a read-status lookup.
func Readers(reads []domain.ReadStatus, name func(int64) string) string {
	if len(reads) == 0 {
		return "not read yet"
	}
	names := make([]string, len(reads))
	for i, r := range reads {
		names[i] = name(r.ReaderID)
	}
	return "read by " + strings.Join(names, ", ")
}
