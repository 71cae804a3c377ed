// Package chatlist keeps the ordered chat list shown in the sidebar.
//
// Position is explicit: activity moves a chat to the front, nothing is ever
// sorted by timestamp.
package chatlist

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
	"go.uber.org/zap"
)

// Changed is the payload of bus.ChatListChanged.
type Changed struct {
	Reason string
	ChatID int64 // 0 for a full replace
}

// List is the canonical ordered chat list. Chat ids are unique.
type List struct {
	mu     sync.RWMutex
	chats  []model.Chat
	bus    *bus.Bus
	logger *zap.Logger
	now    func() time.Time
}

// New creates an empty list publishing to b.
func New(b *bus.Bus, logger *zap.Logger) *List {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &List{bus: b, logger: logger.Named("chatlist"), now: time.Now}
}

// ReplaceAll replaces the whole list, keeping the first occurrence of each id.
func (l *List) ReplaceAll(chats []model.Chat) {
	seen := make(map[int64]struct{}, len(chats))
	out := make([]model.Chat, 0, len(chats))
	for _, c := range chats {
		if _, dup := seen[c.ID]; dup {
			l.logger.Warn("duplicate chat in snapshot", zap.Int64("chat_id", c.ID))
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, normalize(c))
	}

	l.mu.Lock()
	l.chats = out
	l.mu.Unlock()
	l.bus.Emit(bus.ChatListChanged, Changed{Reason: "replace"})
}

// Upsert appends an unknown chat at the end, or replaces a known chat's fields in place.
func (l *List) Upsert(chat model.Chat) {
	chat = normalize(chat)
	l.mu.Lock()
	if i := l.index(chat.ID); i >= 0 {
		if chat.LastActivity.IsZero() {
			chat.LastActivity = l.chats[i].LastActivity
		}
		l.chats[i] = chat
	} else {
		l.chats = append(l.chats, chat)
	}
	l.mu.Unlock()
	l.bus.Emit(bus.ChatListChanged, Changed{Reason: "upsert", ChatID: chat.ID})
}

// Promote moves the chat to the front. It is a no-op for an unknown id.
func (l *List) Promote(chatID int64) {
	l.mu.Lock()
	i := l.index(chatID)
	if i < 0 {
		l.mu.Unlock()
		return
	}
	chat := l.chats[i]
	chat.LastActivity = l.now()
	copy(l.chats[1:i+1], l.chats[:i])
	l.chats[0] = chat
	l.mu.Unlock()
	l.bus.Emit(bus.ChatListChanged, Changed{Reason: "promote", ChatID: chatID})
}

// Filter returns the chats matching pred in list order. The list itself is untouched.
func (l *List) Filter(pred func(model.Chat) bool) []model.Chat {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []model.Chat
	for _, c := range l.chats {
		if pred(c) {
			out = append(out, c.Clone())
		}
	}
	return out
}

// Chats returns an ordered snapshot.
func (l *List) Chats() []model.Chat {
	return l.Filter(func(model.Chat) bool { return true })
}

// Get returns a copy of the chat with chatID.
func (l *List) Get(chatID int64) (model.Chat, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i := l.index(chatID); i >= 0 {
		return l.chats[i].Clone(), true
	}
	return model.Chat{}, false
}

// Len returns the number of chats.
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.chats)
}

// DisplayName returns the group name, the other participant's name for a
// 1:1 chat, or a generic label. resolve may be nil.
func (l *List) DisplayName(chatID, selfID int64, resolve func(userID int64) (string, bool)) string {
	chat, ok := l.Get(chatID)
	if !ok {
		return fmt.Sprintf("Chat #%d", chatID)
	}
	if chat.Name != nil && *chat.Name != "" {
		return *chat.Name
	}
	if !chat.IsGroup && resolve != nil {
		for _, id := range chat.Participants {
			if id == selfID {
				continue
			}
			if name, ok := resolve(id); ok {
				return name
			}
		}
	}
	return fmt.Sprintf("Chat #%d", chatID)
}

func (l *List) index(chatID int64) int {
	return slices.IndexFunc(l.chats, func(c model.Chat) bool { return c.ID == chatID })
}

// normalize collapses duplicate participants while keeping their order.
func normalize(c model.Chat) model.Chat {
	c = c.Clone()
	if len(c.Participants) < 2 {
		return c
	}
	seen := make(map[int64]struct{}, len(c.Participants))
	out := c.Participants[:0]
	for _, id := range c.Participants {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	c.Participants = out
	return c
}
