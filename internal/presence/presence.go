// Package presence tracks who is typing in which chat.
package presence

import (
	"slices"
	"sync"
	"time"

	"github.com/c-pro/geche"
	"github.com/matheus3301/chatsync/internal/bus"
)

// DefaultTTL is how long a typing signal stays visible without a refresh.
const DefaultTTL = 3 * time.Second

// Changed is the payload of bus.PresenceChanged.
type Changed struct {
	ChatID int64
	UserID int64
	Typing bool
}

type key struct {
	chatID int64
	userID int64
}

// Signal maps (chat, user) to a typing expiry. Entries past their expiry are
// treated as absent on every read.
type Signal struct {
	mu      sync.Mutex
	entries geche.Geche[key, time.Time]
	ttl     time.Duration
	now     func() time.Time
	bus     *bus.Bus
}

// New creates a Signal. A zero ttl selects DefaultTTL, a nil clock time.Now.
func New(ttl time.Duration, now func() time.Time, b *bus.Bus) *Signal {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Signal{
		entries: geche.NewMapCache[key, time.Time](),
		ttl:     ttl,
		now:     now,
		bus:     b,
	}
}

// SetTyping records or refreshes a typing signal.
func (s *Signal) SetTyping(chatID, userID int64) {
	s.mu.Lock()
	s.entries.Set(key{chatID, userID}, s.now().Add(s.ttl))
	s.mu.Unlock()
	s.bus.Emit(bus.PresenceChanged, Changed{ChatID: chatID, UserID: userID, Typing: true})
}

// ClearTyping removes a signal ahead of its expiry.
func (s *Signal) ClearTyping(chatID, userID int64) {
	s.mu.Lock()
	err := s.entries.Del(key{chatID, userID})
	s.mu.Unlock()
	if err == nil {
		s.bus.Emit(bus.PresenceChanged, Changed{ChatID: chatID, UserID: userID})
	}
}

// IsTyping reports whether userID has an unexpired typing signal in chatID.
func (s *Signal) IsTyping(chatID, userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, err := s.entries.Get(key{chatID, userID})
	return err == nil && s.now().Before(expiry)
}

// Typists returns the users currently typing in a chat, in ascending id order.
func (s *Signal) Typists(chatID int64) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var out []int64
	for k, expiry := range s.entries.Snapshot() {
		if k.chatID == chatID && now.Before(expiry) {
			out = append(out, k.userID)
		}
	}
	slices.Sort(out)
	return out
}

// Sweep deletes expired entries, publishes a cleared signal for each and
// returns how many were removed.
func (s *Signal) Sweep() int {
	s.mu.Lock()
	now := s.now()
	var expired []key
	for k, expiry := range s.entries.Snapshot() {
		if !now.Before(expiry) {
			expired = append(expired, k)
		}
	}
	for _, k := range expired {
		_ = s.entries.Del(k)
	}
	s.mu.Unlock()
	for _, k := range expired {
		s.bus.Emit(bus.PresenceChanged, Changed{ChatID: k.chatID, UserID: k.userID})
	}
	return len(expired)
}
