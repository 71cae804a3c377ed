package model

import (
	"sync"
	"time"
)

// TypingThrottle decides when composer edits become typing frames. A "typing"
// frame is repeated at most once per interval; "stopped" is sent once when
// the composer empties or the user switches chats.
type TypingThrottle struct {
	mu       sync.Mutex
	interval time.Duration
	chatID   int64
	typing   bool
	lastSent time.Time
}

// NewTypingThrottle repeats a typing signal at most once per interval.
func NewTypingThrottle(interval time.Duration) *TypingThrottle {
	return &TypingThrottle{interval: interval}
}

// Signal is one typing frame to send.
type Signal struct {
	ChatID int64
	Typing bool
}

// Edited reports a composer change in chatID and returns the frames to send.
func (t *TypingThrottle) Edited(chatID int64, hasText bool, now time.Time) []Signal {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Signal
	if t.typing && t.chatID != chatID {
		out = append(out, Signal{ChatID: t.chatID, Typing: false})
		t.typing = false
	}
	t.chatID = chatID

	switch {
	case hasText && (!t.typing || now.Sub(t.lastSent) >= t.interval):
		out = append(out, Signal{ChatID: chatID, Typing: true})
		t.typing = true
		t.lastSent = now
	case !hasText && t.typing:
		out = append(out, Signal{ChatID: chatID, Typing: false})
		t.typing = false
	}
	return out
}

// Reset forgets the current state after a message was sent. Receivers drop
// the indicator when the message arrives.
func (t *TypingThrottle) Reset() {
	t.mu.Lock()
	t.typing = false
	t.mu.Unlock()
}
