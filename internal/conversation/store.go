// Package conversation holds the per-chat message logs, including optimistic
// entries that are waiting for the server to confirm them.
package conversation

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
	"go.uber.org/zap"
)

// Handle correlates an optimistic entry with its later confirmation.
type Handle string

// Draft is a message the user is about to send.
type Draft struct {
	ChatID   int64
	SenderID int64
	Content  string
}

// Changed is the payload of bus.ConversationChanged.
type Changed struct {
	ChatID int64
	Reason string
}

// Store keeps one log per chat. Confirmed entries come first in server order,
// then pending and failed entries in the order they were sent.
type Store struct {
	mu      sync.RWMutex
	logs    map[int64][]model.Message
	byID    map[int64]int64  // server message id -> chat id
	pending map[Handle]int64 // outstanding handle -> chat id

	bus    *bus.Bus
	logger *zap.Logger
	now    func() time.Time
}

// New creates an empty store. A nil clock selects time.Now; it stamps
// optimistic entries.
func New(b *bus.Bus, logger *zap.Logger, now func() time.Time) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Store{
		logs:    make(map[int64][]model.Message),
		byID:    make(map[int64]int64),
		pending: make(map[Handle]int64),
		bus:     b,
		logger:  logger.Named("conversation"),
		now:     now,
	}
}

// LoadHistory replaces a chat's confirmed log with msgs, oldest first whatever
// order they arrive in. Pending and failed entries stay after the history in
// the order they were sent, and pending handles remain valid.
func (s *Store) LoadHistory(chatID int64, msgs []model.Message) {
	log := make([]model.Message, 0, len(msgs))
	seen := make(map[int64]struct{}, len(msgs))
	for _, m := range msgs {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		m = m.Clone()
		m.ChatID = chatID
		m.Delivery = model.Confirmed
		log = append(log, m)
	}
	slices.SortStableFunc(log, func(a, b model.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	s.mu.Lock()
	for _, m := range s.logs[chatID] {
		if m.Delivery != model.Confirmed {
			log = append(log, m)
			continue
		}
		delete(s.byID, m.ID)
	}
	s.logs[chatID] = log
	for _, m := range log {
		if m.Delivery == model.Confirmed {
			s.byID[m.ID] = chatID
		}
	}
	s.mu.Unlock()
	s.emit(chatID, "history")
}

// AppendOptimistic adds a pending entry at the tail of the chat's log.
func (s *Store) AppendOptimistic(d Draft) Handle {
	h := Handle(uuid.NewString())
	m := model.Message{
		LocalID:   string(h),
		ChatID:    d.ChatID,
		SenderID:  d.SenderID,
		Content:   d.Content,
		CreatedAt: s.now(),
		Delivery:  model.Pending,
	}
	s.mu.Lock()
	s.logs[d.ChatID] = append(s.logs[d.ChatID], m)
	s.pending[h] = d.ChatID
	s.mu.Unlock()
	s.emit(d.ChatID, "optimistic")
	return h
}

// Confirm reconciles the entry for h with the server's copy. An unknown
// handle appends msg unless its server id is already in the log.
func (s *Store) Confirm(h Handle, msg model.Message) {
	msg = msg.Clone()
	msg.Delivery = model.Confirmed
	msg.Error = ""
	msg.LocalID = string(h)

	s.mu.Lock()
	chatID, ok := s.pending[h]
	if ok {
		delete(s.pending, h)
		log := s.logs[chatID]
		if i := indexLocal(log, h); i >= 0 {
			log = slices.Delete(log, i, i+1)
		}
		s.logs[chatID] = log
	}
	if msg.ChatID == 0 {
		msg.ChatID = chatID
	}
	if _, dup := s.byID[msg.ID]; !dup {
		s.insertConfirmedLocked(msg)
	}
	s.mu.Unlock()
	s.emit(msg.ChatID, "confirm")
}

// Fail marks the pending entry for h as failed. It reports whether h was known.
func (s *Store) Fail(h Handle, err error) bool {
	s.mu.Lock()
	chatID, ok := s.pending[h]
	if ok {
		delete(s.pending, h)
		log := s.logs[chatID]
		if i := indexLocal(log, h); i >= 0 {
			log[i].Delivery = model.Failed
			if err != nil {
				log[i].Error = err.Error()
			}
		}
	}
	s.mu.Unlock()
	if ok {
		s.emit(chatID, "failed")
	}
	return ok
}

// ReceivePushed adds a server-pushed message. A message already present is
// ignored. A self-authored message matching an outstanding optimistic entry
// confirms that entry instead of adding a second copy.
func (s *Store) ReceivePushed(msg model.Message) bool {
	s.mu.RLock()
	_, dup := s.byID[msg.ID]
	// A reloaded page may already hold the echo of a pending entry; only
	// the client id can tie the two together then.
	h, echo := s.matchPendingLocked(msg, !dup)
	s.mu.RUnlock()

	switch {
	case echo:
		s.Confirm(h, msg)
		return !dup
	case dup:
		return false
	}

	msg = msg.Clone()
	msg.Delivery = model.Confirmed
	s.mu.Lock()
	if _, dup := s.byID[msg.ID]; dup {
		s.mu.Unlock()
		return false
	}
	s.insertConfirmedLocked(msg)
	s.mu.Unlock()
	s.emit(msg.ChatID, "pushed")
	return true
}

// MarkRead adds reader to the message's read-by set.
func (s *Store) MarkRead(messageID, reader int64, at time.Time) bool {
	s.mu.Lock()
	m := s.lookupLocked(messageID)
	if m == nil {
		s.mu.Unlock()
		return false
	}
	if m.ReadBy == nil {
		m.ReadBy = make(map[int64]time.Time)
	}
	m.ReadBy[reader] = at
	chatID := m.ChatID
	s.mu.Unlock()
	s.emit(chatID, "read")
	return true
}

// MarkReadUpTo records that reader has read every confirmed message of the
// chat up to and including lastMessageID.
func (s *Store) MarkReadUpTo(chatID, reader, lastMessageID int64, at time.Time) int {
	s.mu.Lock()
	n := 0
	log := s.logs[chatID]
	for i := range log {
		m := &log[i]
		if m.Delivery != model.Confirmed || m.ID > lastMessageID || m.SenderID == reader {
			continue
		}
		if _, ok := m.ReadBy[reader]; ok {
			continue
		}
		if m.ReadBy == nil {
			m.ReadBy = make(map[int64]time.Time)
		}
		m.ReadBy[reader] = at
		n++
	}
	s.mu.Unlock()
	if n > 0 {
		s.emit(chatID, "read")
	}
	return n
}

// MarkDelivered stamps a confirmed message as delivered. It reports whether the message is known.
func (s *Store) MarkDelivered(messageID int64, at time.Time) bool {
	s.mu.Lock()
	m := s.lookupLocked(messageID)
	if m == nil {
		s.mu.Unlock()
		return false
	}
	m.DeliveredAt = &at
	chatID := m.ChatID
	s.mu.Unlock()
	s.emit(chatID, "delivered")
	return true
}

// MarkDeleted flags a message as deleted, keeping its place in the log.
func (s *Store) MarkDeleted(messageID int64) bool {
	s.mu.Lock()
	m := s.lookupLocked(messageID)
	if m == nil || m.Deleted {
		s.mu.Unlock()
		return false
	}
	m.Deleted = true
	chatID := m.ChatID
	s.mu.Unlock()
	s.emit(chatID, "deleted")
	return true
}

// ReadState returns the read indicator of a message.
func (s *Store) ReadState(messageID int64, isGroup bool) (model.Receipt, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.lookupLocked(messageID)
	if m == nil {
		return model.Receipt{}, false
	}
	return m.Receipt(isGroup), true
}

// Messages returns a snapshot of the chat's log.
func (s *Store) Messages(chatID int64) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.logs[chatID]
	out := make([]model.Message, len(log))
	for i, m := range log {
		out[i] = m.Clone()
	}
	return out
}

// HasPending reports whether the chat has optimistic entries awaiting confirmation.
func (s *Store) HasPending(chatID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.pending {
		if c == chatID {
			return true
		}
	}
	return false
}

// HasUnsent reports whether the chat has pending or failed entries.
func (s *Store) HasUnsent(chatID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.ContainsFunc(s.logs[chatID], func(m model.Message) bool {
		return m.Delivery != model.Confirmed
	})
}

// Evict drops a chat's log from memory.
func (s *Store) Evict(chatID int64) {
	s.mu.Lock()
	_, loaded := s.logs[chatID]
	s.dropLocked(chatID)
	s.mu.Unlock()
	if loaded {
		s.emit(chatID, "evict")
	}
}

func (s *Store) dropLocked(chatID int64) {
	for _, m := range s.logs[chatID] {
		if m.ID != 0 {
			delete(s.byID, m.ID)
		}
	}
	for h, c := range s.pending {
		if c == chatID {
			delete(s.pending, h)
		}
	}
	delete(s.logs, chatID)
}

// insertConfirmedLocked places msg right after the last confirmed entry.
func (s *Store) insertConfirmedLocked(msg model.Message) {
	log := s.logs[msg.ChatID]
	at := len(log)
	for at > 0 && log[at-1].Delivery != model.Confirmed {
		at--
	}
	s.logs[msg.ChatID] = slices.Insert(log, at, msg)
	s.byID[msg.ID] = msg.ChatID
}

func (s *Store) matchPendingLocked(msg model.Message, byContent bool) (Handle, bool) {
	if msg.LocalID != "" {
		if _, ok := s.pending[Handle(msg.LocalID)]; ok {
			return Handle(msg.LocalID), true
		}
	}
	if !byContent {
		return "", false
	}
	for _, m := range s.logs[msg.ChatID] {
		if m.Delivery == model.Pending && m.SenderID == msg.SenderID && m.Content == msg.Content {
			return Handle(m.LocalID), true
		}
	}
	return "", false
}

func (s *Store) lookupLocked(messageID int64) *model.Message {
	chatID, ok := s.byID[messageID]
	if !ok {
		return nil
	}
	log := s.logs[chatID]
	for i := range log {
		if log[i].ID == messageID {
			return &log[i]
		}
	}
	return nil
}

func indexLocal(log []model.Message, h Handle) int {
	return slices.IndexFunc(log, func(m model.Message) bool { return m.LocalID == string(h) })
}

func (s *Store) emit(chatID int64, reason string) {
	s.bus.Emit(bus.ConversationChanged, Changed{ChatID: chatID, Reason: reason})
}
