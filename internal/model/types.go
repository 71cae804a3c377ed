package model

import (
	"slices"
	"time"
)

// User is a chat participant as returned by the collaborator API.
type User struct {
	ID       int64
	Username string
	Email    string
}

// Chat is one entry of the chat list.
type Chat struct {
	ID           int64
	Name         *string // nil for a 1:1 chat
	IsGroup      bool
	Participants []int64
	LastActivity time.Time
}

// HasParticipant reports whether userID is a member of the chat.
func (c Chat) HasParticipant(userID int64) bool {
	return slices.Contains(c.Participants, userID)
}

// Clone returns a deep copy of c.
func (c Chat) Clone() Chat {
	out := c
	out.Participants = slices.Clone(c.Participants)
	if c.Name != nil {
		name := *c.Name
		out.Name = &name
	}
	return out
}

// Delivery is the delivery state of a message.
type Delivery string

const (
	Pending   Delivery = "pending"
	Confirmed Delivery = "confirmed"
	Failed    Delivery = "failed"
)

// Message is a single entry of a chat's message log.
type Message struct {
	ID          int64  // server id, 0 while pending
	LocalID     string // correlation id of an optimistic entry
	ChatID      int64
	SenderID    int64
	Content     string
	CreatedAt   time.Time
	Delivery    Delivery
	DeliveredAt *time.Time
	Deleted     bool
	ReadBy      map[int64]time.Time
	Error       string
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	out := m
	if m.ReadBy != nil {
		out.ReadBy = make(map[int64]time.Time, len(m.ReadBy))
		for k, v := range m.ReadBy {
			out.ReadBy[k] = v
		}
	}
	if m.DeliveredAt != nil {
		at := *m.DeliveredAt
		out.DeliveredAt = &at
	}
	return out
}

// Readers returns the ids in the read-by set, excluding the sender, in ascending order.
func (m Message) Readers() []int64 {
	readers := make([]int64, 0, len(m.ReadBy))
	for id := range m.ReadBy {
		if id != m.SenderID {
			readers = append(readers, id)
		}
	}
	slices.Sort(readers)
	return readers
}

// Receipt is the read indicator exposed for a message.
type Receipt struct {
	Delivered bool
	// Read is only meaningful for two-party chats.
	Read   bool
	ReadBy []int64
}

// Receipt computes the read indicator. Group chats expose the read-by set as is.
func (m Message) Receipt(isGroup bool) Receipt {
	r := Receipt{
		Delivered: m.Delivery == Confirmed,
		ReadBy:    m.Readers(),
	}
	if !isGroup {
		r.Read = len(r.ReadBy) > 0
	}
	return r
}

// ReadStatus is one reader of a message.
type ReadStatus struct {
	ReaderID int64
	ReadAt   time.Time
}
