package frame

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
)

// MessagePayload is the wire shape of a message, shared by frames and the REST API.
type MessagePayload struct {
	ID          int64  `json:"id"`
	ChatID      int64  `json:"chat_id"`
	SenderID    int64  `json:"sender_id"`
	Content     string `json:"content"`
	CreatedAt   Time   `json:"created_at"`
	DeliveredAt *Time  `json:"delivered_at,omitempty"`
	IsDelete    bool   `json:"is_delete,omitempty"`
	ClientID    string `json:"client_id,omitempty"`
}

// Model converts the payload into a confirmed message.
func (p MessagePayload) Model() model.Message {
	m := model.Message{
		ID:        p.ID,
		LocalID:   p.ClientID,
		ChatID:    p.ChatID,
		SenderID:  p.SenderID,
		Content:   p.Content,
		CreatedAt: p.CreatedAt.Time,
		Delivery:  model.Confirmed,
		Deleted:   p.IsDelete,
	}
	if p.DeliveredAt != nil && !p.DeliveredAt.IsZero() {
		at := p.DeliveredAt.Time
		m.DeliveredAt = &at
	}
	return m
}

// ChatPayload is the wire shape of a chat.
type ChatPayload struct {
	ID           int64   `json:"id"`
	Name         *string `json:"name"`
	IsGroup      bool    `json:"is_group"`
	Participants []int64 `json:"participants,omitempty"`
	CreatedAt    *Time   `json:"created_at,omitempty"`
}

// Model converts the payload into a chat.
func (p ChatPayload) Model() model.Chat {
	c := model.Chat{
		ID:           p.ID,
		Name:         p.Name,
		IsGroup:      p.IsGroup,
		Participants: p.Participants,
	}
	if p.CreatedAt != nil {
		c.LastActivity = p.CreatedAt.Time
	}
	return c
}

// UserPayload is the wire shape of a user.
type UserPayload struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// Model converts the payload into a user.
func (p UserPayload) Model() model.User {
	return model.User{ID: p.ID, Username: p.Username, Email: p.Email}
}

// ReadStatusPayload is one entry of a message's read status.
type ReadStatusPayload struct {
	ReaderID int64 `json:"reader_id"`
	ReadAt   Time  `json:"read_at"`
}

// Model converts the payload into a read status.
func (p ReadStatusPayload) Model() model.ReadStatus {
	return model.ReadStatus{ReaderID: p.ReaderID, ReadAt: p.ReadAt.Time}
}

// timeLayouts lists the timestamp formats the server emits. Naive timestamps are UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// Time is a timestamp that tolerates timezone-less ISO 8601 values.
type Time struct {
	time.Time
}

func (t *Time) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}
