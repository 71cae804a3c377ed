package model

import (
	"fmt"
	"testing"
	"time"

	domain "github.com/matheus3301/chatsync/internal/model"
)

var at = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

func lookups() Lookups {
	return Lookups{
		ChatName: func(id int64) string { return fmt.Sprintf("chat-%d", id) },
		UserName: func(id int64) string { return map[int64]string{8: "bob", 9: "carol"}[id] },
		Typing: func(id int64) []int64 {
			if id == 2 {
				return []int64{8}
			}
			return nil
		},
	}
}

func TestRows(t *testing.T) {
	vm := NewViewModel()
	vm.NoteUnread(2)
	vm.NoteUnread(2)

	rows := vm.Rows([]domain.Chat{{ID: 2, LastActivity: at}, {ID: 1}}, lookups())

	if len(rows) != 2 || rows[0].ID != 2 || rows[1].ID != 1 {
		t.Fatalf("rows out of list order: %+v", rows)
	}
	if rows[0].Name != "chat-2" || rows[0].Unread != 2 || !rows[0].Typing || !rows[0].Activity.Equal(at) {
		t.Errorf("got %+v", rows[0])
	}
	if rows[1].Unread != 0 || rows[1].Typing {
		t.Errorf("got %+v, want an idle row", rows[1])
	}

	vm.Opened(2)
	if n := vm.Unread(2); n != 0 {
		t.Errorf("got %d unread after open, want 0", n)
	}
}

func TestLines(t *testing.T) {
	delivered := at.Add(time.Second)
	msgs := []domain.Message{
		{ID: 1, SenderID: 8, Content: "hi", CreatedAt: at, Delivery: domain.Confirmed},
		{ID: 2, SenderID: 7, Content: "hello", CreatedAt: at, Delivery: domain.Confirmed, DeliveredAt: &delivered},
		{LocalID: "h1", SenderID: 7, Content: "still sending", Delivery: domain.Pending},
		{LocalID: "h2", SenderID: 7, Content: "lost", Delivery: domain.Failed},
		{ID: 3, SenderID: 8, Content: "oops", Delivery: domain.Confirmed, Deleted: true},
	}

	lines := Lines(msgs, 7, false, lookups())

	want := []MessageLine{
		{Sender: "bob", Time: at, Body: "hi"},
		{Sender: "You", Time: at, Body: "hello", Receipt: "✓✓"},
		{Sender: "You", Body: "still sending", Receipt: "…", Pending: true},
		{Sender: "You", Body: "lost", Receipt: "!", Failed: true},
		{Sender: "bob", Body: "message deleted"},
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d", len(lines), len(want))
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d: got %+v, want %+v", i, lines[i], want[i])
		}
	}
}

func TestReceiptGlyph(t *testing.T) {
	read := map[int64]time.Time{8: at, 9: at}
	tests := []struct {
		name    string
		msg     domain.Message
		isGroup bool
		want    string
	}{
		{"sent", domain.Message{SenderID: 7, Delivery: domain.Confirmed}, false, "✓"},
		{"read 1:1", domain.Message{SenderID: 7, Delivery: domain.Confirmed, ReadBy: map[int64]time.Time{8: at}}, false, "✓✓ read"},
		{"read group", domain.Message{SenderID: 7, Delivery: domain.Confirmed, ReadBy: read}, true, "✓✓ 2 read"},
		{"self read ignored", domain.Message{SenderID: 7, Delivery: domain.Confirmed, ReadBy: map[int64]time.Time{7: at}}, false, "✓"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ReceiptGlyph(tt.msg, tt.isGroup); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTypingLine(t *testing.T) {
	name := lookups().UserName
	tests := []struct {
		ids  []int64
		want string
	}{
		{nil, ""},
		{[]int64{8}, "bob is typing"},
		{[]int64{8, 9}, "bob and carol are typing"},
		{[]int64{8, 9, 10}, "3 people are typing"},
	}
	for _, tt := range tests {
		if got := TypingLine(tt.ids, name); got != tt.want {
			t.Errorf("TypingLine(%v) = %q, want %q", tt.ids, got, tt.want)
		}
	}
}

func TestReaders(t *testing.T) {
	name := lookups().UserName
	if got := Readers(nil, name); got != "not read yet" {
		t.Errorf("got %q", got)
	}
	got := Readers([]domain.ReadStatus{{ReaderID: 8}, {ReaderID: 9}}, name)
	if got != "read by bob, carol" {
		t.Errorf("got %q", got)
	}
}
