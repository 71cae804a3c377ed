package model

import (
	"reflect"
	"testing"
	"time"
)

func TestTypingThrottle(t *testing.T) {
	th := NewTypingThrottle(2 * time.Second)
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

	steps := []struct {
		name    string
		chatID  int64
		hasText bool
		advance time.Duration
		want    []Signal
	}{
		{"first keystroke", 1, true, 0, []Signal{{1, true}}},
		{"within interval", 1, true, time.Second, nil},
		{"interval elapsed", 1, true, time.Second, []Signal{{1, true}}},
		{"cleared", 1, false, 0, []Signal{{1, false}}},
		{"still empty", 1, false, 0, nil},
		{"typing again", 1, true, 0, []Signal{{1, true}}},
		{"switched chat", 2, true, 0, []Signal{{1, false}, {2, true}}},
	}
	for _, st := range steps {
		now = now.Add(st.advance)
		got := th.Edited(st.chatID, st.hasText, now)
		if !reflect.DeepEqual(got, st.want) {
			t.Errorf("%s: got %v, want %v", st.name, got, st.want)
		}
	}
}

func TestTypingThrottleReset(t *testing.T) {
	th := NewTypingThrottle(time.Minute)
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

	th.Edited(1, true, now)
	th.Reset()
	if got := th.Edited(1, false, now); got != nil {
		t.Errorf("got %v after reset, want no stop frame", got)
	}
}
