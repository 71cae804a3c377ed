package keys

import (
	"reflect"
	"testing"

	"github.com/gdamore/tcell/v2"
)

func runeEvent(r rune) *tcell.EventKey {
	return tcell.NewEventKey(tcell.KeyRune, r, tcell.ModNone)
}

func TestHandleEventPrefersView(t *testing.T) {
	var got string
	r := NewRegistry()
	r.AddGlobal("quit", &Action{Key: tcell.KeyRune, Rune: 'q', Handler: func() { got = "global" }})
	r.AddView("chat", "back", &Action{Key: tcell.KeyRune, Rune: 'q', Handler: func() { got = "view" }})

	if !r.HandleEvent("chat", runeEvent('q')) || got != "view" {
		t.Errorf("chat page: got %q, want view", got)
	}
	if !r.HandleEvent("chats", runeEvent('q')) || got != "global" {
		t.Errorf("chats page: got %q, want global", got)
	}
	if r.HandleEvent("chats", runeEvent('x')) {
		t.Error("unbound key reported as handled")
	}
}

func TestHandleEventSpecialKey(t *testing.T) {
	called := false
	r := NewRegistry()
	r.AddGlobal("help", &Action{Key: tcell.KeyF1, Handler: func() { called = true }})

	if !r.HandleEvent("chats", tcell.NewEventKey(tcell.KeyF1, 0, tcell.ModNone)) || !called {
		t.Error("F1 not dispatched")
	}
}

func TestHintsOrder(t *testing.T) {
	r := NewRegistry()
	r.AddGlobal("quit", &Action{Description: "q:quit", Visible: true})
	r.AddGlobal("help", &Action{Description: "?:help", Visible: true})
	r.AddGlobal("secret", &Action{Description: "x:secret"})
	r.AddView("chat", "compose", &Action{Description: "i:compose", Visible: true})

	got := r.Hints("chat")
	want := []string{"i:compose", "?:help", "q:quit"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
