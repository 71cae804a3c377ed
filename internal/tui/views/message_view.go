package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/tui/model"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// MessageView displays the message log of the active chat, oldest first,
// with a typing line at the bottom.
type MessageView struct {
	*tview.TextView
	theme *ui.Theme
}

// NewMessageView creates a new message view.
func NewMessageView(theme *ui.Theme) *MessageView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Messages ")
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitleColor(theme.TitleColor)

	return &MessageView{TextView: tv, theme: theme}
}

// Update redraws the thread and keeps it scrolled to the newest entry.
func (mv *MessageView) Update(chatName string, lines []model.MessageLine, typing string, now time.Time) {
	mv.SetTitle(fmt.Sprintf(" %s ", display(chatName)))
	mv.Clear()

	var b strings.Builder
	muted := ui.Tag(mv.theme.MutedColor)
	for _, l := range lines {
		fmt.Fprintf(&b, "[::b]%s[-:-:-] %s%s[-]", display(l.Sender), muted, formatTimestamp(l.Time, now))
		switch {
		case l.Failed:
			fmt.Fprintf(&b, " %s%s not sent[-]", ui.Tag(mv.theme.FlashErrColor), l.Receipt)
		case l.Receipt != "":
			fmt.Fprintf(&b, " %s%s[-]", muted, l.Receipt)
		}
		body := display(l.Body)
		if l.Pending {
			body = muted + body + "[-]"
		}
		fmt.Fprintf(&b, "\n%s\n\n", body)
	}
	if typing != "" {
		fmt.Fprintf(&b, "%s[::i]%s…[-:-:-]\n", ui.Tag(mv.theme.TypingColor), display(typing))
	}
	_, _ = fmt.Fprint(mv, b.String())

	mv.ScrollToEnd()
}
