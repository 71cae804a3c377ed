package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/tui/model"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// StatusBar displays the session, the link state, key hints and the flash message.
type StatusBar struct {
	*tview.TextView
	theme *ui.Theme
}

// NewStatusBar creates a new status bar.
func NewStatusBar(theme *ui.Theme) *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv, theme: theme}
}

// Update redraws the bar.
func (sb *StatusBar) Update(session, user string, state status.State, hints []string, flash string, level model.Level, now time.Time) {
	sb.Clear()

	line := fmt.Sprintf(" [::b]%s[-:-:-] %s | %s%s[-] | %s",
		display(session), display(user), stateColor(sb.theme, state), strings.ToUpper(string(state)), now.Format("15:04"))
	if len(hints) > 0 {
		line += " | " + ui.Tag(sb.theme.MenuKeyColor) + strings.Join(hints, " ") + "[-]"
	}
	if flash != "" {
		color := sb.theme.FlashInfoColor
		switch level {
		case model.LevelWarn:
			color = sb.theme.FlashWarnColor
		case model.LevelErr:
			color = sb.theme.FlashErrColor
		}
		line += fmt.Sprintf(" | %s%s[-]", ui.Tag(color), display(flash))
	}

	_, _ = fmt.Fprint(sb, line)
}

func stateColor(theme *ui.Theme, s status.State) string {
	switch s {
	case status.Open:
		return ui.Tag(theme.TypingColor)
	case status.Disconnected:
		return ui.Tag(theme.FlashErrColor)
	default:
		return ui.Tag(theme.FlashWarnColor)
	}
}
