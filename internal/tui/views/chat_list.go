package views

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatsync/internal/tui/model"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// ChatList is the main chat list view (K9s-inspired table), most recent first.
type ChatList struct {
	*tview.Table
	theme *ui.Theme
	rows  []model.ChatRow
}

// NewChatList creates a new chat list table.
func NewChatList(theme *ui.Theme) *ChatList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true).SetTitle(" Chats ")
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetTitleColor(theme.TitleColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))

	return &ChatList{Table: table, theme: theme}
}

// Update redraws the rows. The cursor stays on the same chat when it moves.
func (cl *ChatList) Update(rows []model.ChatRow, now time.Time) {
	selected := cl.SelectedChat()
	cl.rows = rows
	cl.Clear()

	for col, h := range []string{" NAME", " ", " LAST ACTIVITY"} {
		cl.SetCell(0, col, tview.NewTableCell(h).
			SetSelectable(false).
			SetTextColor(cl.theme.TableHeaderFg).
			SetAttributes(tcell.AttrBold))
	}

	cursor := 1
	for i, r := range rows {
		row := i + 1
		name := " " + display(r.Name)
		color := cl.theme.FgColor
		if r.Unread > 0 {
			name = fmt.Sprintf(" * %s (%d)", display(r.Name), r.Unread)
			color = cl.theme.UnreadColor
		}
		marker := ""
		if r.Typing {
			marker = ui.Tag(cl.theme.TypingColor) + "typing…[-]"
		}

		cl.SetCell(row, 0, tview.NewTableCell(name).SetMaxWidth(30).SetExpansion(1).SetTextColor(color))
		cl.SetCell(row, 1, tview.NewTableCell(" "+marker).SetMaxWidth(12))
		cl.SetCell(row, 2, tview.NewTableCell(" "+formatTimestamp(r.Activity, now)).SetMaxWidth(14).SetTextColor(cl.theme.MutedColor))
		if r.ID == selected {
			cursor = row
		}
	}
	if len(rows) > 0 {
		cl.Select(cursor, 0)
	}
}

// SelectedChat returns the id of the chat under the cursor, 0 if none.
func (cl *ChatList) SelectedChat() int64 {
	row, _ := cl.GetSelection()
	idx := row - 1 // header
	if idx >= 0 && idx < len(cl.rows) {
		return cl.rows[idx].ID
	}
	return 0
}
