package views

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	domain "github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// SearchView finds users to start a chat with.
type SearchView struct {
	*tview.Flex
	theme    *ui.Theme
	input    *tview.InputField
	results  *tview.Table
	onQuery  func(query string)
	onSelect func(user domain.User)
	data     []domain.User
}

// NewSearchView creates a new search view.
func NewSearchView(theme *ui.Theme) *SearchView {
	input := tview.NewInputField().
		SetLabel(" Find user: ").
		SetFieldWidth(0)
	input.SetBorderColor(theme.BorderColor)
	input.SetBackgroundColor(theme.BgColor)
	input.SetFieldBackgroundColor(theme.BgColor)
	input.SetFieldTextColor(theme.FgColor)
	input.SetLabelColor(theme.MenuKeyColor)

	results := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	results.SetBorder(true)
	results.SetBorderColor(theme.BorderColor)
	results.SetBackgroundColor(theme.BgColor)
	results.SetTitle(" Users (Enter starts a chat) ")
	results.SetTitleColor(theme.TitleColor)
	results.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(input, 1, 0, true).
		AddItem(results, 0, 1, false)

	sv := &SearchView{
		Flex:    flex,
		theme:   theme,
		input:   input,
		results: results,
	}

	input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && sv.onQuery != nil && sv.input.GetText() != "" {
			sv.onQuery(sv.input.GetText())
		}
	})
	results.SetSelectedFunc(func(row, _ int) {
		idx := row - 1
		if idx >= 0 && idx < len(sv.data) && sv.onSelect != nil {
			sv.onSelect(sv.data[idx])
		}
	})

	return sv
}

// SetOnQuery sets the callback when a query is submitted.
func (sv *SearchView) SetOnQuery(fn func(query string)) {
	sv.onQuery = fn
}

// SetOnSelect sets the callback when a user is picked.
func (sv *SearchView) SetOnSelect(fn func(user domain.User)) {
	sv.onSelect = fn
}

// Reset clears the query and results.
func (sv *SearchView) Reset(query string) {
	sv.input.SetText(query)
	sv.Update(nil)
}

// Update refreshes search results.
func (sv *SearchView) Update(users []domain.User) {
	sv.data = users
	sv.results.Clear()

	for col, h := range []string{" ID", " USERNAME", " EMAIL"} {
		sv.results.SetCell(0, col, tview.NewTableCell(h).
			SetSelectable(false).
			SetTextColor(sv.theme.TableHeaderFg).
			SetAttributes(tcell.AttrBold))
	}

	for i, u := range users {
		row := i + 1
		sv.results.SetCell(row, 0, tview.NewTableCell(fmt.Sprintf(" %d", u.ID)).SetMaxWidth(10).SetTextColor(sv.theme.MutedColor))
		sv.results.SetCell(row, 1, tview.NewTableCell(" "+display(u.Username)).SetExpansion(1).SetTextColor(sv.theme.FgColor))
		sv.results.SetCell(row, 2, tview.NewTableCell(" "+display(u.Email)).SetExpansion(1).SetTextColor(sv.theme.FgColor))
	}
}

// Input returns the query field.
func (sv *SearchView) Input() *tview.InputField {
	return sv.input
}

// Results returns the results table.
func (sv *SearchView) Results() *tview.Table {
	return sv.results
}
