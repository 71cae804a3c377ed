// Package tui is a terminal renderer for one chat session. It draws engine
// snapshots, redraws on bus events and sends every user action through
// engine.Session.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/engine"
	"github.com/matheus3301/chatsync/internal/errs"
	domain "github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/notify"
	"github.com/matheus3301/chatsync/internal/presence"
	"github.com/matheus3301/chatsync/internal/tui/keys"
	"github.com/matheus3301/chatsync/internal/tui/model"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/matheus3301/chatsync/internal/tui/views"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

const (
	pageChats  = "chats"
	pageChat   = "chat"
	pageSearch = "search"
	pageHelp   = "help"
)

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	pages    *tview.Pages
	layout   *tview.Flex
	theme    *ui.Theme
	session  *engine.Session
	bus      *bus.Bus
	name     string
	vm       *model.ViewModel
	typing   *model.TypingThrottle
	registry *keys.Registry
	logger   *zap.Logger

	statusBar *views.StatusBar
	chatList  *views.ChatList
	thread    *views.MessageView
	composer  *views.Composer
	search    *views.SearchView
	help      *views.HelpView
	prompt    *ui.Prompt

	filter   string // UI goroutine only
	promptOn bool
	redraw   chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewApp creates the TUI for a started session.
func NewApp(s *engine.Session, b *bus.Bus, sessionName string, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		theme:     theme,
		session:   s,
		bus:       b,
		name:      sessionName,
		vm:        model.NewViewModel(),
		typing:    model.NewTypingThrottle(presence.DefaultTTL / 2),
		registry:  keys.NewRegistry(),
		logger:    logger.Named("tui"),
		statusBar: views.NewStatusBar(theme),
		chatList:  views.NewChatList(theme),
		thread:    views.NewMessageView(theme),
		composer:  views.NewComposer(theme),
		search:    views.NewSearchView(theme),
		help:      views.NewHelpView(theme),
		prompt:    ui.NewPrompt(theme),
		redraw:    make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal("quit", &keys.Action{
		Rune: 'q', Key: tcell.KeyRune,
		Description: "q:quit", Visible: true,
		Handler: func() { a.app.Stop() },
	})
	a.registry.AddGlobal("search", &keys.Action{
		Rune: 's', Key: tcell.KeyRune,
		Description: "s:find user", Visible: true,
		Handler: func() { a.showSearch("") },
	})
	a.registry.AddGlobal("help", &keys.Action{
		Rune: '?', Key: tcell.KeyRune,
		Description: "?:help", Visible: true,
		Handler: func() { a.switchTo(pageHelp, a.help) },
	})
	a.registry.AddGlobal("command", &keys.Action{
		Rune: ':', Key: tcell.KeyRune,
		Description: ":cmd", Visible: true,
		Handler: func() { a.showPrompt(ui.PromptCommand) },
	})
	a.registry.AddView(pageChats, "filter", &keys.Action{
		Rune: '/', Key: tcell.KeyRune,
		Description: "/:filter", Visible: true,
		Handler: func() { a.showPrompt(ui.PromptFilter) },
	})
	a.registry.AddView(pageChats, "down", &keys.Action{
		Rune: 'j', Key: tcell.KeyRune,
		Handler: func() { a.moveCursor(1) },
	})
	a.registry.AddView(pageChats, "up", &keys.Action{
		Rune: 'k', Key: tcell.KeyRune,
		Handler: func() { a.moveCursor(-1) },
	})
	a.registry.AddView(pageChat, "compose", &keys.Action{
		Rune: 'i', Key: tcell.KeyRune,
		Description: "i:compose", Visible: true,
		Handler: func() { a.app.SetFocus(a.composer.InputField) },
	})
	a.registry.AddView(pageChat, "readers", &keys.Action{
		Rune: 'r', Key: tcell.KeyRune,
		Description: "r:read by", Visible: true,
		Handler: a.showLastReaders,
	})
}

func (a *App) setupCallbacks() {
	a.chatList.SetSelectedFunc(func(int, int) {
		if id := a.chatList.SelectedChat(); id != 0 {
			a.openChat(id)
		}
	})

	a.composer.SetOnSend(func(text string) {
		chatID := a.session.ActiveChat()
		if chatID == 0 {
			return
		}
		a.typing.Reset()
		go func() {
			if _, err := a.session.SendMessage(a.ctx, chatID, text); err != nil {
				a.flashErr("send", err)
			}
		}()
	})

	a.composer.SetOnEdit(func(hasText bool) {
		chatID := a.session.ActiveChat()
		if chatID == 0 {
			return
		}
		for _, sig := range a.typing.Edited(chatID, hasText, time.Now()) {
			sig := sig
			go func() {
				if err := a.session.SetTyping(a.ctx, sig.ChatID, sig.Typing); err != nil {
					a.logger.Debug("typing signal not sent", zap.Error(err))
				}
			}()
		}
	})

	a.search.SetOnQuery(func(query string) {
		go func() {
			users, err := a.session.SearchUsers(a.ctx, query)
			if err != nil {
				a.flashErr("search", err)
				return
			}
			a.app.QueueUpdateDraw(func() {
				a.search.Update(users)
				a.app.SetFocus(a.search.Results())
			})
		}()
	})
	a.search.SetOnSelect(func(u domain.User) { a.startChat(u.ID) })

	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.hidePrompt()
		if mode == ui.PromptCommand {
			a.runCommand(ParseCommand(text))
		}
	})
	a.prompt.SetOnFilter(func(text string) {
		a.filter = text
		a.refresh()
	})
	a.prompt.SetOnCancel(a.hidePrompt)
}

func (a *App) setupLayout() {
	chatFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.thread, 0, 1, false).
		AddItem(a.composer, 3, 0, false)

	a.pages.AddPage(pageChats, a.chatList, true, true)
	a.pages.AddPage(pageChat, chatFlex, true, false)
	a.pages.AddPage(pageSearch, a.search, true, false)
	a.pages.AddPage(pageHelp, a.help, true, false)

	a.layout = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(a.layout, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		page, _ := a.pages.GetFrontPage()

		if event.Key() == tcell.KeyEscape {
			if a.promptOn {
				return event
			}
			if a.app.GetFocus() == a.composer.InputField {
				a.app.SetFocus(a.thread)
				return nil
			}
			if page != pageChats {
				a.back()
				return nil
			}
		}

		// Let text input widgets handle all keys normally.
		if _, ok := a.app.GetFocus().(*tview.InputField); ok {
			return event
		}

		if a.registry.HandleEvent(page, event) {
			return nil
		}
		return event
	})
}

// Run draws the UI until the user quits. The session must already be started.
func (a *App) Run() error {
	events, unsub := a.bus.Subscribe("", 256)
	defer unsub()

	go a.watch(events)
	go a.redrawLoop()
	a.requestRedraw()

	err := a.app.Run()
	a.cancel()
	return err
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}

func (a *App) watch(events <-chan bus.Event) {
	for {
		select {
		case <-a.ctx.Done():
			return
		case evt := <-events:
			a.observe(evt)
			a.requestRedraw()
		}
	}
}

// observe turns notifications into unread counters and flash messages.
func (a *App) observe(evt bus.Event) {
	switch evt.Kind {
	case bus.NotifyOutOfBand:
		d, ok := evt.Payload.(notify.Decision)
		if !ok {
			return
		}
		a.vm.NoteUnread(d.ChatID)
		a.vm.Flash.Info(fmt.Sprintf("%s: %s", d.ChatName, d.Preview))
	case bus.NotifyNotification:
		if msg, ok := evt.Payload.(string); ok {
			a.vm.Flash.Info(msg)
		}
	case bus.NotifyServerError:
		if msg, ok := evt.Payload.(string); ok {
			a.vm.Flash.Warn("server: " + msg)
		}
	case bus.ConnReconnecting:
		if r, ok := evt.Payload.(bus.Reconnecting); ok {
			a.vm.Flash.Warn(fmt.Sprintf("link lost, retry %d in %s", r.Attempt, r.Delay.Round(time.Second)))
		}
	case bus.ConnAuthRejected:
		a.vm.Flash.Err(errors.New("token rejected; set a new one with chatctl token set"))
	}
}

func (a *App) requestRedraw() {
	select {
	case a.redraw <- struct{}{}:
	default:
	}
}

// redrawLoop coalesces bursts of events into one draw, and ticks once a
// second for the clock and flash expiry.
func (a *App) redrawLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.redraw:
		case <-ticker.C:
		}
		a.app.QueueUpdateDraw(a.refresh)
	}
}

// refresh redraws every view from engine snapshots. UI goroutine only.
func (a *App) refresh() {
	now := time.Now()
	l := a.lookups()

	chats := a.session.ChatList().Chats()
	if a.filter != "" {
		needle := strings.ToLower(a.filter)
		chats = a.session.ChatList().Filter(func(c domain.Chat) bool {
			return strings.Contains(strings.ToLower(a.session.ChatName(c.ID)), needle)
		})
	}
	a.chatList.Update(a.vm.Rows(chats, l), now)

	if active := a.session.ActiveChat(); active != 0 {
		chat, _ := a.session.ChatList().Get(active)
		self := a.session.Self()
		lines := model.Lines(a.session.Conversation().Messages(active), self.ID, chat.IsGroup, l)
		a.thread.Update(a.session.ChatName(active), lines, model.TypingLine(l.Typing(active), l.UserName), now)
	}

	page, _ := a.pages.GetFrontPage()
	flash, level := a.vm.Flash.Get()
	a.statusBar.Update(a.name, a.session.Self().Username, a.session.State(), a.registry.Hints(page), flash, level, now)
}

func (a *App) lookups() model.Lookups {
	return model.Lookups{
		ChatName: a.session.ChatName,
		UserName: a.session.UserName,
		Typing:   a.session.Presence().Typists,
	}
}

// openChat shows a chat. Picking it out of a filtered list counts as
// activity and moves it to the front. UI goroutine only.
func (a *App) openChat(chatID int64) {
	selectChat := a.session.SelectChat
	if a.filter != "" {
		selectChat = a.session.SelectFromSearch
	}
	a.vm.Opened(chatID)
	a.switchTo(pageChat, a.thread)
	go func() {
		err := selectChat(a.ctx, chatID)
		if err != nil && !errors.Is(err, engine.ErrSuperseded) {
			a.flashErr("load history", err)
		}
		a.requestRedraw()
	}()
}

func (a *App) startChat(userID int64) {
	go func() {
		chat, err := a.session.CreateChat(a.ctx, userID)
		switch {
		case errors.Is(err, errs.ErrConflict):
			a.vm.Flash.Warn("cannot start that chat (is it you?)")
			a.requestRedraw()
			return
		case errors.Is(err, errs.ErrNotFound):
			a.vm.Flash.Warn(fmt.Sprintf("no user with id %d", userID))
			a.requestRedraw()
			return
		case err != nil:
			a.flashErr("create chat", err)
			return
		}
		a.app.QueueUpdateDraw(func() { a.openChat(chat.ID) })
	}()
}

// showLastReaders looks up who read the user's newest confirmed message.
func (a *App) showLastReaders() {
	chatID := a.session.ActiveChat()
	self := a.session.Self().ID
	msgs := a.session.Conversation().Messages(chatID)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].SenderID == self && msgs[i].ID != 0 {
			a.showReaders(msgs[i].ID)
			return
		}
	}
	a.vm.Flash.Info("no sent message here yet")
}

func (a *App) showReaders(messageID int64) {
	go func() {
		reads, err := a.session.ReadStatus(a.ctx, messageID)
		if err != nil {
			a.flashErr("read status", err)
			return
		}
		a.vm.Flash.Info(fmt.Sprintf("#%d %s", messageID, model.Readers(reads, a.session.UserName)))
		a.requestRedraw()
	}()
}

func (a *App) runCommand(cmd Command) {
	switch cmd.Name {
	case "quit":
		a.app.Stop()
	case "help":
		a.switchTo(pageHelp, a.help)
	case "search":
		a.showSearch(cmd.Args)
	case "new":
		id, err := cmd.ID()
		if err != nil {
			a.vm.Flash.Warn(err.Error())
			return
		}
		a.startChat(id)
	case "read":
		id, err := cmd.ID()
		if err != nil {
			a.vm.Flash.Warn(err.Error())
			return
		}
		a.showReaders(id)
	case "":
	default:
		a.vm.Flash.Warn(fmt.Sprintf("unknown command :%s", cmd.Name))
	}
}

func (a *App) showSearch(query string) {
	a.search.Reset(query)
	a.switchTo(pageSearch, a.search.Input())
	if query != "" {
		a.search.Input().SetText(query)
		go func() {
			users, err := a.session.SearchUsers(a.ctx, query)
			if err != nil {
				a.flashErr("search", err)
				return
			}
			a.app.QueueUpdateDraw(func() {
				a.search.Update(users)
				a.app.SetFocus(a.search.Results())
			})
		}()
	}
}

func (a *App) showPrompt(mode ui.PromptMode) {
	a.prompt.Activate(mode)
	if mode == ui.PromptFilter {
		a.prompt.SetText(a.filter)
	}
	a.promptOn = true
	a.layout.RemoveItem(a.statusBar)
	a.layout.AddItem(a.prompt, 3, 0, true)
	a.layout.AddItem(a.statusBar, 1, 0, false)
	a.app.SetFocus(a.prompt.InputField)
}

func (a *App) hidePrompt() {
	if !a.promptOn {
		return
	}
	a.promptOn = false
	a.layout.RemoveItem(a.prompt)
	a.focusPage()
}

// back returns to the chat list. Leaving a thread closes the chat, so new
// messages there count as unread again.
func (a *App) back() {
	page, _ := a.pages.GetFrontPage()
	if page == pageChat {
		for _, sig := range a.typing.Edited(0, false, time.Now()) {
			sig := sig
			go func() { _ = a.session.SetTyping(a.ctx, sig.ChatID, sig.Typing) }()
		}
		go func() {
			if err := a.session.CloseChat(a.ctx); err != nil {
				a.logger.Debug("close chat", zap.Error(err))
			}
		}()
	}
	a.switchTo(pageChats, a.chatList)
	a.refresh()
}

func (a *App) switchTo(page string, focus tview.Primitive) {
	a.pages.SwitchToPage(page)
	a.app.SetFocus(focus)
}

func (a *App) focusPage() {
	switch page, _ := a.pages.GetFrontPage(); page {
	case pageChat:
		a.app.SetFocus(a.thread)
	case pageSearch:
		a.app.SetFocus(a.search.Input())
	case pageHelp:
		a.app.SetFocus(a.help)
	default:
		a.app.SetFocus(a.chatList)
	}
}

func (a *App) moveCursor(delta int) {
	row, col := a.chatList.GetSelection()
	row += delta
	if row < 1 || row > a.chatList.GetRowCount()-1 {
		return
	}
	a.chatList.Select(row, col)
}

func (a *App) flashErr(action string, err error) {
	a.logger.Warn(action+" failed", zap.Error(err))
	a.vm.Flash.Err(fmt.Errorf("%s: %w", action, err))
	a.requestRedraw()
}
