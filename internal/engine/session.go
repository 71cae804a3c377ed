// Package engine composes one logged-in chat session: the realtime link, the
// chat list, per-chat message logs, typing presence and notification routing.
//
// All state changes run on a single event loop goroutine. Socket frames, HTTP
// continuations and public calls are submitted to it as closures, so handlers
// never interleave mid-mutation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chatlist"
	"github.com/matheus3301/chatsync/internal/conn"
	"github.com/matheus3301/chatsync/internal/conversation"
	"github.com/matheus3301/chatsync/internal/errs"
	"github.com/matheus3301/chatsync/internal/frame"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/notify"
	"github.com/matheus3301/chatsync/internal/presence"
	"github.com/matheus3301/chatsync/internal/router"
	"github.com/matheus3301/chatsync/internal/status"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Send paths for outgoing messages.
const (
	SendViaSocket = "socket"
	SendViaHTTP   = "http"
)

var (
	// ErrStopped is returned by calls made after Stop.
	ErrStopped      = errors.New("session stopped")
	// ErrSuperseded is returned by SelectChat when another chat was selected
	// before the history arrived. The late response is discarded.
	ErrSuperseded   = errors.New("chat selection superseded")
	ErrEmptyMessage = errors.New("empty message")
)

// Backend is the request/response side of the chat server.
type Backend interface {
	CurrentUser(ctx context.Context) (model.User, error)
	Chats(ctx context.Context) ([]model.Chat, error)
	// History returns the latest messages, newest first.
	History(ctx context.Context, chatID int64) ([]model.Message, error)
	CreateChat(ctx context.Context, otherUserID int64) (model.Chat, error)
	SearchUsers(ctx context.Context, query string) ([]model.User, error)
	ReadStatus(ctx context.Context, messageID int64) ([]model.ReadStatus, error)
	SendMessage(ctx context.Context, chatID int64, content string) (model.Message, error)
}

// Link is the realtime connection. *conn.Manager implements it.
type Link interface {
	Open(ctx context.Context)
	Close()
	Send(ctx context.Context, f frame.Outbound) error
	State() status.State
	RegisterDispatcher(d conn.Dispatcher)
}

// Options tunes a Session.
type Options struct {
	SendVia     string        // SendViaSocket (default) or SendViaHTTP
	TypingTTL   time.Duration // default presence.DefaultTTL
	SendTimeout time.Duration // bound on frames written from the event loop
	Now         func() time.Time
}

func (o *Options) defaults() {
	if o.SendVia == "" {
		o.SendVia = SendViaSocket
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 5 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Session is the sync engine of one logged-in user.
type Session struct {
	opts    Options
	backend Backend
	link    Link
	bus     *bus.Bus
	logger  *zap.Logger

	chats    *chatlist.List
	messages *conversation.Store
	presence *presence.Signal
	notifier *notify.Router
	router   *router.Router

	ctx    context.Context
	cancel context.CancelFunc

	ops      chan func()
	quit     chan struct{}
	loopDone chan struct{}
	stopOnce sync.Once

	selfID atomic.Int64
	active atomic.Int64

	mu    sync.RWMutex
	self  model.User
	users map[int64]model.User

	// Owned by the event loop.
	generation uint64
}

// New builds a session and starts its event loop. Nothing touches the
// network until Start.
func New(backend Backend, link Link, b *bus.Bus, logger *zap.Logger, opts Options) *Session {
	opts.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if b == nil {
		b = bus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		opts:     opts,
		backend:  backend,
		link:     link,
		bus:      b,
		logger:   logger.Named("engine"),
		chats:    chatlist.New(b, logger),
		messages: conversation.New(b, logger, opts.Now),
		presence: presence.New(opts.TypingTTL, opts.Now, b),
		ctx:      ctx,
		cancel:   cancel,
		ops:      make(chan func(), 256),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
		users:    make(map[int64]model.User),
	}
	s.notifier = notify.New(link, s.chatName, s.selfID.Load, b, logger)
	s.router = router.New(handlers{s}, logger)
	link.RegisterDispatcher(s)

	connected, unsub := b.Subscribe(bus.ConnConnected, 4)
	go s.loop()
	go s.watchReconnects(connected, unsub)
	return s
}

// Start loads the profile and chat list concurrently, then opens the realtime
// link. A failed load is returned as is and not retried.
func (s *Session) Start(ctx context.Context) error {
	var (
		user  model.User
		chats []model.Chat
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := s.backend.CurrentUser(gctx)
		user = u
		return err
	})
	g.Go(func() error {
		c, err := s.backend.Chats(gctx)
		chats = c
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("load session snapshot: %w", err)
	}

	err := s.run(ctx, func() {
		s.mu.Lock()
		s.self = user
		s.users[user.ID] = user
		s.mu.Unlock()
		s.selfID.Store(user.ID)
		s.chats.ReplaceAll(chats)
	})
	if err != nil {
		return err
	}

	s.logger.Info("session started", zap.Int64("user_id", user.ID), zap.Int("chats", len(chats)))
	s.link.Open(s.ctx)
	return nil
}

// Stop closes the realtime link and stops the event loop. A stopped session
// cannot be restarted.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.link.Close()
		s.cancel()
		close(s.quit)
		<-s.loopDone
		s.logger.Info("session stopped")
	})
}

// Dispatch queues an inbound frame for the event loop. The link calls it
// from its read goroutine, so frames keep transport order.
func (s *Session) Dispatch(f frame.Frame) {
	s.post(func() { s.router.Dispatch(f) })
}

// SelectChat makes chatID the active chat and loads its history. Opening a
// chat is not activity, so its place in the chat list is kept. If another
// chat is selected before the history arrives, the response is dropped and
// ErrSuperseded returned.
func (s *Session) SelectChat(ctx context.Context, chatID int64) error {
	return s.selectChat(ctx, chatID, false)
}

// SelectFromSearch is SelectChat for a chat the user picked out of a search,
// which counts as activity and moves the chat to the front.
func (s *Session) SelectFromSearch(ctx context.Context, chatID int64) error {
	return s.selectChat(ctx, chatID, true)
}

func (s *Session) selectChat(ctx context.Context, chatID int64, promote bool) error {
	var gen uint64
	err := s.run(ctx, func() {
		prev := s.active.Swap(chatID)
		if prev != 0 && prev != chatID && !s.messages.HasUnsent(prev) {
			s.messages.Evict(prev)
		}
		s.generation++
		gen = s.generation
		s.ensureChat(chatID)
		if promote {
			s.chats.Promote(chatID)
		}
	})
	if err != nil {
		return err
	}
	return s.loadHistory(ctx, chatID, gen)
}

// CloseChat clears the active chat, so later messages for it are routed
// out of band. A history load still in flight is dropped.
func (s *Session) CloseChat(ctx context.Context) error {
	return s.run(ctx, func() {
		prev := s.active.Swap(0)
		s.generation++
		if prev != 0 && !s.messages.HasUnsent(prev) {
			s.messages.Evict(prev)
		}
	})
}

func (s *Session) loadHistory(ctx context.Context, chatID int64, gen uint64) error {
	history, fetchErr := s.backend.History(ctx, chatID)

	var stale bool
	err := s.run(ctx, func() {
		if s.generation != gen || s.active.Load() != chatID {
			stale = true
			return
		}
		if fetchErr != nil {
			return
		}
		s.applyHistory(chatID, history)
		s.acknowledge(chatID)
	})
	switch {
	case err != nil:
		return err
	case stale:
		s.logger.Debug("discarding stale history", zap.Int64("chat_id", chatID))
		return ErrSuperseded
	case fetchErr != nil:
		return fetchErr
	}
	return nil
}

// applyHistory replaces the chat's confirmed log, keeping pushed messages
// newer than the fetched page. Unsent entries survive inside LoadHistory.
func (s *Session) applyHistory(chatID int64, history []model.Message) {
	var newest int64
	for _, m := range history {
		newest = max(newest, m.ID)
	}
	var carry []model.Message
	for _, m := range s.messages.Messages(chatID) {
		if m.Delivery == model.Confirmed && m.ID > newest {
			carry = append(carry, m)
		}
	}
	s.messages.LoadHistory(chatID, append(slices.Clone(history), carry...))
}

// acknowledge sends one read receipt for the newest inbound message of the
// chat. The server treats it as a read watermark for everything before it.
func (s *Session) acknowledge(chatID int64) {
	self := s.selfID.Load()
	msgs := s.messages.Messages(chatID)
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Delivery != model.Confirmed || m.SenderID == self {
			continue
		}
		if _, read := m.ReadBy[self]; read {
			return
		}
		ctx, cancel := context.WithTimeout(s.ctx, s.opts.SendTimeout)
		err := s.link.Send(ctx, frame.NewReadReceipt(m.ID))
		cancel()
		if err != nil {
			s.logger.Debug("read receipt not sent", zap.Int64("message_id", m.ID), zap.Error(err))
			return
		}
		s.messages.MarkReadUpTo(chatID, self, m.ID, s.opts.Now())
		return
	}
}

// SendMessage appends an optimistic entry, promotes the chat and sends the
// message. The returned handle identifies the entry until it is confirmed.
func (s *Session) SendMessage(ctx context.Context, chatID int64, content string) (conversation.Handle, error) {
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyMessage
	}
	var h conversation.Handle
	err := s.run(ctx, func() {
		s.ensureChat(chatID)
		h = s.messages.AppendOptimistic(conversation.Draft{
			ChatID:   chatID,
			SenderID: s.selfID.Load(),
			Content:  content,
		})
		s.chats.Promote(chatID)
	})
	if err != nil {
		return "", err
	}

	if s.opts.SendVia == SendViaHTTP {
		msg, sendErr := s.backend.SendMessage(ctx, chatID, content)
		if err := s.run(context.WithoutCancel(ctx), func() {
			if sendErr != nil {
				s.messages.Fail(h, sendErr)
				return
			}
			s.messages.Confirm(h, msg)
		}); err != nil {
			return h, err
		}
		return h, sendErr
	}

	// Socket path: the server echoes the message as new_message with our client id.
	if sendErr := s.link.Send(ctx, frame.NewSendMessage(string(h), chatID, content)); sendErr != nil {
		s.post(func() { s.messages.Fail(h, sendErr) })
		return h, sendErr
	}
	return h, nil
}

// SetTyping tells the server whether the user is typing in chatID.
func (s *Session) SetTyping(ctx context.Context, chatID int64, isTyping bool) error {
	return s.link.Send(ctx, frame.NewTyping(chatID, isTyping))
}

// CreateChat opens a 1:1 chat with otherUserID and moves it to the top of the list.
func (s *Session) CreateChat(ctx context.Context, otherUserID int64) (model.Chat, error) {
	if otherUserID == s.selfID.Load() {
		return model.Chat{}, fmt.Errorf("create chat with yourself: %w", errs.ErrConflict)
	}
	chat, err := s.backend.CreateChat(ctx, otherUserID)
	if err != nil {
		return model.Chat{}, err
	}
	err = s.run(ctx, func() {
		s.chats.Upsert(chat)
		s.chats.Promote(chat.ID)
	})
	return chat, err
}

// SearchUsers queries the server. Results are remembered for chat naming.
func (s *Session) SearchUsers(ctx context.Context, query string) ([]model.User, error) {
	users, err := s.backend.SearchUsers(ctx, query)
	if err != nil {
		return nil, err
	}
	s.rememberUsers(users...)
	return users, nil
}

// ReadStatus fetches who has read a message and merges it into the local log.
func (s *Session) ReadStatus(ctx context.Context, messageID int64) ([]model.ReadStatus, error) {
	reads, err := s.backend.ReadStatus(ctx, messageID)
	if err != nil {
		return nil, err
	}
	err = s.run(ctx, func() {
		for _, r := range reads {
			s.messages.MarkRead(messageID, r.ReaderID, r.ReadAt)
		}
	})
	return reads, err
}

// Self returns the logged-in user, zero before Start.
func (s *Session) Self() model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.self
}

// ActiveChat returns the selected chat id, 0 when none.
func (s *Session) ActiveChat() int64 { return s.active.Load() }

// State is the realtime link state.
func (s *Session) State() status.State { return s.link.State() }

// ChatList, Conversation and Presence expose the stores for reading snapshots.
func (s *Session) ChatList() *chatlist.List { return s.chats }

func (s *Session) Conversation() *conversation.Store { return s.messages }

func (s *Session) Presence() *presence.Signal { return s.presence }

// ChatName returns the display name of a chat.
func (s *Session) ChatName(chatID int64) string { return s.chatName(chatID) }

// UserName returns the username of a known user, or "User #id".
func (s *Session) UserName(userID int64) string {
	if name, ok := s.userName(userID); ok {
		return name
	}
	return fmt.Sprintf("User #%d", userID)
}

func (s *Session) chatName(chatID int64) string {
	return s.chats.DisplayName(chatID, s.selfID.Load(), s.userName)
}

func (s *Session) userName(userID int64) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok || u.Username == "" {
		return "", false
	}
	return u.Username, true
}

func (s *Session) rememberUsers(users ...model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range users {
		s.users[u.ID] = u
	}
}

// ensureChat adds a placeholder for a chat the list does not know yet and
// fetches its details in the background.
func (s *Session) ensureChat(chatID int64) {
	if _, ok := s.chats.Get(chatID); ok {
		return
	}
	s.chats.Upsert(model.Chat{ID: chatID})
	go s.fillChat(chatID)
}

func (s *Session) fillChat(chatID int64) {
	chats, err := s.backend.Chats(s.ctx)
	if err != nil {
		s.logger.Debug("chat details not loaded", zap.Int64("chat_id", chatID), zap.Error(err))
		return
	}
	for _, c := range chats {
		if c.ID == chatID {
			s.post(func() { s.chats.Upsert(c) })
			return
		}
	}
}

// watchReconnects reloads the active chat after every reconnect, since
// frames pushed while the link was down are lost.
func (s *Session) watchReconnects(ch <-chan bus.Event, unsub func()) {
	defer unsub()
	connects := 0
	for {
		select {
		case <-ch:
			connects++
			if connects == 1 {
				continue
			}
			var chatID int64
			var gen uint64
			if err := s.run(s.ctx, func() {
				chatID, gen = s.active.Load(), s.generation
			}); err != nil {
				return
			}
			if chatID == 0 {
				continue
			}
			if err := s.loadHistory(s.ctx, chatID, gen); err != nil && !errors.Is(err, ErrSuperseded) {
				s.logger.Warn("resync after reconnect failed", zap.Int64("chat_id", chatID), zap.Error(err))
			}
		case <-s.quit:
			return
		}
	}
}

func (s *Session) loop() {
	defer close(s.loopDone)
	for {
		select {
		case fn := <-s.ops:
			s.exec(fn)
		case <-s.quit:
			return
		}
	}
}

func (s *Session) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panic", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}

// run executes fn on the event loop and waits for it. Never call it from the loop.
func (s *Session) run(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}
	select {
	case s.ops <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.quit:
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.quit:
		return ErrStopped
	}
}

// post queues fn without waiting.
func (s *Session) post(fn func()) {
	select {
	case s.ops <- fn:
	case <-s.quit:
	}
}
