// Package api is the REST client for the chat server's request/response
// endpoints: profile, chat list, history, chat creation, user search and read status.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/c-pro/geche"
	"github.com/matheus3301/chatsync/internal/errs"
	"github.com/matheus3301/chatsync/internal/frame"
	"github.com/matheus3301/chatsync/internal/model"
	"go.uber.org/zap"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultUserCacheTTL = 60 * time.Second
	// DefaultHistoryLimit matches the server's page size.
	DefaultHistoryLimit = 50
)

// Client talks to the REST API with a bearer token read on every request.
type Client struct {
	baseURL      string
	token        func() string
	httpClient   *http.Client
	historyLimit int
	cacheTTL     time.Duration
	users        geche.Geche[string, model.User] // keyed by token
	logger       *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithHistoryLimit sets how many messages History asks for.
func WithHistoryLimit(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.historyLimit = n
		}
	}
}

// WithUserCacheTTL sets how long the current user profile is cached.
func WithUserCacheTTL(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.cacheTTL = d
		}
	}
}

// WithLogger sets the client's logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client. ctx bounds the lifetime of the profile cache's cleanup goroutine.
func New(ctx context.Context, baseURL string, token func() string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		token:        token,
		httpClient:   &http.Client{Timeout: DefaultTimeout},
		historyLimit: DefaultHistoryLimit,
		cacheTTL:     DefaultUserCacheTTL,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.users = geche.NewMapTTLCache[string, model.User](ctx, c.cacheTTL, c.cacheTTL)
	c.logger = c.logger.Named("api")
	return c
}

// CurrentUser returns the profile of the token's owner.
func (c *Client) CurrentUser(ctx context.Context) (model.User, error) {
	tok := c.currentToken()
	if u, err := c.users.Get(tok); err == nil {
		return u, nil
	}
	var p frame.UserPayload
	if err := c.do(ctx, http.MethodGet, "/users/me", nil, nil, &p); err != nil {
		return model.User{}, fmt.Errorf("fetch current user: %w", err)
	}
	u := p.Model()
	c.users.Set(tok, u)
	return u, nil
}

// Chats returns the user's chats in server order.
func (c *Client) Chats(ctx context.Context) ([]model.Chat, error) {
	var ps []frame.ChatPayload
	if err := c.do(ctx, http.MethodGet, "/chats/", nil, nil, &ps); err != nil {
		return nil, fmt.Errorf("fetch chats: %w", err)
	}
	out := make([]model.Chat, len(ps))
	for i, p := range ps {
		out[i] = p.Model()
	}
	return out, nil
}

// History returns the latest messages of a chat, newest first.
func (c *Client) History(ctx context.Context, chatID int64) ([]model.Message, error) {
	q := url.Values{"limit": {strconv.Itoa(c.historyLimit)}}
	var ps []frame.MessagePayload
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/chats/%d/messages", chatID), q, nil, &ps); err != nil {
		return nil, fmt.Errorf("fetch history of chat %d: %w", chatID, err)
	}
	return messages(ps), nil
}

type createChatRequest struct {
	SecondUserID int64 `json:"second_user_id"`
	IsGroup      bool  `json:"is_group"`
}

// CreateChat opens (or returns the existing) 1:1 chat with otherUserID.
func (c *Client) CreateChat(ctx context.Context, otherUserID int64) (model.Chat, error) {
	var p frame.ChatPayload
	err := c.do(ctx, http.MethodPost, "/chats/", nil, createChatRequest{SecondUserID: otherUserID}, &p)
	if err != nil {
		// The server answers 400 for a chat with oneself.
		if errs.Status(err) == http.StatusBadRequest {
			return model.Chat{}, fmt.Errorf("create chat with %d: %w: %w", otherUserID, errs.ErrConflict, err)
		}
		return model.Chat{}, fmt.Errorf("create chat with %d: %w", otherUserID, err)
	}
	return p.Model(), nil
}

// SearchUsers looks users up by name.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]model.User, error) {
	var ps []frame.UserPayload
	if err := c.do(ctx, http.MethodGet, "/users/search", url.Values{"q": {query}}, nil, &ps); err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	out := make([]model.User, len(ps))
	for i, p := range ps {
		out[i] = p.Model()
	}
	return out, nil
}

// ReadStatus lists who has read messageID and when.
func (c *Client) ReadStatus(ctx context.Context, messageID int64) ([]model.ReadStatus, error) {
	var ps []frame.ReadStatusPayload
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/messages/%d/reads", messageID), nil, nil, &ps); err != nil {
		return nil, fmt.Errorf("fetch read status of message %d: %w", messageID, err)
	}
	out := make([]model.ReadStatus, len(ps))
	for i, p := range ps {
		out[i] = p.Model()
	}
	return out, nil
}

type sendMessageRequest struct {
	ChatID  int64  `json:"chat_id"`
	Content string `json:"content"`
}

// SendMessage posts a message and returns the server's copy.
func (c *Client) SendMessage(ctx context.Context, chatID int64, content string) (model.Message, error) {
	var p frame.MessagePayload
	body := sendMessageRequest{ChatID: chatID, Content: content}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/chats/%d/messages", chatID), nil, body, &p); err != nil {
		return model.Message{}, fmt.Errorf("send message to chat %d: %w", chatID, err)
	}
	return p.Model(), nil
}

func (c *Client) currentToken() string {
	if c.token == nil {
		return ""
	}
	return c.token()
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.currentToken(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug("request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &errs.HTTPError{Status: resp.StatusCode, Body: detail(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// detail extracts the "detail" field of an error body, falling back to the raw text.
func detail(data []byte) string {
	var body struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Detail != nil {
		if s, ok := body.Detail.(string); ok {
			return s
		}
		b, _ := json.Marshal(body.Detail)
		return string(b)
	}
	return strings.TrimSpace(string(data))
}

func messages(ps []frame.MessagePayload) []model.Message {
	out := make([]model.Message, len(ps))
	for i, p := range ps {
		out[i] = p.Model()
	}
	return out
}
