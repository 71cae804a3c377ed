// Package conn owns the single realtime socket of a session: connect,
// heartbeat, reconnect with backoff, and frame send/receive.
package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/errs"
	"github.com/matheus3301/chatsync/internal/frame"
	"github.com/matheus3301/chatsync/internal/status"
	"go.uber.org/zap"
)

// Close codes the server uses to reject a token.
const (
	closeAuthFailed    websocket.StatusCode = 4001
	closeAuthForbidden websocket.StatusCode = 4003
)

// socketReadLimit caps a single message at the websocket layer. Past it the
// library closes the link; below it, frames over MaxFrameBytes are drained and
// dropped one at a time.
const socketReadLimit = 64 << 20

// Dispatcher receives every inbound frame not handled by the manager itself.
type Dispatcher interface {
	Dispatch(frame.Frame)
}

// TokenSource returns the current session token. It is called on every
// connection attempt so a refreshed token is picked up by the next reconnect.
type TokenSource func() string

// Options configures a Manager.
type Options struct {
	URL               string
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	HeartbeatInterval time.Duration // zero disables heartbeats
	MaxFrameBytes     int64         // larger frames are dropped, default 1 MiB
	HTTPClient        *http.Client
}

func (o *Options) defaults() {
	if o.BaseDelay <= 0 {
		o.BaseDelay = 3 * time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = 1 << 20
	}
}

// Manager is the sole owner of the realtime socket.
type Manager struct {
	opts    Options
	tokens  TokenSource
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	dispatcher Dispatcher
	backoff    *Backoff
	cancel     context.CancelFunc
	done       chan struct{}
}

// New creates a manager in the disconnected state.
func New(opts Options, tokens TokenSource, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *Manager {
	opts.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if machine == nil {
		machine = status.NewMachine(b)
	}
	return &Manager{
		opts:    opts,
		tokens:  tokens,
		machine: machine,
		bus:     b,
		logger:  logger.Named("conn"),
		backoff: NewBackoff(opts.BaseDelay, opts.MaxDelay),
	}
}

// RegisterDispatcher sets the receiver of forwarded frames. Call before Open.
func (m *Manager) RegisterDispatcher(d Dispatcher) {
	m.mu.Lock()
	m.dispatcher = d
	m.mu.Unlock()
}

// State returns the current link state.
func (m *Manager) State() status.State {
	return m.machine.Current()
}

// Open starts connecting in the background and returns immediately. Failures
// are not returned: the manager moves to reconnecting and retries until Close
// is called or the token is rejected. Any previous link is torn down first.
func (m *Manager) Open(ctx context.Context) {
	m.stop()
	m.machine.Reset()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.mu.Lock()
	m.cancel = cancel
	m.done = done
	m.backoff.Reset()
	m.mu.Unlock()

	go func() {
		defer close(done)
		m.run(ctx)
	}()
}

// Close tears down the link, cancels any pending reconnect and moves to
// disconnected. Safe to call more than once.
func (m *Manager) Close() {
	m.stop()
	if m.machine.Reset() {
		m.bus.Emit(bus.ConnDisconnected, nil)
	}
}

func (m *Manager) stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	// Cancelling the read context closes the socket; run exits without
	// scheduling a retry.
	cancel()
	<-done
}

// Send writes one frame. It fails with errs.ErrNotConnected unless the link is open;
// nothing is buffered for later delivery.
func (m *Manager) Send(ctx context.Context, out frame.Outbound) error {
	m.mu.Lock()
	c := m.conn
	m.mu.Unlock()
	if c == nil || m.machine.Current() != status.Open {
		return errs.ErrNotConnected
	}
	return m.write(ctx, c, out)
}

func (m *Manager) write(ctx context.Context, c *websocket.Conn, out frame.Outbound) error {
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", out.Type, err)
	}
	if err := c.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write %s frame: %w", out.Type, err)
	}
	return nil
}

func (m *Manager) run(ctx context.Context) {
	for {
		err := m.connectOnce(ctx)
		if ctx.Err() != nil {
			return
		}

		if errors.Is(err, errs.ErrAuthRejected) {
			m.logger.Warn("token rejected, not reconnecting", zap.Error(err))
			m.machine.Reset()
			m.bus.Emit(bus.ConnAuthRejected, err)
			return
		}

		m.mu.Lock()
		delay := m.backoff.Next()
		attempt := m.backoff.Attempt()
		m.mu.Unlock()

		m.logger.Info("realtime link lost, reconnecting",
			zap.Error(err), zap.Int("attempt", attempt), zap.Duration("delay", delay))
		m.transition(status.Reconnecting)
		m.bus.Emit(bus.ConnReconnecting, bus.Reconnecting{Attempt: attempt, Delay: delay, Err: err})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// connectOnce dials, serves the link until it drops, and classifies the cause.
func (m *Manager) connectOnce(ctx context.Context) error {
	m.transition(status.Connecting)

	target, err := m.dialURL()
	if err != nil {
		return err
	}
	c, resp, err := websocket.Dial(ctx, target, &websocket.DialOptions{HTTPClient: m.opts.HTTPClient})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: dial returned http %d", errs.ErrAuthRejected, resp.StatusCode)
		}
		return fmt.Errorf("%w: dial: %v", errs.ErrTransientDisconnect, err)
	}
	c.SetReadLimit(max(socketReadLimit, m.opts.MaxFrameBytes+1))

	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		_ = c.CloseNow()
		return ctx.Err()
	}
	m.conn = c
	m.backoff.Reset()
	m.mu.Unlock()

	m.transition(status.Open)
	m.logger.Info("realtime link open")
	m.bus.Emit(bus.ConnConnected, nil)

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	if m.opts.HeartbeatInterval > 0 {
		go m.heartbeat(hbCtx, c)
	}

	err = m.readLoop(ctx, c)
	stopHeartbeat()

	m.mu.Lock()
	if m.conn == c {
		m.conn = nil
	}
	m.mu.Unlock()
	_ = c.CloseNow()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	cause := classify(err)
	if !errors.Is(cause, errs.ErrAuthRejected) {
		m.bus.Emit(bus.ConnDisconnected, cause)
	}
	return cause
}

func (m *Manager) readLoop(ctx context.Context, c *websocket.Conn) error {
	for {
		data, err := m.readFrame(ctx, c)
		if errors.Is(err, errs.ErrMalformedFrame) {
			m.logger.Warn("dropping oversized frame", zap.Error(err))
			continue
		}
		if err != nil {
			return err
		}

		f, err := frame.Decode(data)
		if err != nil {
			m.logger.Warn("dropping malformed frame", zap.Error(err), zap.Int("bytes", len(data)))
			continue
		}

		switch f.(type) {
		case frame.ConnectionEstablished:
			m.logger.Debug("connection established")
			continue
		case frame.Ping:
			if err := m.write(ctx, c, frame.NewPong()); err != nil {
				return err
			}
			continue
		case frame.Pong:
			continue
		}

		m.mu.Lock()
		d := m.dispatcher
		m.mu.Unlock()
		if d != nil {
			d.Dispatch(f)
		}
	}
}

// readFrame reads one message. A message over MaxFrameBytes is drained and
// reported as ErrMalformedFrame, leaving the link usable.
func (m *Manager) readFrame(ctx context.Context, c *websocket.Conn) ([]byte, error) {
	_, r, err := c.Reader(ctx)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(r, m.opts.MaxFrameBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) <= m.opts.MaxFrameBytes {
		return data, nil
	}
	rest, err := io.Copy(io.Discard, r)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %d bytes, limit %d", errs.ErrMalformedFrame, int64(len(data))+rest, m.opts.MaxFrameBytes)
}

func (m *Manager) heartbeat(ctx context.Context, c *websocket.Conn) {
	ticker := time.NewTicker(m.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, m.opts.HeartbeatInterval)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil && ctx.Err() == nil {
				m.logger.Warn("heartbeat failed, dropping link", zap.Error(err))
				_ = c.CloseNow()
				return
			}
		}
	}
}

func (m *Manager) dialURL() (string, error) {
	u, err := url.Parse(m.opts.URL)
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	q := u.Query()
	if m.tokens != nil {
		if token := m.tokens(); token != "" {
			q.Set("token", token)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (m *Manager) transition(to status.State) {
	if err := m.machine.Transition(to); err != nil {
		m.logger.Debug("state transition skipped", zap.Error(err))
	}
}

func classify(err error) error {
	switch websocket.CloseStatus(err) {
	case websocket.StatusPolicyViolation, closeAuthFailed, closeAuthForbidden:
		return fmt.Errorf("%w: %v", errs.ErrAuthRejected, err)
	}
	return fmt.Errorf("%w: %v", errs.ErrTransientDisconnect, err)
}
