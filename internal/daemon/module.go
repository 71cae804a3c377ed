// Package daemon wires one chat session into an fx application: config,
// logging, the session lock, the REST client, the realtime link and the sync
// engine, plus a journal that records what the engine publishes.
package daemon

import (
	"context"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/conn"
	"github.com/matheus3301/chatsync/internal/engine"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/presence"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/matheus3301/chatsync/internal/status"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session passed to the fx module.
type Params struct {
	SessionName string
	Config      *config.Config // nil means defaults only
	// Console mirrors logs to stderr. Off when a full-screen UI owns the terminal.
	Console bool
}

// Module returns the fx module for one session, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideProfile,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideTokens,
			provideLink,
			provideBackend,
			provideSession,
			NewJournal,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideProfile(p Params) (config.Profile, error) {
	prof := p.Config.Profile(p.SessionName)
	if err := prof.Validate(); err != nil {
		return config.Profile{}, err
	}
	return prof, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	var level string
	if p.Config != nil {
		level = p.Config.LogLevel
	}
	return logging.New(session.LogPath(p.SessionName), p.SessionName, logging.Options{
		Level:   level,
		Console: p.Console,
	})
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(lc fx.Lifecycle, p Params, prof config.Profile, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.LockPath(p.SessionName), prof.WSURL)
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	lc.Append(fx.StopHook(func() {
		if err := l.Release(); err != nil {
			logger.Warn("error releasing lock", zap.Error(err))
		}
	}))
	return l, nil
}

// provideTokens fails fast when the session has no token yet. Later reads go
// through the source so a rewritten token is picked up on reconnect.
func provideTokens(p Params) (conn.TokenSource, error) {
	if _, err := session.Token(p.SessionName); err != nil {
		return nil, err
	}
	return session.TokenSource(p.SessionName), nil
}

func provideLink(prof config.Profile, tokens conn.TokenSource, m *status.Machine, b *bus.Bus, logger *zap.Logger) *conn.Manager {
	return conn.New(conn.Options{
		URL:               prof.WSURL,
		BaseDelay:         prof.ReconnectBaseDelay.Duration,
		MaxDelay:          prof.ReconnectMaxDelay.Duration,
		HeartbeatInterval: prof.HeartbeatInterval.Duration,
	}, tokens, m, b, logger)
}

func provideBackend(lc fx.Lifecycle, prof config.Profile, tokens conn.TokenSource, logger *zap.Logger) *api.Client {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.StopHook(cancel))
	return api.New(ctx, prof.APIURL, tokens,
		api.WithTimeout(prof.RequestTimeout.Duration),
		api.WithHistoryLimit(prof.HistoryLimit),
		api.WithUserCacheTTL(prof.UserCacheTTL.Duration),
		api.WithLogger(logger),
	)
}

func provideSession(prof config.Profile, backend *api.Client, link *conn.Manager, b *bus.Bus, logger *zap.Logger) *engine.Session {
	return engine.New(backend, link, b, logger, engine.Options{
		SendVia:   prof.SendVia,
		TypingTTL: prof.TypingTTL.Duration,
	})
}

func registerLifecycle(lc fx.Lifecycle, prof config.Profile, _ *lock.Lock, _ *Journal, s *engine.Session, logger *zap.Logger) {
	sw := newSweeper(s.Presence(), prof.TypingTTL.Duration)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := s.Start(ctx); err != nil {
				// The link was never opened; stop the event loop.
				s.Stop()
				return err
			}
			sw.Start()
			logger.Info("session daemon running",
				zap.String("api", prof.APIURL),
				zap.String("ws", prof.WSURL),
				zap.String("send_via", prof.SendVia),
			)
			return nil
		},
		OnStop: func(context.Context) error {
			sw.Stop()
			s.Stop()
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// sweeper drops expired typing signals so renderers see them go away.
type sweeper struct {
	presence *presence.Signal
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

func newSweeper(p *presence.Signal, ttl time.Duration) *sweeper {
	if ttl <= 0 {
		ttl = presence.DefaultTTL
	}
	return &sweeper{
		presence: p,
		interval: ttl / 2,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (w *sweeper) Start() {
	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.stop:
				return
			case <-ticker.C:
				w.presence.Sweep()
			}
		}
	}()
}

func (w *sweeper) Stop() {
	close(w.stop)
	<-w.done
}
