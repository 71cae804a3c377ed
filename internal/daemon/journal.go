package daemon

import (
	"context"
	"sync"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/notify"
	"github.com/matheus3301/chatsync/internal/status"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Journal writes a log line for every connection change and notification the
// engine publishes. It is the daemon's only renderer.
type Journal struct {
	bus    *bus.Bus
	logger *zap.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewJournal creates a journal bound to the fx lifecycle.
func NewJournal(lc fx.Lifecycle, b *bus.Bus, logger *zap.Logger) *Journal {
	j := &Journal{bus: b, logger: logger.Named("journal")}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			j.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			j.Stop()
			return nil
		},
	})
	return j
}

// Start subscribes to the bus. Events published before Start are not seen.
func (j *Journal) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel

	for _, prefix := range []string{"conn.", "notify."} {
		ch, unsub := j.bus.Subscribe(prefix, 64)
		j.wg.Add(1)
		go func() {
			defer j.wg.Done()
			defer unsub()
			for {
				select {
				case <-ctx.Done():
					return
				case evt := <-ch:
					j.record(evt)
				}
			}
		}()
	}
}

// Stop unsubscribes and waits for pending writes.
func (j *Journal) Stop() {
	if j.cancel == nil {
		return
	}
	j.cancel()
	j.wg.Wait()
	j.cancel = nil
}

func (j *Journal) record(evt bus.Event) {
	switch p := evt.Payload.(type) {
	case status.StatusChange:
		j.logger.Info("link state", zap.String("from", string(p.From)), zap.String("to", string(p.To)))
	case bus.Reconnecting:
		j.logger.Warn("reconnecting",
			zap.Int("attempt", p.Attempt),
			zap.Duration("delay", p.Delay),
			zap.Error(p.Err),
		)
	case notify.Decision:
		fields := []zap.Field{
			zap.Int64("chat_id", p.ChatID),
			zap.Int64("message_id", p.MessageID),
			zap.Int64("sender_id", p.SenderID),
			zap.String("preview", p.Preview),
		}
		if p.Kind == notify.OutOfBand {
			j.logger.Info("new message", append(fields, zap.String("chat", p.ChatName))...)
		} else {
			j.logger.Info("new message in active chat", append(fields, zap.Bool("receipt_sent", p.ReceiptSent))...)
		}
	default:
		switch evt.Kind {
		case bus.ConnAuthRejected:
			err, _ := p.(error)
			j.logger.Error("token rejected, link closed until a new token is set", zap.Error(err))
		case bus.ConnDisconnected:
			err, _ := p.(error)
			j.logger.Info("link dropped", zap.Error(err))
		case bus.NotifyNotification:
			j.logger.Info("server notification", zap.Any("message", p))
		case bus.NotifyServerError:
			j.logger.Warn("server error", zap.Any("message", p))
		default:
			j.logger.Debug("event", zap.String("kind", evt.Kind))
		}
	}
}
