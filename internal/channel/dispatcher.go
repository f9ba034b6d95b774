package channel

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
)

// Dispatcher runs each inbound item on its own goroutine so one slow chat
// never blocks another. Panics are recovered and logged.
type Dispatcher struct {
	handler  Handler
	logger   *slog.Logger
	inflight atomic.Int64
}

func NewDispatcher(log *slog.Logger, handler Handler) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{handler: handler, logger: log.With(slog.String("component", "dispatcher"))}
}

func (d *Dispatcher) HandleMessage(ctx context.Context, msg InboundMessage) {
	d.spawn("message", msg.Sender.ChatID, func() { d.handler.HandleMessage(ctx, msg) })
}

func (d *Dispatcher) HandleCallback(ctx context.Context, cb Callback) {
	d.spawn("callback", cb.Sender.ChatID, func() { d.handler.HandleCallback(ctx, cb) })
}

// InFlight is the number of items currently being handled.
func (d *Dispatcher) InFlight() int64 { return d.inflight.Load() }

func (d *Dispatcher) spawn(kind, chatID string, fn func()) {
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("inbound handler panic",
					slog.String("kind", kind),
					slog.String("chat_id", chatID),
					slog.String("panic", fmt.Sprint(r)),
					slog.String("stack", string(debug.Stack())),
				)
			}
		}()
		fn()
	}()
}
