package syncbridge

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/memohai/relay/internal/backend"
)

type eventQueue struct {
	pending []backend.Event
}

// Dispatch hands evt to the worker of its conversation and returns at once.
// Events of one conversation are handled in arrival order; different
// conversations proceed concurrently. Events without a conversation id are
// handled inline.
func (b *Bridge) Dispatch(ctx context.Context, evt backend.Event) {
	id := evt.SessionID()
	if id == "" {
		b.HandleEvent(ctx, evt)
		return
	}
	b.qmu.Lock()
	q, running := b.queues[id]
	if !running {
		q = &eventQueue{}
		b.queues[id] = q
	}
	q.pending = append(q.pending, evt)
	b.qmu.Unlock()
	if running {
		return
	}
	b.inflight.Add(1)
	go b.drain(ctx, id, q)
}

// Wait blocks until every dispatched event has been handled.
func (b *Bridge) Wait() {
	b.inflight.Wait()
}

func (b *Bridge) drain(ctx context.Context, id string, q *eventQueue) {
	defer b.inflight.Done()
	for {
		b.qmu.Lock()
		if len(q.pending) == 0 {
			delete(b.queues, id)
			b.qmu.Unlock()
			return
		}
		evt := q.pending[0]
		q.pending = q.pending[1:]
		b.qmu.Unlock()
		b.handleSafely(ctx, evt)
	}
}

func (b *Bridge) handleSafely(ctx context.Context, evt backend.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panic",
				slog.String("type", evt.Type),
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	b.HandleEvent(ctx, evt)
}
