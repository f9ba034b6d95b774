package executor

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/memohai/relay/internal/channel"
)

const statusCleanupTimeout = 10 * time.Second

// Status is a transient status message. Updates are throttled to one per
// interval; every method is best-effort and never returns transport errors.
type Status struct {
	transport channel.StatusTransport
	chatID    string
	logger    *slog.Logger
	limiter   *rate.Limiter

	mu        sync.Mutex
	messageID string
	last      string
	closed    bool
}

// OpenStatus posts text as a new status message. A failed post is logged and
// yields a Status whose methods do nothing.
func OpenStatus(ctx context.Context, log *slog.Logger, transport channel.StatusTransport, chatID, threadID, text string, interval time.Duration) *Status {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	s := &Status{
		transport: transport,
		chatID:    chatID,
		logger:    log,
		limiter:   rate.NewLimiter(rate.Every(interval), 1),
	}
	id, err := transport.SendText(ctx, chatID, text, channel.SendOptions{ThreadID: threadID})
	if err != nil {
		log.Warn("status message create failed", slog.String("chat_id", chatID), slog.Any("error", err))
		return s
	}
	s.limiter.Allow()
	s.messageID = id
	s.last = text
	return s
}

func (s *Status) MessageID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messageID
}

// Update edits the message unless the text is unchanged or an edit went out
// less than one interval ago.
func (s *Status) Update(ctx context.Context, text string) {
	s.edit(ctx, text, false)
}

// Force edits the message regardless of the throttle.
func (s *Status) Force(ctx context.Context, text string) {
	s.edit(ctx, text, true)
}

func (s *Status) edit(ctx context.Context, text string, force bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.messageID == "" || strings.TrimSpace(text) == "" || text == s.last {
		return
	}
	if !force && !s.limiter.Allow() {
		return
	}
	if err := s.transport.EditText(ctx, s.chatID, s.messageID, text); err != nil {
		s.logger.Debug("status message edit failed", slog.String("chat_id", s.chatID), slog.Any("error", err))
		return
	}
	s.last = text
}

// Close deletes the message. It runs even when ctx is already cancelled.
func (s *Status) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	messageID := s.messageID
	s.mu.Unlock()
	if messageID == "" {
		return
	}
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusCleanupTimeout)
	defer cancel()
	if err := s.transport.Delete(cleanupCtx, s.chatID, messageID); err != nil {
		s.logger.Warn("status message delete failed", slog.String("chat_id", s.chatID), slog.String("message_id", messageID), slog.Any("error", err))
	}
}
