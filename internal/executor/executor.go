// Package executor wraps one backend prompt with a live status message that
// is removed on every exit path.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/memohai/relay/internal/backend"
	"github.com/memohai/relay/internal/channel"
	"github.com/memohai/relay/internal/config"
	"github.com/memohai/relay/internal/session"
)

// Prompter submits a prompt and waits for the reply.
type Prompter interface {
	Prompt(ctx context.Context, sessionID string, req backend.PromptRequest) (backend.PromptResponse, error)
}

// Request is one backend call on behalf of a chat.
type Request struct {
	ChatID    string
	ThreadID  string
	SessionID string
	Parts     []backend.Part
	Model     session.ModelSelector
	// Label prefixes the status message, e.g. the media kind.
	Label string
}

// Options controls status message cadence and texts.
type Options struct {
	EditInterval   time.Duration
	Heartbeat      time.Duration
	TypingInterval time.Duration
	// ProcessingText is shown when the request starts.
	ProcessingText string
	// ElapsedText is rendered with {seconds} on each heartbeat.
	ElapsedText string
}

type Executor struct {
	prompter  Prompter
	transport channel.StatusTransport
	opts      Options
	logger    *slog.Logger
}

func New(log *slog.Logger, prompter Prompter, transport channel.StatusTransport, opts Options) *Executor {
	if log == nil {
		log = slog.Default()
	}
	if opts.EditInterval <= 0 {
		opts.EditInterval = 2 * time.Second
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 10 * time.Second
	}
	if opts.TypingInterval <= 0 {
		opts.TypingInterval = 4 * time.Second
	}
	if opts.ProcessingText == "" {
		opts.ProcessingText = "Processing..."
	}
	return &Executor{
		prompter:  prompter,
		transport: transport,
		opts:      opts,
		logger:    log.With(slog.String("service", "executor")),
	}
}

// Execute runs req. The status message is deleted before Execute returns.
// An error reported inside the response is returned as *backend.BackendError
// together with the response.
func (e *Executor) Execute(ctx context.Context, req Request) (backend.PromptResponse, error) {
	started := time.Now()
	status := OpenStatus(ctx, e.logger, e.transport, req.ChatID, req.ThreadID, e.statusText(req.Label, e.opts.ProcessingText), e.opts.EditInterval)
	defer status.Close(ctx)

	waitCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.keepAlive(waitCtx, req, status, started)
	}()

	resp, err := e.prompter.Prompt(ctx, req.SessionID, backend.PromptRequest{
		Parts: req.Parts,
		Model: req.Model.Ref(),
	})
	stop()
	<-done

	logAttrs := []any{
		slog.String("chat_id", req.ChatID),
		slog.String("session_id", req.SessionID),
		slog.String("model", req.Model.String()),
		slog.Duration("took", time.Since(started)),
	}
	if err != nil {
		e.logger.Error("prompt failed", append(logAttrs, slog.Any("error", err))...)
		return resp, fmt.Errorf("prompt: %w", err)
	}
	if be := backend.ParseBackendError(resp.Info.Error); be != nil {
		e.logger.Warn("backend reported error", append(logAttrs, slog.String("error_name", be.Name))...)
		return resp, be
	}
	e.logger.Info("prompt completed", logAttrs...)
	return resp, nil
}

func (e *Executor) keepAlive(ctx context.Context, req Request, status *Status, started time.Time) {
	e.typing(ctx, req.ChatID)
	typing := time.NewTicker(e.opts.TypingInterval)
	defer typing.Stop()
	heartbeat := time.NewTicker(e.opts.Heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-typing.C:
			e.typing(ctx, req.ChatID)
		case <-heartbeat.C:
			if e.opts.ElapsedText == "" {
				continue
			}
			seconds := strconv.Itoa(int(time.Since(started).Seconds()))
			status.Update(ctx, e.statusText(req.Label, config.Render(e.opts.ElapsedText, map[string]string{"seconds": seconds})))
		}
	}
}

func (e *Executor) typing(ctx context.Context, chatID string) {
	if err := e.transport.SendTyping(ctx, chatID); err != nil && ctx.Err() == nil {
		e.logger.Debug("typing indicator failed", slog.String("chat_id", chatID), slog.Any("error", err))
	}
}

func (e *Executor) statusText(label, text string) string {
	if label == "" {
		return text
	}
	return label + "\n" + text
}
