// Package gateway turns inbound chat items into backend prompts: it authorizes
// the sender, dispatches commands and callbacks, runs attachments through the
// media pipeline and hands the result to the executor and delivery.
package gateway

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/relay/internal/auth"
	"github.com/memohai/relay/internal/backend"
	"github.com/memohai/relay/internal/channel"
	"github.com/memohai/relay/internal/config"
	"github.com/memohai/relay/internal/delivery"
	"github.com/memohai/relay/internal/executor"
	"github.com/memohai/relay/internal/media"
	"github.com/memohai/relay/internal/session"
)

// Authorizer decides whether a sender may be serviced.
type Authorizer interface {
	Authorize(userID string, sentAt time.Time) auth.Decision
}

// Bootstrapper records the first sender as owner.
type Bootstrapper interface {
	Apply(ctx context.Context, userID string) error
}

// SessionLister lists existing backend conversations.
type SessionLister interface {
	ListSessions(ctx context.Context) ([]backend.Session, error)
}

// MediaPipeline converts attachments into prompt parts.
type MediaPipeline interface {
	Run(ctx context.Context, src media.Source, progress media.ProgressFunc) ([]backend.Part, error)
	Voice(job media.Job) media.Source
	Photo(job media.Job) media.Source
	Video(job media.Job) media.Source
}

// Executor runs one prompt with a live status message.
type Executor interface {
	Execute(ctx context.Context, req executor.Request) (backend.PromptResponse, error)
}

// TopicCounter reports how many conversations are mirrored to topics.
type TopicCounter interface {
	TopicCount() int
}

// Deps are the collaborators of a Processor. Topics may be nil when sync is off.
type Deps struct {
	Auth      Authorizer
	Bootstrap Bootstrapper
	Sessions  *session.Registry
	Catalog   *session.Catalog
	Lister    SessionLister
	Media     MediaPipeline
	Executor  Executor
	Delivery  *delivery.Deliverer
	Transport channel.Transport
	Topics    TopicCounter
	Prompts   config.Prompts
	// AllowlistKey is named in the unauthorized reply.
	AllowlistKey string
	// EditInterval throttles media progress edits.
	EditInterval time.Duration
}

// Processor implements channel.Handler.
type Processor struct {
	Deps
	logger *slog.Logger
}

var _ channel.Handler = (*Processor)(nil)

func New(log *slog.Logger, deps Deps) *Processor {
	if log == nil {
		log = slog.Default()
	}
	if deps.EditInterval <= 0 {
		deps.EditInterval = 2 * time.Second
	}
	return &Processor{
		Deps:   deps,
		logger: log.With(slog.String("component", "gateway")),
	}
}

// HandleMessage services one inbound message end to end.
func (p *Processor) HandleMessage(ctx context.Context, msg channel.InboundMessage) {
	chatID := msg.Sender.ChatID
	log := p.logger.With(
		slog.String("request_id", uuid.NewString()),
		slog.String("chat_id", chatID),
		slog.String("user_id", msg.Sender.UserID),
	)
	if !p.admit(ctx, log, msg.Sender, msg.SentAt) {
		return
	}
	if name, args, ok := msg.Command(); ok && p.handleCommand(ctx, log, msg, name, args) {
		return
	}

	parts, label, err := p.buildParts(ctx, log, msg)
	if err != nil {
		p.reply(ctx, log, chatID, p.mediaErrorText(err))
		return
	}
	if len(parts) == 0 {
		log.Debug("nothing to send")
		return
	}
	p.prompt(ctx, log, chatID, parts, label)
}

// admit applies the authorization decision. It returns true only for
// Allowed; every other outcome has been handled when it returns.
func (p *Processor) admit(ctx context.Context, log *slog.Logger, who channel.Identity, sentAt time.Time) bool {
	decision := p.Auth.Authorize(who.UserID, sentAt)
	switch decision {
	case auth.DecisionAllowed:
		return true
	case auth.DecisionStale, auth.DecisionHalted:
		log.Debug("inbound dropped", slog.String("decision", decision.String()))
		return false
	case auth.DecisionRejected:
		log.Info("unauthorized sender")
		p.reply(ctx, log, who.ChatID, config.Render(p.Prompts.Unauthorized, map[string]string{
			"user_id": who.UserID,
			"key":     p.AllowlistKey,
		}))
		return false
	case auth.DecisionBootstrap:
		log.Info("bootstrapping owner")
		if p.Bootstrap != nil {
			if err := p.Bootstrap.Apply(ctx, who.UserID); err != nil {
				log.Error("bootstrap failed", slog.Any("error", err))
				p.reply(ctx, log, who.ChatID, p.errorText(err))
				return false
			}
		}
		p.reply(ctx, log, who.ChatID, config.Render(p.Prompts.BootstrapDone, map[string]string{"user_id": who.UserID}))
		return false
	default:
		log.Warn("unknown decision", slog.String("decision", decision.String()))
		return false
	}
}

// prompt resolves the chat's session and model, executes and delivers.
func (p *Processor) prompt(ctx context.Context, log *slog.Logger, chatID string, parts []backend.Part, label string) {
	sentBinary := backend.HasBinary(parts)
	sessionID, err := p.Sessions.GetOrCreateSession(ctx, chatID)
	if err != nil {
		log.Error("session unavailable", slog.Any("error", err))
		p.deliver(ctx, log, chatID, delivery.Outcome{Kind: delivery.OutcomeError, Err: err, SentBinary: sentBinary})
		return
	}
	resp, err := p.Executor.Execute(ctx, executor.Request{
		ChatID:    chatID,
		SessionID: sessionID,
		Parts:     parts,
		Model:     p.Sessions.GetModel(chatID),
		Label:     label,
	})
	p.deliver(ctx, log, chatID, delivery.FromResponse(resp, err, sentBinary))
}

func (p *Processor) deliver(ctx context.Context, log *slog.Logger, chatID string, out delivery.Outcome) {
	if err := p.Delivery.Deliver(ctx, chatID, channel.SendOptions{}, out); err != nil {
		log.Warn("delivery incomplete", slog.Any("error", err))
	}
}

func (p *Processor) reply(ctx context.Context, log *slog.Logger, chatID, text string) {
	p.replyWith(ctx, log, chatID, text, nil)
}

func (p *Processor) replyWith(ctx context.Context, log *slog.Logger, chatID, text string, kb channel.Keyboard) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if err := p.Delivery.SendChunks(ctx, chatID, text, channel.SendOptions{Keyboard: kb}); err != nil {
		log.Warn("reply failed", slog.Any("error", err))
	}
}
