package gateway

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/memohai/relay/internal/backend"
	"github.com/memohai/relay/internal/channel"
	"github.com/memohai/relay/internal/config"
	"github.com/memohai/relay/internal/session"
)

const (
	// CallbackSessionPrefix marks /sessions picker buttons.
	CallbackSessionPrefix = "session:"

	maxSessionButtons = 10
	maxModelButtons   = 100
)

// handleCommand runs a bot command. It returns false for commands the
// gateway does not own; those go to the backend as plain text.
func (p *Processor) handleCommand(ctx context.Context, log *slog.Logger, msg channel.InboundMessage, name, args string) bool {
	chatID := msg.Sender.ChatID
	switch name {
	case "start":
		p.reply(ctx, log, chatID, p.Prompts.Welcome)
	case "help":
		p.reply(ctx, log, chatID, p.Prompts.Help)
	case "new":
		p.cmdNew(ctx, log, chatID)
	case "sessions":
		p.cmdSessions(ctx, log, chatID)
	case "model":
		p.cmdModel(ctx, log, chatID, args)
	case "models":
		p.cmdModels(ctx, log, chatID)
	case "status":
		p.cmdStatus(ctx, log, chatID)
	default:
		return false
	}
	log.Info("command handled", slog.String("command", name))
	return true
}

func (p *Processor) cmdNew(ctx context.Context, log *slog.Logger, chatID string) {
	sessionID, err := p.Sessions.ResetSession(ctx, chatID)
	if err != nil {
		log.Error("reset session failed", slog.Any("error", err))
		p.reply(ctx, log, chatID, p.errorText(err))
		return
	}
	p.reply(ctx, log, chatID, config.Render(p.Prompts.NewSession, map[string]string{"session": sessionID}))
}

func (p *Processor) cmdSessions(ctx context.Context, log *slog.Logger, chatID string) {
	if p.Lister == nil {
		return
	}
	sessions, err := p.Lister.ListSessions(ctx)
	if err != nil {
		log.Error("list sessions failed", slog.Any("error", err))
		p.reply(ctx, log, chatID, p.errorText(err))
		return
	}
	p.replyWith(ctx, log, chatID, p.Prompts.SessionsHeader, sessionKeyboard(sessions, p.Sessions.Snapshot(chatID).SessionID))
}

// sessionKeyboard lists the most recently updated sessions, one per row.
func sessionKeyboard(sessions []backend.Session, current string) channel.Keyboard {
	sorted := make([]backend.Session, len(sessions))
	copy(sorted, sessions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time.Updated > sorted[j].Time.Updated
	})
	kb := make(channel.Keyboard, 0, maxSessionButtons)
	for _, s := range sorted {
		if len(kb) == maxSessionButtons {
			break
		}
		data := CallbackSessionPrefix + s.ID
		if s.ID == "" || len(data) > session.CallbackLimit {
			continue
		}
		label := strings.TrimSpace(s.Title)
		if label == "" {
			label = s.ID
		}
		if s.ID == current {
			label = "✓ " + label
		}
		kb = append(kb, []channel.Button{{Text: label, Data: data}})
	}
	return kb
}

func (p *Processor) cmdModel(ctx context.Context, log *slog.Logger, chatID, args string) {
	args = strings.TrimSpace(args)
	if args == "" {
		p.reply(ctx, log, chatID, config.Render(p.Prompts.ModelCurrent, map[string]string{
			"model": p.Sessions.GetModel(chatID).String(),
		}))
		return
	}
	sel, err := session.ParseModelSelector(args)
	if err != nil {
		p.reply(ctx, log, chatID, config.Render(p.Prompts.ModelUnknown, map[string]string{"model": args}))
		return
	}
	entry, ok := p.lookupModel(ctx, log, chatID, sel.String())
	if !ok {
		p.reply(ctx, log, chatID, config.Render(p.Prompts.ModelUnknown, map[string]string{"model": sel.String()}))
		return
	}
	p.Sessions.SetModel(chatID, entry.Model)
	p.reply(ctx, log, chatID, config.Render(p.Prompts.ModelSet, map[string]string{"model": entry.ID}))
}

func (p *Processor) cmdModels(ctx context.Context, log *slog.Logger, chatID string) {
	entries, err := p.Catalog.Refresh(ctx, chatID)
	if err != nil {
		log.Error("catalog refresh failed", slog.Any("error", err))
		p.reply(ctx, log, chatID, p.errorText(err))
		return
	}
	current := p.Sessions.GetModel(chatID).String()
	kb := make(channel.Keyboard, 0, len(entries))
	for _, e := range entries {
		if len(kb) == maxModelButtons {
			log.Warn("model keyboard truncated", slog.Int("models", len(entries)))
			break
		}
		label := strconv.Itoa(e.Index) + ". " + e.DisplayName
		if e.ID == current {
			label = "✓ " + label
		}
		kb = append(kb, []channel.Button{{Text: label, Data: p.Catalog.CallbackData(e.ID)}})
	}
	p.replyWith(ctx, log, chatID, p.Prompts.ModelsHeader, kb)
}

func (p *Processor) cmdStatus(ctx context.Context, log *slog.Logger, chatID string) {
	snap := p.Sessions.Snapshot(chatID)
	sessionID := snap.SessionID
	if sessionID == "" {
		sessionID = "none"
	}
	topics := "disabled"
	if p.Topics != nil {
		topics = strconv.Itoa(p.Topics.TopicCount())
	}
	p.reply(ctx, log, chatID, config.Render(p.Prompts.Status, map[string]string{
		"session": sessionID,
		"model":   snap.Model.String(),
		"topics":  topics,
	}))
}

// HandleCallback services one inline button press.
func (p *Processor) HandleCallback(ctx context.Context, cb channel.Callback) {
	chatID := cb.Sender.ChatID
	log := p.logger.With(
		slog.String("chat_id", chatID),
		slog.String("user_id", cb.Sender.UserID),
		slog.String("callback_id", cb.ID),
	)
	if !p.admit(ctx, log, cb.Sender, cb.SentAt) {
		p.answer(ctx, log, cb.ID, "")
		return
	}

	if sessionID, ok := strings.CutPrefix(cb.Data, CallbackSessionPrefix); ok {
		if err := p.Sessions.AttachSession(chatID, sessionID); err != nil {
			p.answer(ctx, log, cb.ID, err.Error())
			return
		}
		text := config.Render(p.Prompts.SessionSwitched, map[string]string{"session": sessionID})
		p.answer(ctx, log, cb.ID, "")
		p.reply(ctx, log, chatID, text)
		return
	}

	id, ok := p.Catalog.ResolveCallback(cb.Data)
	if !ok {
		log.Debug("unknown callback payload", slog.String("data", cb.Data))
		p.answer(ctx, log, cb.ID, "")
		return
	}
	entry, ok := p.lookupModel(ctx, log, chatID, id)
	if !ok {
		p.answer(ctx, log, cb.ID, config.Render(p.Prompts.ModelUnknown, map[string]string{"model": id}))
		return
	}
	p.Sessions.SetModel(chatID, entry.Model)
	text := config.Render(p.Prompts.ModelSet, map[string]string{"model": entry.ID})
	p.answer(ctx, log, cb.ID, text)
	p.reply(ctx, log, chatID, text)
	log.Info("model selected", slog.String("model", entry.ID))
}

// lookupModel finds id in the chat's catalog, refreshing it once on a miss.
func (p *Processor) lookupModel(ctx context.Context, log *slog.Logger, chatID, id string) (session.CatalogEntry, bool) {
	entry, ok := p.Catalog.Lookup(chatID, id)
	if ok {
		return entry, true
	}
	if _, err := p.Catalog.Refresh(ctx, chatID); err != nil {
		log.Warn("catalog refresh failed", slog.Any("error", err))
	}
	return p.Catalog.Lookup(chatID, id)
}

func (p *Processor) answer(ctx context.Context, log *slog.Logger, callbackID, text string) {
	if err := p.Transport.AnswerCallback(ctx, callbackID, text); err != nil {
		log.Warn("answer callback failed", slog.Any("error", err))
	}
}

func (p *Processor) errorText(err error) string {
	return config.Render(p.Prompts.Error, map[string]string{"error": err.Error()})
}
