// Package syncbridge mirrors backend conversations into forum topics of one
// chat. Each conversation gets a topic on its first exchange and every new
// (user, assistant) pair is posted there once.
package syncbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/memohai/relay/internal/backend"
	"github.com/memohai/relay/internal/channel"
	"github.com/memohai/relay/internal/delivery"
)

const (
	titleRunes      = 50
	topicTitleLimit = 128

	userPrefix      = "👤 "
	assistantPrefix = "🤖 "
)

// ErrUnknownTopic is returned when an exchange names a topic the bridge never created.
var ErrUnknownTopic = errors.New("unknown topic")

// MessageLister reads a conversation's messages.
type MessageLister interface {
	Messages(ctx context.Context, sessionID string) ([]backend.Message, error)
}

// Poster is the transport surface the bridge writes to.
type Poster interface {
	channel.Sender
	channel.TopicCreator
}

type fingerprint struct {
	user      string
	assistant string
}

type entry struct {
	// mu serializes idle handling and posts for one conversation.
	mu        sync.Mutex
	topicID   string
	directory string
	last      *fingerprint
}

// Bridge holds one entry per live conversation.
type Bridge struct {
	lister       MessageLister
	poster       Poster
	chatID       string
	defaultTitle string
	logger       *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry

	qmu      sync.Mutex
	queues   map[string]*eventQueue
	inflight sync.WaitGroup
}

func New(log *slog.Logger, lister MessageLister, poster Poster, chatID, defaultTitle string) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(defaultTitle) == "" {
		defaultTitle = "New session"
	}
	return &Bridge{
		lister:       lister,
		poster:       poster,
		chatID:       chatID,
		defaultTitle: defaultTitle,
		logger:       log.With(slog.String("service", "sync_bridge")),
		entries:      map[string]*entry{},
		queues:       map[string]*eventQueue{},
	}
}

// HandleEvent dispatches one backend lifecycle event.
func (b *Bridge) HandleEvent(ctx context.Context, evt backend.Event) {
	switch evt.Type {
	case backend.EventSessionCreated:
		s, ok := evt.Session()
		if !ok {
			b.logger.Debug("created event without session info")
			return
		}
		b.OnCreated(s.ID, s.Directory)
	case backend.EventSessionIdle:
		id := evt.SessionID()
		if id == "" {
			return
		}
		if err := b.OnIdle(ctx, id); err != nil {
			b.logger.Warn("idle sync failed", slog.String("conversation_id", id), slog.Any("error", err))
		}
	case backend.EventSessionDeleted:
		if id := evt.SessionID(); id != "" {
			b.OnDeleted(id)
		}
	default:
		b.logger.Debug("event ignored", slog.String("type", evt.Type))
	}
}

// OnCreated registers a conversation without a topic.
func (b *Bridge) OnCreated(conversationID, directory string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.entries[conversationID]; ok {
		return
	}
	b.entries[conversationID] = &entry{directory: directory}
	b.logger.Debug("conversation tracked", slog.String("conversation_id", conversationID))
}

// OnDeleted forgets a conversation and its fingerprint.
func (b *Bridge) OnDeleted(conversationID string) {
	b.mu.Lock()
	delete(b.entries, conversationID)
	b.mu.Unlock()
	b.logger.Debug("conversation dropped", slog.String("conversation_id", conversationID))
}

// ActiveCount is the number of tracked conversations.
func (b *Bridge) ActiveCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// TopicCount is the number of conversations linked to a topic.
func (b *Bridge) TopicCount() int {
	b.mu.Lock()
	list := make([]*entry, 0, len(b.entries))
	for _, e := range b.entries {
		list = append(list, e)
	}
	b.mu.Unlock()
	n := 0
	for _, e := range list {
		e.mu.Lock()
		if e.topicID != "" {
			n++
		}
		e.mu.Unlock()
	}
	return n
}

func (b *Bridge) entry(conversationID string) *entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[conversationID]
	if !ok {
		e = &entry{}
		b.entries[conversationID] = e
	}
	return e
}

// OnIdle posts the conversation's latest exchange unless it was already posted.
func (b *Bridge) OnIdle(ctx context.Context, conversationID string) error {
	e := b.entry(conversationID)
	e.mu.Lock()
	defer e.mu.Unlock()

	msgs, err := b.lister.Messages(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}
	user, assistant, ok := LastExchange(msgs)
	if !ok {
		b.logger.Debug("no exchange to sync", slog.String("conversation_id", conversationID))
		return nil
	}
	if e.last != nil && e.last.user == user && e.last.assistant == assistant {
		return nil
	}
	if e.topicID == "" {
		topicID, err := b.poster.CreateForumTopic(ctx, b.chatID, TopicTitle(firstRunes(user, titleRunes), e.directory, b.defaultTitle))
		if err != nil {
			b.logger.Warn("topic create failed", slog.String("conversation_id", conversationID), slog.Any("error", err))
			return nil
		}
		e.topicID = topicID
	}
	if err := b.post(ctx, e.topicID, user, assistant); err != nil {
		return err
	}
	e.last = &fingerprint{user: user, assistant: assistant}
	return nil
}

// CreateTopic opens a topic for conversationID on request of an external
// caller and links it.
func (b *Bridge) CreateTopic(ctx context.Context, conversationID, title, workingDirectory string) (string, error) {
	e := b.entry(conversationID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.topicID != "" {
		return e.topicID, nil
	}
	if workingDirectory != "" {
		e.directory = workingDirectory
	}
	topicID, err := b.poster.CreateForumTopic(ctx, b.chatID, TopicTitle(title, e.directory, b.defaultTitle))
	if err != nil {
		return "", fmt.Errorf("create topic: %w", err)
	}
	e.topicID = topicID
	b.logger.Info("topic created", slog.String("conversation_id", conversationID), slog.String("topic_id", topicID))
	return topicID, nil
}

// PostExchange posts a pair supplied by an external caller into topicID,
// sharing the dedup fingerprint with event-driven posts.
func (b *Bridge) PostExchange(ctx context.Context, conversationID, topicID, user, assistant, messageID string) error {
	e := b.entry(conversationID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.topicID == "" {
		e.topicID = topicID
	}
	if e.topicID != topicID {
		return fmt.Errorf("%w: %s is linked to %s", ErrUnknownTopic, conversationID, e.topicID)
	}
	if e.last != nil && e.last.user == user && e.last.assistant == assistant {
		b.logger.Debug("duplicate exchange skipped", slog.String("conversation_id", conversationID), slog.String("message_id", messageID))
		return nil
	}
	if err := b.post(ctx, topicID, user, assistant); err != nil {
		return err
	}
	e.last = &fingerprint{user: user, assistant: assistant}
	return nil
}

func (b *Bridge) post(ctx context.Context, topicID, user, assistant string) error {
	opts := channel.SendOptions{ThreadID: topicID}
	for _, text := range []string{userPrefix + user, assistantPrefix + assistant} {
		for _, chunk := range delivery.Chunk(text, delivery.DefaultChunkSize) {
			if _, err := b.poster.SendText(ctx, b.chatID, chunk, opts); err != nil {
				return fmt.Errorf("post exchange: %w: %w", channel.ErrTransportFailure, err)
			}
		}
	}
	return nil
}

// LastExchange finds the newest assistant message and the user message right
// before it. ok is false if another assistant message intervenes or either
// side is missing.
func LastExchange(msgs []backend.Message) (user, assistant string, ok bool) {
	ai := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Info.Role == backend.RoleAssistant {
			ai = i
			break
		}
	}
	if ai < 0 {
		return "", "", false
	}
	for j := ai - 1; j >= 0; j-- {
		switch msgs[j].Info.Role {
		case backend.RoleUser:
			return msgs[j].Text(), msgs[ai].Text(), true
		case backend.RoleAssistant:
			return "", "", false
		}
	}
	return "", "", false
}

// TopicTitle builds "<title> · <dir basename>", falling back to fallback for a
// blank title.
func TopicTitle(title, workingDirectory, fallback string) string {
	title = strings.Join(strings.Fields(title), " ")
	if title == "" {
		title = fallback
	}
	if dir := strings.TrimSpace(workingDirectory); dir != "" {
		if base := filepath.Base(filepath.Clean(dir)); base != "." && base != string(filepath.Separator) {
			title += " · " + base
		}
	}
	return firstRunes(title, topicTitleLimit)
}

func firstRunes(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
