// Package session maps chats to backend conversations and model selections.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/memohai/relay/internal/backend"
)

// Creator creates backend conversations.
type Creator interface {
	CreateSession(ctx context.Context, title string) (backend.Session, error)
}

type chatState struct {
	// create serializes backend session creation for one chat.
	create    sync.Mutex
	sessionID string
	model     ModelSelector
}

// Snapshot is a point-in-time view of one chat's state.
type Snapshot struct {
	ChatID    string
	SessionID string
	Model     ModelSelector
	// Custom is true when the chat picked its model explicitly.
	Custom bool
}

// Registry holds per-chat conversation handles and model selections for the
// process lifetime.
type Registry struct {
	creator      Creator
	defaultModel ModelSelector
	logger       *slog.Logger

	mu    sync.RWMutex
	chats map[string]*chatState
}

func NewRegistry(log *slog.Logger, creator Creator, defaultModel ModelSelector) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		creator:      creator,
		defaultModel: defaultModel,
		logger:       log.With(slog.String("service", "session_registry")),
		chats:        map[string]*chatState{},
	}
}

func (r *Registry) state(chatID string) *chatState {
	r.mu.RLock()
	st, ok := r.chats[chatID]
	r.mu.RUnlock()
	if ok {
		return st
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok = r.chats[chatID]; ok {
		return st
	}
	st = &chatState{}
	r.chats[chatID] = st
	return st
}

func (r *Registry) sessionOf(st *chatState) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return st.sessionID
}

// GetOrCreateSession returns the chat's conversation, creating one on first
// use. Concurrent first calls for one chat create a single conversation.
func (r *Registry) GetOrCreateSession(ctx context.Context, chatID string) (string, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return "", fmt.Errorf("chat id is required")
	}
	st := r.state(chatID)
	if id := r.sessionOf(st); id != "" {
		return id, nil
	}

	st.create.Lock()
	defer st.create.Unlock()
	if id := r.sessionOf(st); id != "" {
		return id, nil
	}
	return r.createLocked(ctx, chatID, st)
}

// ResetSession replaces the chat's conversation with a fresh one.
func (r *Registry) ResetSession(ctx context.Context, chatID string) (string, error) {
	st := r.state(chatID)
	st.create.Lock()
	defer st.create.Unlock()
	return r.createLocked(ctx, chatID, st)
}

func (r *Registry) createLocked(ctx context.Context, chatID string, st *chatState) (string, error) {
	s, err := r.creator.CreateSession(ctx, "chat "+chatID)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	r.mu.Lock()
	st.sessionID = s.ID
	r.mu.Unlock()
	r.logger.Info("session created", slog.String("chat_id", chatID), slog.String("session_id", s.ID))
	return s.ID, nil
}

// AttachSession points the chat at an existing conversation.
func (r *Registry) AttachSession(chatID, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	st := r.state(chatID)
	st.create.Lock()
	defer st.create.Unlock()
	r.mu.Lock()
	st.sessionID = sessionID
	r.mu.Unlock()
	return nil
}

// GetModel returns the chat's model, or the process default.
func (r *Registry) GetModel(chatID string) ModelSelector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if st, ok := r.chats[chatID]; ok && !st.model.IsZero() {
		return st.model
	}
	return r.defaultModel
}

// SetModel overwrites the chat's model.
func (r *Registry) SetModel(chatID string, model ModelSelector) {
	st := r.state(chatID)
	r.mu.Lock()
	st.model = model
	r.mu.Unlock()
}

func (r *Registry) DefaultModel() ModelSelector { return r.defaultModel }

func (r *Registry) Snapshot(chatID string) Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := Snapshot{ChatID: chatID, Model: r.defaultModel}
	if st, ok := r.chats[chatID]; ok {
		out.SessionID = st.sessionID
		if !st.model.IsZero() {
			out.Model = st.model
			out.Custom = true
		}
	}
	return out
}
