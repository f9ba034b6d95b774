// Package auth decides which chat identities may use the bot and protects the
// sync HTTP surface with signed tokens.
package auth

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Decision is the outcome of Authorize.
type Decision int

const (
	// DecisionAllowed lets the message through.
	DecisionAllowed Decision = iota
	// DecisionRejected means the sender is not in a non-empty allow-set.
	DecisionRejected
	// DecisionStale means the message was sent before the process started.
	DecisionStale
	// DecisionBootstrap means the allow-set was empty and this sender should
	// become its sole member before the new state is applied.
	DecisionBootstrap
	// DecisionHalted means a bootstrap is pending and nothing is serviced.
	DecisionHalted
)

func (d Decision) String() string {
	switch d {
	case DecisionAllowed:
		return "allowed"
	case DecisionRejected:
		return "rejected"
	case DecisionStale:
		return "stale"
	case DecisionBootstrap:
		return "bootstrap"
	case DecisionHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// Err maps the decision onto the error taxonomy. Allowed maps to nil.
func (d Decision) Err() error {
	switch d {
	case DecisionAllowed:
		return nil
	case DecisionStale:
		return ErrStaleMessage
	case DecisionBootstrap, DecisionHalted:
		return ErrBootstrapRestart
	default:
		return ErrUnauthorized
	}
}

// Registry holds the allow-set for one process run.
type Registry struct {
	logger    *slog.Logger
	startedAt time.Time

	mu           sync.Mutex
	allowed      map[string]struct{}
	bootstrapped bool
}

// NewRegistry creates a registry. Messages sent before startedAt are stale.
func NewRegistry(log *slog.Logger, startedAt time.Time, allowed []string) *Registry {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{
		logger:    log.With(slog.String("service", "auth")),
		startedAt: startedAt.Truncate(time.Second),
	}
	r.allowed = toSet(allowed)
	return r
}

// Authorize classifies a message from userID sent at sentAt.
func (r *Registry) Authorize(userID string, sentAt time.Time) Decision {
	if sentAt.Before(r.startedAt) {
		return DecisionStale
	}
	userID = strings.TrimSpace(userID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bootstrapped {
		return DecisionHalted
	}
	if len(r.allowed) == 0 {
		if userID == "" {
			return DecisionRejected
		}
		r.bootstrapped = true
		r.logger.Warn("allow-set empty, bootstrapping owner", slog.String("user_id", userID))
		return DecisionBootstrap
	}
	if _, ok := r.allowed[userID]; ok {
		return DecisionAllowed
	}
	return DecisionRejected
}

// Reload replaces the allow-set and clears a pending bootstrap.
func (r *Registry) Reload(allowed []string) {
	set := toSet(allowed)
	r.mu.Lock()
	r.allowed = set
	r.bootstrapped = false
	r.mu.Unlock()
	r.logger.Info("allow-set reloaded", slog.Int("count", len(set)))
}

// Allowed returns the sorted allow-set.
func (r *Registry) Allowed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.allowed))
	for id := range r.allowed {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Halted reports whether a bootstrap is waiting to be applied.
func (r *Registry) Halted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bootstrapped
}

// StartedAt returns the staleness cutoff.
func (r *Registry) StartedAt() time.Time {
	return r.startedAt
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	return set
}
