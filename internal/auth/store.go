package auth

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/memohai/relay/internal/config"
)

// Store persists the allow-set as one comma-separated key of a key-value file.
type Store struct {
	path string
	key  string
}

// NewStore creates a store for key inside the file at path.
func NewStore(path, key string) *Store {
	return &Store{path: path, key: key}
}

func (s *Store) Path() string { return s.path }

func (s *Store) Key() string { return s.key }

// Load reads the allow-set. A missing file or key is an empty set.
func (s *Store) Load() ([]string, error) {
	values, err := config.ReadEnvFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read allow-list: %w", err)
	}
	return config.ParseList(values[s.key]), nil
}

// SetOwner makes userID the sole member.
func (s *Store) SetOwner(userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	return config.SetEnvValue(s.path, s.key, userID)
}

// Add appends userID to the existing members.
func (s *Store) Add(userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	current, err := s.Load()
	if err != nil {
		return err
	}
	if slices.Contains(current, userID) {
		return nil
	}
	return config.SetEnvValue(s.path, s.key, strings.Join(append(current, userID), ","))
}

// Restarter applies a persisted allow-set change.
type Restarter interface {
	Restart(ctx context.Context) error
}

// RestartFunc adapts a function to Restarter.
type RestartFunc func(ctx context.Context) error

func (f RestartFunc) Restart(ctx context.Context) error { return f(ctx) }

// ReloadRestarter applies changes by re-reading the store into the registry
// without leaving the process.
type ReloadRestarter struct {
	store    *Store
	registry *Registry
}

func NewReloadRestarter(store *Store, registry *Registry) *ReloadRestarter {
	return &ReloadRestarter{store: store, registry: registry}
}

func (r *ReloadRestarter) Restart(_ context.Context) error {
	ids, err := r.store.Load()
	if err != nil {
		return err
	}
	r.registry.Reload(ids)
	return nil
}

// Bootstrapper persists the first identity and applies the result.
type Bootstrapper struct {
	logger    *slog.Logger
	store     *Store
	registry  *Registry
	restarter Restarter
}

// NewBootstrapper creates a bootstrapper. registry, when set, is restored
// from the store if the owner cannot be persisted.
func NewBootstrapper(log *slog.Logger, store *Store, registry *Registry, restarter Restarter) *Bootstrapper {
	if log == nil {
		log = slog.Default()
	}
	return &Bootstrapper{
		logger:    log.With(slog.String("service", "auth_bootstrap")),
		store:     store,
		registry:  registry,
		restarter: restarter,
	}
}

// Apply writes userID as the sole allowed member, then invokes the restarter.
func (b *Bootstrapper) Apply(ctx context.Context, userID string) error {
	if err := b.store.SetOwner(userID); err != nil {
		b.rollback()
		return fmt.Errorf("persist owner: %w", err)
	}
	b.logger.Info("owner persisted", slog.String("user_id", userID), slog.String("file", b.store.Path()))
	if b.restarter == nil {
		return nil
	}
	if err := b.restarter.Restart(ctx); err != nil {
		return fmt.Errorf("apply bootstrap: %w", err)
	}
	return nil
}

// rollback reloads the previous allow-set so the halt taken for this
// bootstrap is released.
func (b *Bootstrapper) rollback() {
	if b.registry == nil {
		return
	}
	ids, err := b.store.Load()
	if err != nil {
		b.logger.Warn("reload allow-list after failed bootstrap", slog.Any("error", err))
		ids = b.registry.Allowed()
	}
	b.registry.Reload(ids)
}

// WatchStore reloads registry whenever the store's file changes, until ctx ends.
func WatchStore(ctx context.Context, log *slog.Logger, store *Store, registry *Registry) error {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("service", "auth_watch"))
	changes, err := config.Watch(ctx, log, config.DefaultWatchDebounce, store.Path())
	if err != nil {
		return err
	}
	go func() {
		for range changes {
			ids, err := store.Load()
			if err != nil {
				log.Warn("reload allow-list failed", slog.Any("error", err))
				continue
			}
			registry.Reload(ids)
		}
	}()
	return nil
}
