package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2026, 1, 2, 3, 4, 5, 600, time.UTC)

func TestRegistry_Authorize(t *testing.T) {
	t.Parallel()

	fresh := testStart.Add(time.Second)
	tests := []struct {
		name    string
		allowed []string
		user    string
		sentAt  time.Time
		want    Decision
	}{
		{name: "member allowed", allowed: []string{"1", "2"}, user: "2", sentAt: fresh, want: DecisionAllowed},
		{name: "non member rejected", allowed: []string{"1"}, user: "9", sentAt: fresh, want: DecisionRejected},
		{name: "stale with members", allowed: []string{"1"}, user: "1", sentAt: testStart.Add(-time.Second), want: DecisionStale},
		{name: "stale with empty set", allowed: nil, user: "1", sentAt: testStart.Add(-time.Hour), want: DecisionStale},
		{name: "same second is not stale", allowed: []string{"1"}, user: "1", sentAt: testStart.Truncate(time.Second), want: DecisionAllowed},
		{name: "empty set bootstraps", allowed: nil, user: "7", sentAt: fresh, want: DecisionBootstrap},
		{name: "empty user never bootstraps", allowed: nil, user: " ", sentAt: fresh, want: DecisionRejected},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := NewRegistry(nil, testStart, tt.allowed)
			if got := r.Authorize(tt.user, tt.sentAt); got != tt.want {
				t.Fatalf("Authorize() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRegistry_BootstrapHaltsUntilReload(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, testStart, nil)
	now := testStart.Add(time.Minute)

	require.Equal(t, DecisionBootstrap, r.Authorize("7", now))
	assert.True(t, r.Halted())
	assert.Equal(t, DecisionHalted, r.Authorize("7", now))
	assert.Equal(t, DecisionHalted, r.Authorize("8", now))

	r.Reload([]string{"7"})
	assert.False(t, r.Halted())
	assert.Equal(t, DecisionAllowed, r.Authorize("7", now))
	assert.Equal(t, DecisionRejected, r.Authorize("8", now))
}

func TestRegistry_ConcurrentFirstMessagesBootstrapOnce(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, testStart, nil)
	now := testStart.Add(time.Minute)

	var bootstraps atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Authorize("7", now) == DecisionBootstrap {
				bootstraps.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), bootstraps.Load())
}

func TestDecision_Err(t *testing.T) {
	t.Parallel()

	assert.NoError(t, DecisionAllowed.Err())
	assert.ErrorIs(t, DecisionRejected.Err(), ErrUnauthorized)
	assert.ErrorIs(t, DecisionStale.Err(), ErrStaleMessage)
	assert.ErrorIs(t, DecisionBootstrap.Err(), ErrBootstrapRestart)
	assert.ErrorIs(t, DecisionHalted.Err(), ErrBootstrapRestart)
}

func TestBootstrapper_PersistsSoleOwnerAndReloads(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("TELEGRAM_BOT_TOKEN=t\n"), 0o600))

	store := NewStore(path, "TELEGRAM_ALLOWED_USERS")
	registry := NewRegistry(nil, testStart, nil)
	boot := NewBootstrapper(nil, store, registry, NewReloadRestarter(store, registry))

	now := testStart.Add(time.Minute)
	require.Equal(t, DecisionBootstrap, registry.Authorize("42", now))
	require.NoError(t, boot.Apply(context.Background(), "42"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "TELEGRAM_BOT_TOKEN=t\nTELEGRAM_ALLOWED_USERS=42\n", string(raw))
	assert.Equal(t, []string{"42"}, registry.Allowed())
	assert.Equal(t, DecisionAllowed, registry.Authorize("42", now))
}

func TestBootstrapper_RestartSignalled(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".env")
	store := NewStore(path, "ALLOWED")
	var calls atomic.Int32
	boot := NewBootstrapper(nil, store, nil, RestartFunc(func(context.Context) error {
		calls.Add(1)
		return nil
	}))
	require.NoError(t, boot.Apply(context.Background(), "5"))
	assert.Equal(t, int32(1), calls.Load())

	ids, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"5"}, ids)
}

func TestBootstrapper_RestartError(t *testing.T) {
	t.Parallel()

	store := NewStore(filepath.Join(t.TempDir(), ".env"), "ALLOWED")
	boom := errors.New("boom")
	boot := NewBootstrapper(nil, store, nil, RestartFunc(func(context.Context) error { return boom }))
	err := boot.Apply(context.Background(), "5")
	assert.ErrorIs(t, err, boom)
}

func TestBootstrapper_PersistFailureReleasesHalt(t *testing.T) {
	t.Parallel()

	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))
	path := filepath.Join(blocker, ".env")
	store := NewStore(path, "ALLOWED")
	registry := NewRegistry(nil, testStart, nil)
	var restarts atomic.Int32
	boot := NewBootstrapper(nil, store, registry, RestartFunc(func(context.Context) error {
		restarts.Add(1)
		return nil
	}))

	now := testStart.Add(time.Minute)
	require.Equal(t, DecisionBootstrap, registry.Authorize("42", now))
	require.True(t, registry.Halted())

	err := boot.Apply(context.Background(), "42")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist owner")
	assert.Equal(t, int32(0), restarts.Load())
	assert.False(t, registry.Halted())
	assert.Empty(t, registry.Allowed())
	assert.Equal(t, DecisionBootstrap, registry.Authorize("42", now), "next message may bootstrap again")
}

func TestStore_Add(t *testing.T) {
	t.Parallel()

	store := NewStore(filepath.Join(t.TempDir(), ".env"), "ALLOWED")
	require.NoError(t, store.Add("1"))
	require.NoError(t, store.Add("2"))
	require.NoError(t, store.Add("1"))
	ids, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids)
	assert.Error(t, store.Add(" "))
}

func TestWatchStore_ReloadsOnEdit(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".env")
	store := NewStore(path, "ALLOWED")
	require.NoError(t, store.SetOwner("1"))
	registry := NewRegistry(nil, testStart, []string{"1"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, WatchStore(ctx, nil, store, registry))

	require.NoError(t, store.Add("2"))
	require.Eventually(t, func() bool {
		return len(registry.Allowed()) == 2
	}, 5*time.Second, 20*time.Millisecond)
}
