package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/relay/internal/backend"
)

type fakeCreator struct {
	create func(ctx context.Context, title string) (backend.Session, error)
}

func (f *fakeCreator) CreateSession(ctx context.Context, title string) (backend.Session, error) {
	return f.create(ctx, title)
}

func countingCreator(calls *atomic.Int32, delay time.Duration) *fakeCreator {
	return &fakeCreator{create: func(ctx context.Context, title string) (backend.Session, error) {
		n := calls.Add(1)
		time.Sleep(delay)
		return backend.Session{ID: fmt.Sprintf("C%d", n)}, nil
	}}
}

var defaultModel = ModelSelector{ProviderID: "anthropic", ModelID: "claude"}

func TestRegistry_GetOrCreateSessionIdempotent(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	r := NewRegistry(nil, countingCreator(&calls, 0), defaultModel)

	first, err := r.GetOrCreateSession(context.Background(), "42")
	require.NoError(t, err)
	second, err := r.GetOrCreateSession(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "C1", first)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRegistry_ConcurrentFirstMessagesCreateOnce(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	r := NewRegistry(nil, countingCreator(&calls, 20*time.Millisecond), defaultModel)

	var wg sync.WaitGroup
	ids := make([]string, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := r.GetOrCreateSession(context.Background(), "42")
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, id := range ids {
		assert.Equal(t, "C1", id)
	}
}

func TestRegistry_ChatsAreIndependent(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	r := NewRegistry(nil, countingCreator(&calls, 0), defaultModel)
	a, err := r.GetOrCreateSession(context.Background(), "1")
	require.NoError(t, err)
	b, err := r.GetOrCreateSession(context.Background(), "2")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestRegistry_CreateErrorNotCached(t *testing.T) {
	t.Parallel()

	fail := true
	r := NewRegistry(nil, &fakeCreator{create: func(context.Context, string) (backend.Session, error) {
		if fail {
			return backend.Session{}, errors.New("down")
		}
		return backend.Session{ID: "C9"}, nil
	}}, defaultModel)

	_, err := r.GetOrCreateSession(context.Background(), "42")
	require.Error(t, err)
	fail = false
	id, err := r.GetOrCreateSession(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "C9", id)
}

func TestRegistry_ResetAndAttach(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	r := NewRegistry(nil, countingCreator(&calls, 0), defaultModel)
	ctx := context.Background()

	_, err := r.GetOrCreateSession(ctx, "42")
	require.NoError(t, err)
	fresh, err := r.ResetSession(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "C2", fresh)

	require.NoError(t, r.AttachSession("42", "ses_old"))
	id, err := r.GetOrCreateSession(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "ses_old", id)
	assert.Error(t, r.AttachSession("42", " "))
}

func TestRegistry_Models(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, countingCreator(new(atomic.Int32), 0), defaultModel)
	assert.Equal(t, defaultModel, r.GetModel("42"))
	assert.False(t, r.Snapshot("42").Custom)

	picked := ModelSelector{ProviderID: "openai", ModelID: "gpt-4o"}
	r.SetModel("42", picked)
	assert.Equal(t, picked, r.GetModel("42"))
	assert.Equal(t, defaultModel, r.GetModel("43"))

	snap := r.Snapshot("42")
	assert.True(t, snap.Custom)
	assert.Equal(t, picked, snap.Model)
}

func TestParseModelSelector(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		want    ModelSelector
		wantErr bool
	}{
		{raw: "openai/gpt-4o", want: ModelSelector{ProviderID: "openai", ModelID: "gpt-4o"}},
		{raw: " openrouter/meta/llama-3 ", want: ModelSelector{ProviderID: "openrouter", ModelID: "meta/llama-3"}},
		{raw: "gpt-4o", wantErr: true},
		{raw: "/gpt", wantErr: true},
		{raw: "openai/", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseModelSelector(tt.raw)
		if tt.wantErr {
			assert.Error(t, err, tt.raw)
			continue
		}
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.want.ProviderID+"/"+tt.want.ModelID, got.String())
	}
}
