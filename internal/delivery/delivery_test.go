package delivery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/relay/internal/backend"
	"github.com/memohai/relay/internal/channel"
	"github.com/memohai/relay/internal/config"
)

func TestExtractText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "parts", raw: `{"info":{},"parts":[{"type":"text","text":"a"},{"type":"tool","text":"x"},{"type":"text","text":"b"}]}`, want: "a\nb"},
		{name: "content string", raw: `{"content":"hello"}`, want: "hello"},
		{name: "content array", raw: `{"content":[{"type":"text","text":"x"},{"type":"image"},{"type":"text","text":"y"}]}`, want: "x\ny"},
		{name: "empty parts falls back to content", raw: `{"parts":[],"content":"c"}`, want: "c"},
		{name: "non text parts only", raw: `{"parts":[{"type":"reasoning","text":"hmm"}]}`, want: ""},
		{name: "unknown shape", raw: `{"message":"hi"}`, want: ""},
		{name: "array body", raw: `[1,2,3]`, want: ""},
		{name: "garbage", raw: `not json`, want: ""},
		{name: "empty", raw: ``, want: ""},
		{name: "mixed item types", raw: `{"parts":["s",{"type":"text","text":"ok"},3]}`, want: "ok"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractText([]byte(tt.raw)), tt.name)
	}
}

func TestChunk_Law(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 1, 3999, 4000, 4001, 8000, 12345} {
		text := strings.Repeat("é", n)
		chunks := Chunk(text, DefaultChunkSize)
		assert.Len(t, chunks, (n+DefaultChunkSize-1)/DefaultChunkSize, "length %d", n)
		for _, c := range chunks {
			assert.LessOrEqual(t, len([]rune(c)), DefaultChunkSize)
		}
		for i := 0; i+1 < len(chunks); i++ {
			assert.Len(t, []rune(chunks[i]), DefaultChunkSize)
		}
		assert.Equal(t, text, strings.Join(chunks, ""))
	}
}

type fakeSender struct {
	mu     sync.Mutex
	failOn map[int]bool
	calls  int
	sent   []string
	opts   []channel.SendOptions
}

func (f *fakeSender) SendText(_ context.Context, _ string, text string, opts channel.SendOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failOn[f.calls] {
		return "", errors.New("flood wait")
	}
	f.sent = append(f.sent, text)
	f.opts = append(f.opts, opts)
	return "id", nil
}

func TestDeliver_ChunksAreIndependent(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{failOn: map[int]bool{2: true}}
	d := New(nil, sender, config.DefaultPrompts())
	text := strings.Repeat("a", 4000) + strings.Repeat("b", 4000) + "c"

	err := d.Deliver(context.Background(), "42", channel.SendOptions{}, Outcome{Kind: OutcomeText, Text: text})
	require.Error(t, err)
	assert.ErrorIs(t, err, channel.ErrTransportFailure)
	assert.Equal(t, 3, sender.calls)
	require.Len(t, sender.sent, 2)
	assert.Equal(t, strings.Repeat("a", 4000), sender.sent[0])
	assert.Equal(t, "c", sender.sent[1])
}

func TestDeliver_KeyboardOnLastChunkOnly(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	d := New(nil, sender, config.DefaultPrompts())
	kb := channel.Keyboard{{{Text: "x", Data: "y"}}}
	err := d.SendChunks(context.Background(), "42", strings.Repeat("z", 4001), channel.SendOptions{Keyboard: kb, ThreadID: "7"})
	require.NoError(t, err)
	require.Len(t, sender.opts, 2)
	assert.Nil(t, sender.opts[0].Keyboard)
	assert.Equal(t, "7", sender.opts[0].ThreadID)
	assert.Equal(t, kb, sender.opts[1].Keyboard)
}

func TestDeliver_Outcomes(t *testing.T) {
	t.Parallel()

	prompts := config.DefaultPrompts()
	tests := []struct {
		name string
		out  Outcome
		want string
	}{
		{name: "empty text-only", out: Outcome{Kind: OutcomeEmpty}, want: prompts.NoResponse},
		{name: "empty after images", out: Outcome{Kind: OutcomeEmpty, SentBinary: true}, want: prompts.NoResponseVision},
		{name: "error verbatim", out: Outcome{Kind: OutcomeError, Err: &backend.BackendError{Name: "APIError", Message: "overloaded"}}, want: "Error: APIError: overloaded"},
	}
	for _, tt := range tests {
		sender := &fakeSender{}
		require.NoError(t, New(nil, sender, prompts).Deliver(context.Background(), "42", channel.SendOptions{}, tt.out), tt.name)
		assert.Equal(t, []string{tt.want}, sender.sent, tt.name)
	}
}

func TestFromResponse(t *testing.T) {
	t.Parallel()

	out := FromResponse(backend.PromptResponse{Raw: []byte(`{"parts":[{"type":"text","text":"hi"}]}`)}, nil, false)
	assert.Equal(t, OutcomeText, out.Kind)
	assert.Equal(t, "hi", out.Text)

	out = FromResponse(backend.PromptResponse{Parts: []backend.Part{backend.TextPart("decoded")}}, nil, false)
	assert.Equal(t, "decoded", out.Text)

	out = FromResponse(backend.PromptResponse{Raw: []byte(`{"parts":[]}`)}, nil, true)
	assert.Equal(t, OutcomeEmpty, out.Kind)
	assert.True(t, out.SentBinary)

	boom := errors.New("boom")
	out = FromResponse(backend.PromptResponse{}, boom, false)
	assert.Equal(t, OutcomeError, out.Kind)
	assert.ErrorIs(t, out.Err, boom)
}
