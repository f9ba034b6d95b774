package channel

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestInboundMessage_Command(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text     string
		wantName string
		wantArgs string
		wantOK   bool
	}{
		{text: "/model openai/gpt-4o", wantName: "model", wantArgs: "openai/gpt-4o", wantOK: true},
		{text: "/Start@relay_bot", wantName: "start", wantOK: true},
		{text: "  /new  ", wantName: "new", wantOK: true},
		{text: "hello", wantOK: false},
		{text: "/", wantOK: false},
		{text: "", wantOK: false},
	}
	for _, tt := range tests {
		name, args, ok := InboundMessage{Text: tt.text}.Command()
		if ok != tt.wantOK || name != tt.wantName || args != tt.wantArgs {
			t.Errorf("Command(%q) = (%q, %q, %v), want (%q, %q, %v)", tt.text, name, args, ok, tt.wantName, tt.wantArgs, tt.wantOK)
		}
	}
}

func TestAttachment_Reference(t *testing.T) {
	t.Parallel()

	if got := (Attachment{URL: " https://x ", PlatformKey: "k"}).Reference(); got != "https://x" {
		t.Fatalf("Reference() = %q", got)
	}
	if got := (Attachment{PlatformKey: "k"}).Reference(); got != "k" {
		t.Fatalf("Reference() = %q", got)
	}
	if got := (Attachment{DurationMs: 1500}).Duration(); got != 1500*time.Millisecond {
		t.Fatalf("Duration() = %s", got)
	}
}

type blockingHandler struct {
	release chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	seen    []string
}

func (h *blockingHandler) HandleMessage(_ context.Context, msg InboundMessage) {
	defer h.wg.Done()
	if msg.Sender.ChatID == "slow" {
		<-h.release
	}
	h.mu.Lock()
	h.seen = append(h.seen, msg.Sender.ChatID)
	h.mu.Unlock()
}

func (h *blockingHandler) HandleCallback(_ context.Context, _ Callback) {
	defer h.wg.Done()
	panic("boom")
}

func TestDispatcher_IndependentChats(t *testing.T) {
	t.Parallel()

	h := &blockingHandler{release: make(chan struct{})}
	d := NewDispatcher(nil, h)
	h.wg.Add(3)
	d.HandleMessage(context.Background(), InboundMessage{Sender: Identity{ChatID: "slow"}})
	d.HandleMessage(context.Background(), InboundMessage{Sender: Identity{ChatID: "fast"}})
	d.HandleCallback(context.Background(), Callback{Sender: Identity{ChatID: "cb"}})

	deadline := time.After(5 * time.Second)
	for {
		h.mu.Lock()
		done := len(h.seen) == 1
		h.mu.Unlock()
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatal("fast chat was blocked by slow chat")
		case <-time.After(5 * time.Millisecond):
		}
	}
	close(h.release)
	h.wg.Wait()

	for d.InFlight() != 0 {
		select {
		case <-deadline:
			t.Fatalf("in-flight = %d after all handlers returned", d.InFlight())
		case <-time.After(5 * time.Millisecond):
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.seen[0] != "fast" {
		t.Fatalf("first handled = %q, want fast", h.seen[0])
	}
}
