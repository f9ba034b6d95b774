package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/memohai/relay/internal/backend"
	"github.com/memohai/relay/internal/channel"
	"github.com/memohai/relay/internal/config"
)

// OutcomeKind is the terminal state of one request as shown to the user.
type OutcomeKind int

const (
	OutcomeText OutcomeKind = iota
	OutcomeEmpty
	OutcomeError
)

// Outcome is what to tell the user.
type Outcome struct {
	Kind OutcomeKind
	Text string
	// SentBinary marks requests that carried images, for the empty-reply hint.
	SentBinary bool
	Err        error
}

// FromResponse classifies a backend result.
func FromResponse(resp backend.PromptResponse, err error, sentBinary bool) Outcome {
	if err != nil {
		return Outcome{Kind: OutcomeError, Err: err, SentBinary: sentBinary}
	}
	text := ExtractText(resp.Raw)
	if text == "" && len(resp.Raw) == 0 {
		text = backend.JoinText(resp.Parts)
	}
	if text == "" {
		return Outcome{Kind: OutcomeEmpty, SentBinary: sentBinary}
	}
	return Outcome{Kind: OutcomeText, Text: text, SentBinary: sentBinary}
}

// Deliverer sends outcomes to chats.
type Deliverer struct {
	sender    channel.Sender
	prompts   config.Prompts
	chunkSize int
	logger    *slog.Logger
}

func New(log *slog.Logger, sender channel.Sender, prompts config.Prompts) *Deliverer {
	if log == nil {
		log = slog.Default()
	}
	return &Deliverer{
		sender:    sender,
		prompts:   prompts,
		chunkSize: DefaultChunkSize,
		logger:    log.With(slog.String("service", "delivery")),
	}
}

// Deliver renders out into chatID.
func (d *Deliverer) Deliver(ctx context.Context, chatID string, opts channel.SendOptions, out Outcome) error {
	switch out.Kind {
	case OutcomeText:
		return d.SendChunks(ctx, chatID, out.Text, opts)
	case OutcomeEmpty:
		notice := d.prompts.NoResponse
		if out.SentBinary {
			notice = d.prompts.NoResponseVision
		}
		return d.SendChunks(ctx, chatID, notice, opts)
	default:
		msg := "unknown error"
		if out.Err != nil {
			msg = out.Err.Error()
		}
		return d.SendChunks(ctx, chatID, config.Render(d.prompts.Error, map[string]string{"error": msg}), opts)
	}
}

// SendChunks posts text in order. A failed chunk is logged and the rest are
// still sent; the returned error joins every failure.
func (d *Deliverer) SendChunks(ctx context.Context, chatID, text string, opts channel.SendOptions) error {
	chunks := Chunk(text, d.chunkSize)
	var errs []error
	for i, chunk := range chunks {
		chunkOpts := opts
		if i < len(chunks)-1 {
			chunkOpts.Keyboard = nil
		}
		if _, err := d.sender.SendText(ctx, chatID, chunk, chunkOpts); err != nil {
			d.logger.Warn("chunk send failed",
				slog.String("chat_id", chatID),
				slog.Int("chunk", i+1),
				slog.Int("chunks", len(chunks)),
				slog.Any("error", err),
			)
			errs = append(errs, fmt.Errorf("%w: chunk %d/%d: %w", channel.ErrTransportFailure, i+1, len(chunks), err))
		}
	}
	return errors.Join(errs...)
}
