package media

import (
	"context"
	"io"
	"time"

	"github.com/memohai/relay/internal/backend"
)

// Kind classifies an inbound attachment.
type Kind string

const (
	KindVoice Kind = "voice"
	KindPhoto Kind = "photo"
	KindVideo Kind = "video"
)

// Job describes one extraction. Scratch files it creates are removed before
// the pipeline returns.
type Job struct {
	ChatID    string
	SourceURL string
	Caption   string
	Filename  string
	Mime      string
	// Duration is the declared length of a video.
	Duration time.Duration
	// Size is the declared byte size, 0 when unknown.
	Size int64
}

// ProgressFunc receives extraction progress in percent.
type ProgressFunc func(percent int)

// Source is one attachment kind: how to fetch it and how to turn its bytes
// into backend parts.
type Source interface {
	Kind() Kind
	Fetch(ctx context.Context) ([]byte, error)
	ToParts(ctx context.Context, data []byte, progress ProgressFunc) ([]backend.Part, error)
}

// Transcriber turns an audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// StorageProvider abstracts durable upload storage.
type StorageProvider interface {
	// Put writes data to storage under the given key.
	Put(ctx context.Context, key string, reader io.Reader) error
	// Open returns a reader for the given storage key.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object at key.
	Delete(ctx context.Context, key string) error
	// AccessPath returns a backend-accessible reference for a storage key.
	AccessPath(key string) string
}

// Sweeper removes stored objects older than a cutoff.
type Sweeper interface {
	Sweep(ctx context.Context, olderThan time.Time) (int, error)
}
