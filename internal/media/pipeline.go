// Package media converts inbound voice, photo and video attachments into
// backend content parts.
package media

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/memohai/relay/internal/backend"
)

// Config holds pipeline limits and prompt templates.
type Config struct {
	ScratchDir       string
	FFmpegPath       string
	FrameInterval    int
	MaxFrames        int
	ExtractTimeout   time.Duration
	MaxDownloadBytes int64
	MaxVideoBytes    int64
	// PhotoPrompt is used when a photo has no caption.
	PhotoPrompt string
	// VideoPrompt is rendered with {frames} and {duration} when a video has no caption.
	VideoPrompt string
}

// Pipeline runs a Source through fetch and conversion.
type Pipeline struct {
	cfg         Config
	downloader  *Downloader
	transcriber Transcriber
	uploads     StorageProvider
	extractor   FrameExtractor
	scratch     *scratch
	logger      *slog.Logger
}

func NewPipeline(log *slog.Logger, cfg Config, downloader *Downloader, transcriber Transcriber, uploads StorageProvider) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("service", "media_pipeline"))
	if cfg.MaxFrames <= 0 {
		cfg.MaxFrames = 5
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = 2
	}
	if downloader == nil {
		downloader = NewDownloader(nil, cfg.MaxDownloadBytes)
	}
	return &Pipeline{
		cfg:         cfg,
		downloader:  downloader,
		transcriber: transcriber,
		uploads:     uploads,
		extractor: FrameExtractor{
			Path:     cfg.FFmpegPath,
			Interval: cfg.FrameInterval,
			Timeout:  cfg.ExtractTimeout,
		},
		scratch: &scratch{dir: cfg.ScratchDir, now: time.Now, logger: log},
		logger:  log,
	}
}

// Run fetches src and converts it. The result always starts with a text part.
func (p *Pipeline) Run(ctx context.Context, src Source, progress ProgressFunc) ([]backend.Part, error) {
	started := time.Now()
	data, err := src.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", src.Kind(), err)
	}
	parts, err := src.ToParts(ctx, data, progress)
	if err != nil {
		p.logger.Warn("media conversion failed", slog.String("kind", string(src.Kind())), slog.Any("error", err))
		return nil, fmt.Errorf("convert %s: %w", src.Kind(), err)
	}
	if len(parts) == 0 || parts[0].Type != backend.PartTypeText {
		return nil, fmt.Errorf("convert %s: missing leading text part", src.Kind())
	}
	p.logger.Info("media converted",
		slog.String("kind", string(src.Kind())),
		slog.Int("parts", len(parts)),
		slog.Int("bytes", len(data)),
		slog.Duration("took", time.Since(started)),
	)
	return parts, nil
}

// Voice returns the source for a voice note.
func (p *Pipeline) Voice(job Job) Source { return &voiceSource{p: p, job: job} }

// Photo returns the source for the largest variant of a photo.
func (p *Pipeline) Photo(job Job) Source { return &photoSource{p: p, job: job} }

// Video returns the source for a video clip.
func (p *Pipeline) Video(job Job) Source { return &videoSource{p: p, job: job} }
