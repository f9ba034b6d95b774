package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/memohai/relay/internal/backend"
	"github.com/memohai/relay/internal/config"
)

const defaultImageMime = "image/jpeg"

type voiceSource struct {
	p   *Pipeline
	job Job
}

func (s *voiceSource) Kind() Kind { return KindVoice }

func (s *voiceSource) Fetch(ctx context.Context) ([]byte, error) {
	return s.p.downloader.Fetch(ctx, s.job.SourceURL, s.p.cfg.MaxDownloadBytes)
}

func (s *voiceSource) ToParts(ctx context.Context, data []byte, _ ProgressFunc) ([]backend.Part, error) {
	if s.p.transcriber == nil {
		return nil, fmt.Errorf("transcription is not configured")
	}
	ext := extensionOf(s.job, ".ogg")
	scratchPath, err := s.p.scratch.write(KindVoice, s.job.ChatID, ext, data)
	if err != nil {
		return nil, err
	}
	defer s.p.scratch.remove(scratchPath)

	text, err := s.p.transcriber.Transcribe(ctx, scratchPath)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyTranscription
	}
	return []backend.Part{backend.TextPart(text)}, nil
}

type photoSource struct {
	p   *Pipeline
	job Job
}

func (s *photoSource) Kind() Kind { return KindPhoto }

func (s *photoSource) Fetch(ctx context.Context) ([]byte, error) {
	return s.p.downloader.Fetch(ctx, s.job.SourceURL, s.p.cfg.MaxDownloadBytes)
}

func (s *photoSource) ToParts(ctx context.Context, data []byte, _ ProgressFunc) ([]backend.Part, error) {
	if s.p.uploads == nil {
		return nil, ErrProviderUnavailable
	}
	ext := extensionOf(s.job, ".jpg")
	mimeType := strings.TrimSpace(s.job.Mime)
	if mimeType == "" {
		mimeType = mime.TypeByExtension(ext)
	}
	if mimeType == "" {
		mimeType = defaultImageMime
	}
	filename := uuid.NewString() + ext
	key := sanitizeChatID(s.job.ChatID) + "/" + filename
	if err := s.p.uploads.Put(ctx, key, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	text := strings.TrimSpace(s.job.Caption)
	if text == "" {
		text = s.p.cfg.PhotoPrompt
	}
	return []backend.Part{
		backend.TextPart(text),
		backend.FilePart(mimeType, s.p.uploads.AccessPath(key), filename),
	}, nil
}

type videoSource struct {
	p   *Pipeline
	job Job
}

func (s *videoSource) Kind() Kind { return KindVideo }

func (s *videoSource) Fetch(ctx context.Context) ([]byte, error) {
	limit := s.p.cfg.MaxVideoBytes
	if limit > 0 && s.job.Size > limit {
		return nil, fmt.Errorf("%w: video is %d bytes, max %d", ErrDownloadFailure, s.job.Size, limit)
	}
	return s.p.downloader.Fetch(ctx, s.job.SourceURL, limit)
}

func (s *videoSource) ToParts(ctx context.Context, data []byte, progress ProgressFunc) ([]backend.Part, error) {
	ext := extensionOf(s.job, ".mp4")
	videoPath, err := s.p.scratch.write(KindVideo, s.job.ChatID, ext, data)
	if err != nil {
		return nil, err
	}
	framesDir := strings.TrimSuffix(videoPath, ext) + "_frames"
	defer s.p.scratch.remove(videoPath, framesDir)
	if err := os.MkdirAll(framesDir, 0o755); err != nil {
		return nil, fmt.Errorf("create frames dir: %w", err)
	}

	frames, err := s.p.extractor.Extract(ctx, videoPath, framesDir, s.job.Duration, progress)
	if err != nil {
		return nil, err
	}
	if len(frames) > s.p.cfg.MaxFrames {
		s.p.logger.Debug("frames capped", slog.Int("produced", len(frames)), slog.Int("kept", s.p.cfg.MaxFrames))
		frames = frames[:s.p.cfg.MaxFrames]
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("extraction produced no frames")
	}

	text := strings.TrimSpace(s.job.Caption)
	if text == "" {
		text = config.Render(s.p.cfg.VideoPrompt, map[string]string{
			"frames":   strconv.Itoa(len(frames)),
			"duration": strconv.Itoa(int(s.job.Duration.Seconds())),
		})
	}
	parts := make([]backend.Part, 0, len(frames)+1)
	parts = append(parts, backend.TextPart(text))
	for _, frame := range frames {
		raw, err := os.ReadFile(frame)
		if err != nil {
			return nil, fmt.Errorf("read frame: %w", err)
		}
		dataURL := "data:" + defaultImageMime + ";base64," + base64.StdEncoding.EncodeToString(raw)
		parts = append(parts, backend.FilePart(defaultImageMime, dataURL, filepath.Base(frame)))
	}
	return parts, nil
}

// extensionOf picks the file extension from the job's filename or URL.
func extensionOf(job Job, fallback string) string {
	if ext := path.Ext(strings.TrimSpace(job.Filename)); ext != "" {
		return strings.ToLower(ext)
	}
	if u, err := url.Parse(job.SourceURL); err == nil {
		if ext := path.Ext(u.Path); ext != "" {
			return strings.ToLower(ext)
		}
	}
	return fallback
}
