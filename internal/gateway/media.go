package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/memohai/relay/internal/backend"
	"github.com/memohai/relay/internal/channel"
	"github.com/memohai/relay/internal/config"
	"github.com/memohai/relay/internal/executor"
	"github.com/memohai/relay/internal/media"
)

const (
	labelVoice = "🎙 Voice message"
	labelPhoto = "🖼 Photo"
	labelVideo = "🎬 Video"
)

// buildParts converts msg into prompt parts and the status label. Plain text
// yields one text part; the first supported attachment goes through the media
// pipeline.
func (p *Processor) buildParts(ctx context.Context, log *slog.Logger, msg channel.InboundMessage) ([]backend.Part, string, error) {
	att, ok := firstMedia(msg.Attachments)
	if !ok {
		text := msg.Text
		if text == "" {
			text = msg.Caption
		}
		if strings.TrimSpace(text) == "" {
			return nil, "", nil
		}
		return []backend.Part{backend.TextPart(text)}, "", nil
	}
	if p.Media == nil {
		return nil, "", media.ErrProviderUnavailable
	}

	url, err := p.Transport.ResolveAttachment(ctx, att)
	if err != nil {
		return nil, "", fmt.Errorf("resolve attachment: %w: %w", media.ErrDownloadFailure, err)
	}
	job := media.Job{
		ChatID:    msg.Sender.ChatID,
		SourceURL: url,
		Caption:   msg.Caption,
		Filename:  att.Name,
		Mime:      att.Mime,
		Duration:  att.Duration(),
		Size:      att.Size,
	}
	log = log.With(slog.String("attachment", string(att.Type)))

	switch att.Type {
	case channel.AttachmentVoice, channel.AttachmentAudio:
		status := executor.OpenStatus(ctx, log, p.Transport, job.ChatID, "", p.Prompts.Transcribing, p.EditInterval)
		parts, err := p.Media.Run(ctx, p.Media.Voice(job), nil)
		status.Close(ctx)
		return parts, labelVoice, err
	case channel.AttachmentImage:
		parts, err := p.Media.Run(ctx, p.Media.Photo(job), nil)
		return parts, labelPhoto, err
	default:
		status := executor.OpenStatus(ctx, log, p.Transport, job.ChatID, "", videoProgress(p.Prompts, 0), p.EditInterval)
		parts, err := p.Media.Run(ctx, p.Media.Video(job), func(percent int) {
			status.Update(ctx, videoProgress(p.Prompts, percent))
		})
		if err == nil {
			status.Force(ctx, p.Prompts.VideoDone)
		}
		status.Close(ctx)
		return parts, labelVideo, err
	}
}

func firstMedia(attachments []channel.Attachment) (channel.Attachment, bool) {
	for _, att := range attachments {
		switch att.Type {
		case channel.AttachmentVoice, channel.AttachmentAudio, channel.AttachmentImage, channel.AttachmentVideo:
			return att, true
		}
	}
	return channel.Attachment{}, false
}

func videoProgress(prompts config.Prompts, percent int) string {
	return config.Render(prompts.VideoProgress, map[string]string{"percent": strconv.Itoa(percent)})
}

func (p *Processor) mediaErrorText(err error) string {
	if errors.Is(err, media.ErrEmptyTranscription) {
		return p.Prompts.EmptyTranscription
	}
	return config.Render(p.Prompts.MediaFailed, map[string]string{"error": err.Error()})
}
