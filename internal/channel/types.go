// Package channel defines the transport-neutral message types and the
// operations the gateway needs from a chat transport.
package channel

import (
	"strings"
	"time"
)

// ChannelType identifies a messaging platform.
type ChannelType string

func (c ChannelType) String() string {
	return string(c)
}

// Identity is who sent an inbound item and where.
type Identity struct {
	UserID      string
	ChatID      string
	DisplayName string
	Username    string
}

// AttachmentType classifies the kind of binary attachment.
type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentVideo AttachmentType = "video"
	AttachmentVoice AttachmentType = "voice"
	AttachmentAudio AttachmentType = "audio"
	AttachmentFile  AttachmentType = "file"
)

// Attachment is a binary file attached to a message.
type Attachment struct {
	Type AttachmentType
	// PlatformKey is the transport's file reference.
	PlatformKey string
	URL         string
	Name        string
	Mime        string
	Size        int64
	DurationMs  int64
	Width       int
	Height      int
}

// Reference returns the strongest available attachment reference.
func (a Attachment) Reference() string {
	if strings.TrimSpace(a.URL) != "" {
		return strings.TrimSpace(a.URL)
	}
	return strings.TrimSpace(a.PlatformKey)
}

func (a Attachment) Duration() time.Duration {
	return time.Duration(a.DurationMs) * time.Millisecond
}

// InboundMessage is a message received from the transport.
type InboundMessage struct {
	Channel     ChannelType
	ID          string
	Sender      Identity
	Text        string
	Caption     string
	Attachments []Attachment
	SentAt      time.Time
}

// Command splits a leading "/cmd@bot args" into the lowercased command and
// its argument string. ok is false for ordinary text.
func (m InboundMessage) Command() (name, args string, ok bool) {
	text := strings.TrimSpace(m.Text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text, " ")
	head = strings.TrimPrefix(head, "/")
	if at := strings.IndexByte(head, '@'); at >= 0 {
		head = head[:at]
	}
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}

// Callback is a button press carrying an opaque payload.
type Callback struct {
	Channel   ChannelType
	ID        string
	Sender    Identity
	MessageID string
	Data      string
	// SentAt is the time of the message the button belongs to.
	SentAt time.Time
}

// Button is one inline keyboard button.
type Button struct {
	Text string
	Data string
}

// Keyboard is rows of inline buttons.
type Keyboard [][]Button

// SendOptions tunes one outbound message.
type SendOptions struct {
	ThreadID string
	Keyboard Keyboard
	ReplyTo  string
}
