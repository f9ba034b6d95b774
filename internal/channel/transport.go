package channel

import (
	"context"
	"errors"
)

// ErrTransportFailure wraps failures of the messaging transport itself.
var ErrTransportFailure = errors.New("transport failure")

// Sender posts messages.
type Sender interface {
	SendText(ctx context.Context, chatID, text string, opts SendOptions) (string, error)
}

// Editor changes or removes previously sent messages.
type Editor interface {
	EditText(ctx context.Context, chatID, messageID, text string) error
	Delete(ctx context.Context, chatID, messageID string) error
}

// Indicator shows a busy state in a chat.
type Indicator interface {
	SendTyping(ctx context.Context, chatID string) error
}

// StatusTransport is what a progress status message needs.
type StatusTransport interface {
	Sender
	Editor
	Indicator
}

// TopicCreator opens forum topics inside a chat.
type TopicCreator interface {
	CreateForumTopic(ctx context.Context, chatID, name string) (string, error)
}

// AttachmentResolver turns an attachment reference into a downloadable URL.
type AttachmentResolver interface {
	ResolveAttachment(ctx context.Context, att Attachment) (string, error)
}

// CallbackAnswerer acknowledges button presses.
type CallbackAnswerer interface {
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Transport is the full set of outbound operations.
type Transport interface {
	StatusTransport
	TopicCreator
	AttachmentResolver
	CallbackAnswerer
}

// Handler receives inbound items.
type Handler interface {
	HandleMessage(ctx context.Context, msg InboundMessage)
	HandleCallback(ctx context.Context, cb Callback)
}
