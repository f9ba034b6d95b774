// Package backend is the client for the coding-agent HTTP server: sessions,
// prompts, provider catalog and the lifecycle event stream.
package backend

import (
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	PartTypeText = "text"
	PartTypeFile = "file"

	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Part is one typed unit of submitted input or returned output.
type Part struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Mime     string `json:"mime,omitempty"`
	URL      string `json:"url,omitempty"`
	Filename string `json:"filename,omitempty"`
}

func TextPart(text string) Part {
	return Part{Type: PartTypeText, Text: text}
}

func FilePart(mime, url, filename string) Part {
	return Part{Type: PartTypeFile, Mime: mime, URL: url, Filename: filename}
}

// HasBinary reports whether any part is not plain text.
func HasBinary(parts []Part) bool {
	for _, p := range parts {
		if p.Type != PartTypeText {
			return true
		}
	}
	return false
}

// ModelRef names a model on the backend.
type ModelRef struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}

type SessionTime struct {
	Created int64 `json:"created,omitempty"`
	Updated int64 `json:"updated,omitempty"`
}

type Session struct {
	ID        string      `json:"id"`
	Title     string      `json:"title,omitempty"`
	Directory string      `json:"directory,omitempty"`
	Time      SessionTime `json:"time,omitempty"`
}

type MessageInfo struct {
	ID         string              `json:"id,omitempty"`
	SessionID  string              `json:"sessionID,omitempty"`
	Role       string              `json:"role,omitempty"`
	ProviderID string              `json:"providerID,omitempty"`
	ModelID    string              `json:"modelID,omitempty"`
	Error      jsoniter.RawMessage `json:"error,omitempty"`
}

// Message is one stored conversation message.
type Message struct {
	Info  MessageInfo `json:"info"`
	Parts []Part      `json:"parts"`
}

// Text joins the message's text parts with newlines.
func (m Message) Text() string {
	return JoinText(m.Parts)
}

// JoinText concatenates the text of every text part with a newline.
func JoinText(parts []Part) string {
	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		if p.Type == PartTypeText {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

type PromptRequest struct {
	Parts []Part    `json:"parts"`
	Model *ModelRef `json:"model,omitempty"`
}

// PromptResponse is the decoded reply of a prompt call. Raw keeps the exact
// body for shape-tolerant text extraction.
type PromptResponse struct {
	Info  MessageInfo `json:"info"`
	Parts []Part      `json:"parts"`
	Raw   []byte      `json:"-"`
}

type Model struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type Provider struct {
	ID     string           `json:"id"`
	Name   string           `json:"name,omitempty"`
	Models map[string]Model `json:"models"`
}

type ProvidersResponse struct {
	Providers []Provider        `json:"providers"`
	Default   map[string]string `json:"default,omitempty"`
}

const (
	EventSessionCreated = "session.created"
	EventSessionIdle    = "session.idle"
	EventSessionDeleted = "session.deleted"
)

// Event is one server-sent lifecycle event.
type Event struct {
	Type       string              `json:"type"`
	Properties jsoniter.RawMessage `json:"properties,omitempty"`
}

// SessionID returns the conversation the event refers to, or "".
func (e Event) SessionID() string {
	if len(e.Properties) == 0 {
		return ""
	}
	var props struct {
		SessionID string `json:"sessionID"`
		Info      struct {
			ID string `json:"id"`
		} `json:"info"`
	}
	if err := json.Unmarshal(e.Properties, &props); err != nil {
		return ""
	}
	if props.SessionID != "" {
		return props.SessionID
	}
	return props.Info.ID
}

// Session decodes properties.info for session lifecycle events.
func (e Event) Session() (Session, bool) {
	if len(e.Properties) == 0 {
		return Session{}, false
	}
	var props struct {
		Info Session `json:"info"`
	}
	if err := json.Unmarshal(e.Properties, &props); err != nil || props.Info.ID == "" {
		return Session{}, false
	}
	return props.Info, true
}
