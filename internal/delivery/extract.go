// Package delivery turns backend replies into ordered transport messages.
package delivery

import (
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type textItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ExtractText pulls the reply text out of a raw response body. It accepts a
// "parts" list, a "content" string or a "content" list; list items count when
// their type is "text". Other shapes yield "".
func ExtractText(raw []byte) string {
	var probe struct {
		Parts   jsoniter.RawMessage `json:"parts"`
		Content jsoniter.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	if text := joinTextItems(probe.Parts); text != "" {
		return text
	}
	var content string
	if err := json.Unmarshal(probe.Content, &content); err == nil {
		return strings.TrimSpace(content)
	}
	return joinTextItems(probe.Content)
}

func joinTextItems(raw jsoniter.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var items []jsoniter.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return ""
	}
	texts := make([]string, 0, len(items))
	for _, item := range items {
		var ti textItem
		if err := json.Unmarshal(item, &ti); err != nil {
			continue
		}
		if ti.Type == "text" && ti.Text != "" {
			texts = append(texts, ti.Text)
		}
	}
	return strings.TrimSpace(strings.Join(texts, "\n"))
}
