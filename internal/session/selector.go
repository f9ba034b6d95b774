package session

import (
	"fmt"
	"strings"

	"github.com/memohai/relay/internal/backend"
)

// ModelSelector identifies a model as provider plus model id.
type ModelSelector struct {
	ProviderID string
	ModelID    string
}

// ParseModelSelector parses "providerId/modelId". The model id may itself
// contain slashes.
func ParseModelSelector(raw string) (ModelSelector, error) {
	raw = strings.TrimSpace(raw)
	provider, model, ok := strings.Cut(raw, "/")
	provider = strings.TrimSpace(provider)
	model = strings.TrimSpace(model)
	if !ok || provider == "" || model == "" {
		return ModelSelector{}, fmt.Errorf("invalid model %q: want provider/model", raw)
	}
	return ModelSelector{ProviderID: provider, ModelID: model}, nil
}

func (m ModelSelector) String() string {
	if m.IsZero() {
		return ""
	}
	return m.ProviderID + "/" + m.ModelID
}

func (m ModelSelector) IsZero() bool {
	return m.ProviderID == "" && m.ModelID == ""
}

// Ref converts the selector to the backend wire shape.
func (m ModelSelector) Ref() *backend.ModelRef {
	if m.IsZero() {
		return nil
	}
	return &backend.ModelRef{ProviderID: m.ProviderID, ModelID: m.ModelID}
}
