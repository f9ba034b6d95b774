package backend

import (
	"errors"
	"fmt"
	"strings"
)

// ErrStatus is wrapped by every non-2xx response.
var ErrStatus = errors.New("backend returned error status")

// BackendError is an error the backend reported inside a successful response.
// Raw holds the payload verbatim.
type BackendError struct {
	Name    string
	Message string
	Raw     []byte
}

func (e *BackendError) Error() string {
	switch {
	case e.Name != "" && e.Message != "":
		return e.Name + ": " + e.Message
	case e.Message != "":
		return e.Message
	case e.Name != "":
		return e.Name
	default:
		return strings.TrimSpace(string(e.Raw))
	}
}

// ParseBackendError decodes an in-band error field. It returns nil when raw
// is empty or null.
func ParseBackendError(raw []byte) *BackendError {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" || trimmed == "{}" {
		return nil
	}
	out := &BackendError{Raw: []byte(trimmed)}
	var obj struct {
		Name    string `json:"name"`
		Message string `json:"message"`
		Data    struct {
			Message string `json:"message"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			out.Message = s
		}
		return out
	}
	out.Name = obj.Name
	out.Message = obj.Data.Message
	if out.Message == "" {
		out.Message = obj.Message
	}
	return out
}

// Err returns the in-band error of the response, if any.
func (r PromptResponse) Err() error {
	if be := ParseBackendError(r.Info.Error); be != nil {
		return be
	}
	return nil
}

func statusError(path string, code int, body []byte) error {
	return fmt.Errorf("%s: %w: %d %s", path, ErrStatus, code, truncate(strings.TrimSpace(string(body)), 300))
}
