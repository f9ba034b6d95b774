// Package allowlistchecker reports the state of the allow-list file.
package allowlistchecker

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/memohai/relay/internal/healthcheck"
)

const checkTypeAllowlist = "auth.allowlist"

// Source is the allow-list surface the checker reads.
type Source interface {
	Path() string
	Load() ([]string, error)
}

// HaltReporter tells whether the process is waiting for a restart.
type HaltReporter interface {
	Halted() bool
}

type Checker struct {
	source Source
	halted HaltReporter
}

func NewChecker(source Source, halted HaltReporter) *Checker {
	return &Checker{source: source, halted: halted}
}

// ListChecks reports an error when the file is unreadable and a warning
// while no owner is recorded or a bootstrap restart is pending.
func (c *Checker) ListChecks(context.Context) []healthcheck.CheckResult {
	item := healthcheck.CheckResult{
		ID:   checkTypeAllowlist,
		Type: checkTypeAllowlist,
	}
	if c.source == nil {
		item.Status = healthcheck.StatusWarn
		item.Summary = "Allow-list store is not configured."
		return []healthcheck.CheckResult{item}
	}
	item.Metadata = map[string]any{"path": c.source.Path()}

	if _, err := os.Stat(c.source.Path()); errors.Is(err, fs.ErrNotExist) {
		item.Status = healthcheck.StatusWarn
		item.Summary = "Allow-list file does not exist yet; the first sender becomes owner."
		return []healthcheck.CheckResult{item}
	}
	ids, err := c.source.Load()
	if err != nil {
		item.Status = healthcheck.StatusError
		item.Summary = "Allow-list file is unreadable."
		item.Detail = err.Error()
		return []healthcheck.CheckResult{item}
	}
	item.Metadata["users"] = len(ids)
	switch {
	case c.halted != nil && c.halted.Halted():
		item.Status = healthcheck.StatusWarn
		item.Summary = "Owner recorded; waiting for restart."
	case len(ids) == 0:
		item.Status = healthcheck.StatusWarn
		item.Summary = "Allow-list is empty; the first sender becomes owner."
	default:
		item.Status = healthcheck.StatusOK
		item.Summary = "Allow-list loaded."
	}
	return []healthcheck.CheckResult{item}
}
