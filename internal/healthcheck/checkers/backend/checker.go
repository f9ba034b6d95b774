// Package backendchecker reports whether the conversation backend answers.
package backendchecker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/memohai/relay/internal/backend"
	"github.com/memohai/relay/internal/healthcheck"
)

const (
	checkTypeBackend = "backend.reachability"
	defaultTimeout   = 5 * time.Second
)

// Pinger is the backend surface the checker needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Checker struct {
	logger  *slog.Logger
	pinger  Pinger
	baseURL string
	timeout time.Duration
}

func NewChecker(log *slog.Logger, pinger Pinger, baseURL string) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger:  log.With(slog.String("checker", "healthcheck_backend")),
		pinger:  pinger,
		baseURL: baseURL,
		timeout: defaultTimeout,
	}
}

func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	item := healthcheck.CheckResult{
		ID:       checkTypeBackend,
		Type:     checkTypeBackend,
		Metadata: map[string]any{"base_url": c.baseURL},
	}
	if c.pinger == nil {
		item.Status = healthcheck.StatusWarn
		item.Summary = "Backend client is not configured."
		return []healthcheck.CheckResult{item}
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.pinger.Ping(ctx); err != nil {
		c.logger.Warn("backend unreachable", slog.Any("error", err))
		item.Status = healthcheck.StatusError
		item.Summary = "Backend is unreachable."
		item.Detail = err.Error()
		if errors.Is(err, backend.ErrStatus) {
			item.Summary = "Backend answered with an error status."
		}
		return []healthcheck.CheckResult{item}
	}
	item.Status = healthcheck.StatusOK
	item.Summary = "Backend is reachable."
	return []healthcheck.CheckResult{item}
}
