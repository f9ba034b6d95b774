package channelchecker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/memohai/relay/internal/channel"
	"github.com/memohai/relay/internal/healthcheck"
)

const (
	checkTypeChannelConnection = "channel.connection"
	defaultTimeout             = 5 * time.Second
)

// Pinger probes the chat platform connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker evaluates the chat platform connection.
type Checker struct {
	logger      *slog.Logger
	pinger      Pinger
	channelType string
	timeout     time.Duration
}

// NewChecker creates a channel health checker for channelType.
func NewChecker(log *slog.Logger, channelType channel.ChannelType, pinger Pinger) *Checker {
	if log == nil {
		log = slog.Default()
	}
	name := strings.TrimSpace(channelType.String())
	if name == "" {
		name = "unknown"
	}
	return &Checker{
		logger:      log.With(slog.String("checker", "healthcheck_channel")),
		pinger:      pinger,
		channelType: name,
		timeout:     defaultTimeout,
	}
}

// ListChecks pings the platform once.
func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	item := healthcheck.CheckResult{
		ID:       checkTypeChannelConnection + "." + c.channelType,
		Type:     checkTypeChannelConnection,
		Metadata: map[string]any{"channel_type": c.channelType},
	}
	if c.pinger == nil {
		c.logger.Warn("channel healthcheck dependency is unavailable")
		item.Status = healthcheck.StatusWarn
		item.Summary = "Channel checker service is not available."
		item.Detail = "pinger is nil"
		return []healthcheck.CheckResult{item}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	start := time.Now()
	err := c.pinger.Ping(ctx)
	item.Metadata["latency_ms"] = time.Since(start).Milliseconds()
	if err != nil {
		item.Status = healthcheck.StatusError
		item.Summary = fmt.Sprintf("Channel %s connection failed.", c.channelType)
		item.Detail = strings.TrimSpace(err.Error())
		return []healthcheck.CheckResult{item}
	}
	item.Status = healthcheck.StatusOK
	item.Summary = fmt.Sprintf("Channel %s is connected.", c.channelType)
	return []healthcheck.CheckResult{item}
}
