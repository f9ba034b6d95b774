package backend

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Subscribe reads the event stream and calls fn for each decoded event. It
// returns when the stream ends, ctx is cancelled, or the connection fails.
func (c *Client) Subscribe(ctx context.Context, fn func(Event)) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/event", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamingClient.Do(req)
	if err != nil {
		c.logger.Error("event stream connect failed", slog.Any("error", err))
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(resp.Body)
		return statusError("/event", resp.StatusCode, errBody)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	currentEvent := ""
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			currentEvent = ""
			continue
		}
		if strings.HasPrefix(line, "event:") {
			currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		var evt Event
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			c.logger.Warn("event decode failed", slog.String("data_prefix", truncate(data, 200)), slog.Any("error", err))
			continue
		}
		if evt.Type == "" {
			evt.Type = currentEvent
		}
		fn(evt)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("event stream: %w", err)
	}
	return ctx.Err()
}

// EventRunner keeps a subscription alive, reconnecting after a fixed delay.
type EventRunner struct {
	client  *Client
	handler func(Event)
	delay   time.Duration
	logger  *slog.Logger
}

func NewEventRunner(log *slog.Logger, client *Client, delay time.Duration, handler func(Event)) *EventRunner {
	if log == nil {
		log = slog.Default()
	}
	if delay <= 0 {
		delay = 5 * time.Second
	}
	return &EventRunner{
		client:  client,
		handler: handler,
		delay:   delay,
		logger:  log.With(slog.String("component", "event_runner")),
	}
}

// Run blocks until ctx is cancelled.
func (r *EventRunner) Run(ctx context.Context) {
	for {
		err := r.client.Subscribe(ctx, r.handler)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			r.logger.Warn("event stream ended", slog.Any("error", err))
		} else {
			r.logger.Info("event stream closed")
		}
		timer := time.NewTimer(r.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
