package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Options configures a Client.
type Options struct {
	BaseURL        string
	Username       string
	Password       string
	Directory      string
	RequestTimeout time.Duration
	PromptTimeout  time.Duration
}

// Client talks to the backend HTTP API.
type Client struct {
	baseURL   string
	username  string
	password  string
	directory string
	logger    *slog.Logger

	httpClient      *http.Client
	promptClient    *http.Client
	streamingClient *http.Client
}

func NewClient(log *slog.Logger, opts Options) *Client {
	if log == nil {
		log = slog.Default()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.PromptTimeout <= 0 {
		opts.PromptTimeout = 30 * time.Minute
	}
	username := strings.TrimSpace(opts.Username)
	if username == "" {
		username = "opencode"
	}
	return &Client{
		baseURL:         strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		username:        username,
		password:        opts.Password,
		directory:       strings.TrimSpace(opts.Directory),
		logger:          log.With(slog.String("service", "backend")),
		httpClient:      &http.Client{Timeout: opts.RequestTimeout},
		promptClient:    &http.Client{Timeout: opts.PromptTimeout},
		streamingClient: &http.Client{},
	}
}

// CreateSession starts a new conversation.
func (c *Client) CreateSession(ctx context.Context, title string) (Session, error) {
	payload := map[string]string{}
	if strings.TrimSpace(title) != "" {
		payload["title"] = title
	}
	var out Session
	if err := c.do(ctx, c.httpClient, http.MethodPost, "/session", payload, &out, nil); err != nil {
		return Session{}, err
	}
	if strings.TrimSpace(out.ID) == "" {
		return Session{}, fmt.Errorf("create session: empty id in response")
	}
	return out, nil
}

// ListSessions returns every conversation known to the backend.
func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	var out []Session
	if err := c.do(ctx, c.httpClient, http.MethodGet, "/session", nil, &out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

// Providers lists the configured providers and their models.
func (c *Client) Providers(ctx context.Context) (ProvidersResponse, error) {
	var out ProvidersResponse
	if err := c.do(ctx, c.httpClient, http.MethodGet, "/config/providers", nil, &out, nil); err != nil {
		return ProvidersResponse{}, err
	}
	return out, nil
}

// Prompt submits parts to a session and waits for the assistant reply.
func (c *Client) Prompt(ctx context.Context, sessionID string, req PromptRequest) (PromptResponse, error) {
	if strings.TrimSpace(sessionID) == "" {
		return PromptResponse{}, fmt.Errorf("session id is required")
	}
	var out PromptResponse
	var raw []byte
	path := "/session/" + url.PathEscape(sessionID) + "/message"
	if err := c.do(ctx, c.promptClient, http.MethodPost, path, req, &out, &raw); err != nil {
		return PromptResponse{}, err
	}
	out.Raw = raw
	return out, nil
}

// Messages returns the stored messages of a session, oldest first.
func (c *Client) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	var out []Message
	path := "/session/" + url.PathEscape(sessionID) + "/message"
	if err := c.do(ctx, c.httpClient, http.MethodGet, path, nil, &out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

// Ping checks that the backend answers.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, c.httpClient, http.MethodGet, "/config/providers", nil, nil, nil)
}

func (c *Client) endpoint(path string) string {
	u := c.baseURL + path
	if c.directory != "" {
		u += "?directory=" + url.QueryEscape(c.directory)
	}
	return u
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, client *http.Client, method, path string, payload, out any, raw *[]byte) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("backend error", slog.String("path", path), slog.Int("status", resp.StatusCode), slog.String("body_prefix", truncate(string(respBody), 300)))
		return statusError(path, resp.StatusCode, respBody)
	}
	if raw != nil {
		*raw = respBody
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		c.logger.Error("backend response parse failed", slog.String("path", path), slog.String("body_prefix", truncate(string(respBody), 300)), slog.Any("error", err))
		return fmt.Errorf("parse %s response: %w", path, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
