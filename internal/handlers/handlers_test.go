package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/relay/internal/auth"
	"github.com/memohai/relay/internal/channel"
	"github.com/memohai/relay/internal/healthcheck"
	"github.com/memohai/relay/internal/syncbridge"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type exchange struct {
	conversationID, topicID, user, assistant, messageID string
}

type fakeBridge struct {
	mu        sync.Mutex
	topics    map[string]string
	exchanges []exchange
	topicErr  error
	postErr   error
}

func (f *fakeBridge) CreateTopic(_ context.Context, conversationID, title, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.topicErr != nil {
		return "", f.topicErr
	}
	if f.topics == nil {
		f.topics = map[string]string{}
	}
	id := fmt.Sprintf("%d", len(f.topics)+100)
	f.topics[conversationID] = id + ":" + title
	return id, nil
}

func (f *fakeBridge) PostExchange(_ context.Context, conversationID, topicID, user, assistant, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return f.postErr
	}
	f.exchanges = append(f.exchanges, exchange{conversationID, topicID, user, assistant, messageID})
	return nil
}

func (f *fakeBridge) ActiveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.topics)
}

func serve(e *echo.Echo, method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestSyncHandler_CreateTopicAndStatus(t *testing.T) {
	t.Parallel()

	bridge := &fakeBridge{}
	e := echo.New()
	NewSyncHandler(testLogger(), bridge, "").Register(e)

	rec := serve(e, http.MethodPost, "/sync/topics", `{"conversationId":"S1","title":"Fix","workingDirectory":"/src/relay"}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"topicId":"100"}`, rec.Body.String())
	assert.Equal(t, "100:Fix", bridge.topics["S1"])

	rec = serve(e, http.MethodGet, "/sync/status", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"activeCount":1}`, rec.Body.String())
}

func TestSyncHandler_PostExchange(t *testing.T) {
	t.Parallel()

	bridge := &fakeBridge{}
	e := echo.New()
	NewSyncHandler(testLogger(), bridge, "").Register(e)

	rec := serve(e, http.MethodPost, "/sync/exchanges",
		`{"conversationId":"S1","topicId":"7","userContent":"hi","assistantContent":"hello","messageId":"m1"}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	require.Len(t, bridge.exchanges, 1)
	assert.Equal(t, exchange{"S1", "7", "hi", "hello", "m1"}, bridge.exchanges[0])
}

func TestSyncHandler_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path string
		body string
	}{
		{name: "topic without conversation", path: "/sync/topics", body: `{"title":"x"}`},
		{name: "malformed json", path: "/sync/topics", body: `{"conversationId":`},
		{name: "exchange without topic", path: "/sync/exchanges", body: `{"conversationId":"S1","userContent":"a","assistantContent":"b"}`},
		{name: "non numeric topic", path: "/sync/exchanges", body: `{"conversationId":"S1","topicId":"abc","userContent":"a","assistantContent":"b"}`},
		{name: "empty assistant", path: "/sync/exchanges", body: `{"conversationId":"S1","topicId":"1","userContent":"a"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			bridge := &fakeBridge{}
			e := echo.New()
			NewSyncHandler(testLogger(), bridge, "").Register(e)

			rec := serve(e, http.MethodPost, tt.path, tt.body, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, bridge.exchanges)
			assert.Empty(t, bridge.topics)
		})
	}
}

func TestSyncHandler_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "unknown topic", err: fmt.Errorf("%w: S1", syncbridge.ErrUnknownTopic), want: http.StatusConflict},
		{name: "transport", err: fmt.Errorf("post: %w", channel.ErrTransportFailure), want: http.StatusBadGateway},
		{name: "other", err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := echo.New()
			NewSyncHandler(testLogger(), &fakeBridge{postErr: tt.err}, "").Register(e)

			rec := serve(e, http.MethodPost, "/sync/exchanges",
				`{"conversationId":"S1","topicId":"7","userContent":"hi","assistantContent":"hello"}`, "")
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestSyncHandler_TokenGuard(t *testing.T) {
	t.Parallel()

	const secret = "sync-secret"
	e := echo.New()
	NewSyncHandler(testLogger(), &fakeBridge{}, secret).Register(e)

	good, err := auth.GenerateToken("plugin", auth.ScopeSync, secret, 0)
	require.NoError(t, err)
	wrongScope, err := auth.GenerateToken("plugin", "admin", secret, 0)
	require.NoError(t, err)

	rec := serve(e, http.MethodGet, "/sync/status", "", "")
	assert.GreaterOrEqual(t, rec.Code, 400)
	assert.Less(t, rec.Code, 500)

	rec = serve(e, http.MethodGet, "/sync/status", "", wrongScope)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(e, http.MethodGet, "/sync/status", "", good)
	assert.Equal(t, http.StatusOK, rec.Code)
}

type staticChecker []healthcheck.CheckResult

func (s staticChecker) ListChecks(context.Context) []healthcheck.CheckResult { return s }

func TestHealthHandler(t *testing.T) {
	t.Parallel()

	e := echo.New()
	NewHealthHandler(testLogger(), staticChecker{{ID: "a", Status: healthcheck.StatusOK}}).Register(e)
	rec := serve(e, http.MethodGet, "/health/checks", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	e = echo.New()
	NewHealthHandler(testLogger(),
		staticChecker{{ID: "a", Status: healthcheck.StatusOK}},
		staticChecker{{ID: "b", Status: healthcheck.StatusError, Summary: "down"}},
	).Register(e)
	rec = serve(e, http.MethodGet, "/health/checks", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"summary":"down"`)
}

func TestPingHandler(t *testing.T) {
	t.Parallel()

	e := echo.New()
	NewPingHandler(testLogger()).Register(e)

	rec := serve(e, http.MethodGet, "/ping", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = serve(e, http.MethodHead, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlers_NilLoggerFallsBackToDefault(t *testing.T) {
	t.Parallel()

	e := echo.New()
	require.NotPanics(t, func() {
		NewSyncHandler(nil, &fakeBridge{postErr: errors.New("boom")}, "").Register(e)
		NewHealthHandler(nil, staticChecker{{ID: "a", Status: healthcheck.StatusError, Summary: "down"}}).Register(e)
		NewPingHandler(nil).Register(e)
	})

	rec := serve(e, http.MethodPost, "/sync/exchanges",
		`{"conversationId":"S1","topicId":"7","userContent":"hi","assistantContent":"hello"}`, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = serve(e, http.MethodGet, "/health/checks", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = serve(e, http.MethodGet, "/ping", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
