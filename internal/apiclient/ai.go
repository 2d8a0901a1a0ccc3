package apiclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/KobaKhit/rebelzapp-sub001/internal/domain"
	"github.com/KobaKhit/rebelzapp-sub001/internal/metrics"
	"github.com/KobaKhit/rebelzapp-sub001/internal/telemetry"
)

// ErrNotSignedIn is returned by stream helpers when no token is stored.
var ErrNotSignedIn = errors.New("not signed in; run 'rebelz login'")

// Token returns the currently stored bearer token.
func (c *Client) Token() (string, bool) {
	return c.tokens.Get()
}

// SendAssistantMessage posts a user message to the assistant and returns its
// synchronous reply.
func (c *Client) SendAssistantMessage(ctx context.Context, content string) (*domain.AssistantReply, error) {
	in := domain.AssistantRequest{
		Type: "message",
		Data: domain.AssistantMessage{Role: "user", Content: content},
	}
	var out domain.AssistantReply
	if err := c.doJSON(ctx, send(http.MethodPost, "/ai/message", "/ai/message", in), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Complete runs a stateless chat completion through the platform's LLM proxy.
func (c *Client) Complete(ctx context.Context, messages []domain.AssistantMessage) (*domain.Completion, error) {
	in := domain.CompletionRequest{Messages: messages}
	if err := c.check(in); err != nil {
		return nil, err
	}
	var out domain.Completion
	if err := c.doJSON(ctx, send(http.MethodPost, "/ai/chat", "/ai/chat", in), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OpenEventStream opens the assistant's server-sent event stream. The bearer
// token travels in the token query parameter because the endpoint is
// consumed like a browser EventSource. The caller closes the returned body.
func (c *Client) OpenEventStream(ctx context.Context) (io.ReadCloser, error) {
	tok, ok := c.tokens.Get()
	if !ok {
		return nil, ErrNotSignedIn
	}

	const route = "/ai/events"
	ctx, span := telemetry.StartRequestSpan(ctx, http.MethodGet, route)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(route, url.Values{"token": {tok}}), nil)
	if err != nil {
		telemetry.EndRequestSpan(span, 0, "", err)
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	start := time.Now()
	resp, err := c.streamClient().Do(req)
	if err != nil {
		metrics.RecordRequest(http.MethodGet, route, 0, time.Since(start))
		telemetry.EndRequestSpan(span, 0, "", err)
		return nil, fmt.Errorf("open event stream: %w", err)
	}
	// Only the time to response headers; the stream itself stays open.
	metrics.RecordRequest(http.MethodGet, route, resp.StatusCode, time.Since(start))
	telemetry.EndRequestSpan(span, resp.StatusCode, "", nil)

	if resp.StatusCode == http.StatusUnauthorized {
		_ = resp.Body.Close()
		c.expireSession(ctx)
		return nil, ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		_ = resp.Body.Close()
		return nil, newAPIError(&Response{Status: resp.StatusCode, Body: body})
	}
	return resp.Body, nil
}

// streamClient shares the transport but has no overall timeout, so
// long-lived streams are bounded only by their context.
func (c *Client) streamClient() *http.Client {
	return &http.Client{Transport: c.http.Transport, Jar: c.http.Jar}
}

// WebSocketURL maps path onto the API host with a ws or wss scheme.
func (c *Client) WebSocketURL(path string, query url.Values) string {
	u := c.URL(path, query)
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

// ExpireSession clears the stored token after a stream was rejected with a
// policy violation or 401.
func (c *Client) ExpireSession(ctx context.Context) {
	c.expireSession(ctx)
}
