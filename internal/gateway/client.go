// Package gateway implements the resilient client for a locally hosted,
// OpenAI-compatible inference server (LM Studio). The exact address of the
// server is not reliably known in advance, so every operation walks an
// ordered list of candidate base URLs and pins the first one that answers.
//
// The public surface never returns an error value: refresh records its
// failure in the client state, and the chat operations hand back classified
// "Error: …" strings that callers render like any other response.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/everstacklabs/vigil/internal/httpclient"
)

const (
	// DefaultBaseURL is where LM Studio listens out of the box.
	DefaultBaseURL = "http://127.0.0.1:1234/v1"

	// fallbackAPIKey satisfies servers that insist on a bearer token but
	// accept anything; LM Studio documents this literal.
	fallbackAPIKey = "lm-studio"

	connectErrMsg = "Can't connect to LM Studio. Is it running?"

	systemPersona = "You are a concise assistant helping with git operations. Be brief and direct."

	modelsTimeout = 5 * time.Second
	chatTimeout   = 60 * time.Second

	chatTemperature = 0.3
	chatMaxTokens   = 500
)

// ChatRequest describes one chat completion. Context, when present, is
// embedded in the user message inside a code fence.
type ChatRequest struct {
	Prompt  string
	Context string
	Model   string
}

// Client owns the gateway state: the sticky base URL, the cached model
// catalog with its TTL, and the connected/last-error flags. Construct once
// and hand references to every consumer.
type Client struct {
	apiKey    string
	modelsTTL time.Duration

	httpc   *httpclient.Client // unauthenticated first, retry with bearer on 401/403
	streamc *httpclient.Client // bearer sent proactively; streams cannot renegotiate

	refreshMu sync.Mutex // at most one model refresh in flight

	mu          sync.Mutex // guards the fields below
	baseURL     string     // sticky: most recently successful candidate
	models      []string
	connected   bool
	lastError   string
	lastRefresh time.Time // zero means never refreshed
}

// Option configures the Client.
type Option func(*Client)

// WithModelsTTL overrides how long a refreshed model catalog stays fresh.
func WithModelsTTL(d time.Duration) Option {
	return func(c *Client) { c.modelsTTL = d }
}

// New creates a gateway client. An empty baseURL falls back to
// DefaultBaseURL; an empty apiKey falls back to the LMSTUDIO_API_KEY
// environment variable and then to the documented literal. Environment is
// consulted here, once, and never again.
func New(baseURL, apiKey string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if apiKey == "" {
		apiKey = os.Getenv("LMSTUDIO_API_KEY")
	}
	if apiKey == "" {
		apiKey = fallbackAPIKey
	}

	limiter := rate.NewLimiter(rate.Limit(10), 1)
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: apiKey, TokenType: "Bearer"})

	c := &Client{
		apiKey:    apiKey,
		modelsTTL: 15 * time.Second,
		httpc:     httpclient.New(httpclient.WithLimiter(limiter)),
		streamc: httpclient.New(
			httpclient.WithLimiter(limiter),
			httpclient.WithHTTPClient(oauth2.NewClient(context.Background(), ts)),
		),
		baseURL: trimSlash(baseURL),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connected reports whether the last refresh reached the server.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// LastError returns the most recent classified failure, or "".
func (c *Client) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// BaseURL returns the sticky base URL.
func (c *Client) BaseURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseURL
}

// Models returns the cached model catalog in server order.
func (c *Client) Models() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.models)
}

func (c *Client) catalogFresh() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.lastRefresh.IsZero() && time.Since(c.lastRefresh) <= c.modelsTTL
}

// candidates derives the probe order from the sticky base URL, so a pinned
// candidate is always tried first while the full list remains the fallback.
func (c *Client) candidates() []string {
	return Candidates(c.BaseURL())
}

func (c *Client) pin(base string) {
	c.mu.Lock()
	c.baseURL = trimSlash(base)
	c.mu.Unlock()
}

func (c *Client) authHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.apiKey}
}

// RefreshModels returns the model catalog, hitting the network only when the
// cache is stale or force is set. Concurrent callers serialize on a single
// in-flight refresh and observe its result instead of issuing duplicates.
func (c *Client) RefreshModels(ctx context.Context, force bool) []string {
	if !force && c.catalogFresh() {
		return c.Models()
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Another caller may have refreshed while we waited on the lock.
	if !force && c.catalogFresh() {
		return c.Models()
	}

	var lastErr error
	for _, base := range c.candidates() {
		models, err := c.fetchModels(ctx, base)
		if err != nil {
			lastErr = err
			if retriable(err) {
				continue
			}
			break
		}

		c.mu.Lock()
		c.baseURL = trimSlash(base)
		c.models = models
		c.connected = true
		c.lastError = ""
		if len(models) == 0 {
			c.lastError = "No models returned."
		}
		c.lastRefresh = time.Now()
		c.mu.Unlock()

		slog.Debug("model catalog refreshed", "base_url", base, "models", len(models))
		return slices.Clone(models)
	}

	c.mu.Lock()
	c.models = nil
	c.connected = false
	c.lastError = classify(lastErr)
	c.lastRefresh = time.Now()
	c.mu.Unlock()

	slog.Debug("model refresh failed", "error", c.LastError())
	return nil
}

func (c *Client) fetchModels(ctx context.Context, base string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, modelsTimeout)
	defer cancel()

	url := base + "/models"
	resp, err := c.httpc.Get(ctx, url, nil)
	if err == nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
		resp, err = c.httpc.Get(ctx, url, c.authHeaders())
	}
	if err != nil {
		return nil, err
	}
	if err := resp.StatusErr(); err != nil {
		return nil, err
	}
	return parseModelIDs(resp.Body)
}

// parseModelIDs tolerates the response shapes seen across server versions:
// either a bare list, or an object with a "data" list; each entry yields its
// identifier from "id", then "name", then "model".
func parseModelIDs(body []byte) ([]string, error) {
	var envelope struct {
		Data []json.RawMessage `json:"data"`
	}
	var items []json.RawMessage
	if err := json.Unmarshal(body, &envelope); err == nil {
		items = envelope.Data
	} else {
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("parsing models response: %w", err)
		}
	}

	models := make([]string, 0, len(items))
	for _, raw := range items {
		var entry struct {
			ID    string `json:"id"`
			Name  string `json:"name"`
			Model string `json:"model"`
		}
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		switch {
		case entry.ID != "":
			models = append(models, entry.ID)
		case entry.Name != "":
			models = append(models, entry.Name)
		case entry.Model != "":
			models = append(models, entry.Model)
		}
	}
	return models, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatPayload struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func buildPayload(req ChatRequest, stream bool) chatPayload {
	user := req.Prompt
	if req.Context != "" {
		user = fmt.Sprintf("%s\n\n```\n%s\n```", req.Prompt, req.Context)
	}
	return chatPayload{
		Model: req.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPersona},
			{Role: "user", Content: user},
		},
		Temperature: chatTemperature,
		MaxTokens:   chatMaxTokens,
		Stream:      stream,
	}
}

// Chat performs a blocking chat completion and returns either the first
// choice's content or a classified "Error: …" string.
func (c *Client) Chat(ctx context.Context, req ChatRequest) string {
	payload := buildPayload(req, false)

	var lastErr error
	for _, base := range c.candidates() {
		content, err := c.postChat(ctx, base, payload)
		if err != nil {
			lastErr = err
			if retriable(err) {
				continue
			}
			break
		}
		c.pin(base)
		return content
	}
	return "Error: " + classify(lastErr)
}

func (c *Client) postChat(ctx context.Context, base string, payload chatPayload) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	url := base + "/chat/completions"
	resp, err := c.httpc.PostJSON(ctx, url, nil, payload)
	if err == nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
		resp, err = c.httpc.PostJSON(ctx, url, c.authHeaders(), payload)
	}
	if err != nil {
		return "", err
	}
	if err := resp.StatusErr(); err != nil {
		return "", err
	}

	var parsed chatResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return "", fmt.Errorf("parsing chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("chat response carried no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// ChatStream performs a streaming chat completion. The returned channel
// yields text fragments as they arrive and is closed when the stream ends;
// on failure it yields a single classified "Error: …" fragment. The bearer
// token rides on every streaming attempt from the start — once bytes are
// flowing there is no second chance to authenticate — so a 401/403 simply
// moves on to the next candidate.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest) <-chan string {
	out := make(chan string, 16)
	payload := buildPayload(req, true)

	go func() {
		defer close(out)

		var lastErr error
		for _, base := range c.candidates() {
			ok, err := c.streamChat(ctx, base, payload, out)
			if ok {
				return
			}
			lastErr = err
			if !retriable(err) {
				break
			}
		}
		select {
		case out <- "Error: " + classify(lastErr):
		case <-ctx.Done():
		}
	}()
	return out
}

func (c *Client) streamChat(ctx context.Context, base string, payload chatPayload, out chan<- string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	resp, err := c.streamc.Stream(ctx, base+"/chat/completions", nil, payload)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, &httpclient.StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	c.pin(base)
	decodeEventStream(ctx, resp.Body, out)
	return true, nil
}

// retriable reports whether the candidate loop should move on to the next
// base URL after err, mirroring the connect/HTTP-status cases; anything
// else aborts the walk and surfaces as-is.
func retriable(err error) bool {
	var connectErr *httpclient.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var statusErr *httpclient.StatusError
	return errors.As(err, &statusErr)
}

// classify renders a failure for direct display: connection-level failures
// get the canonical hint, HTTP failures become "<code> <reason>", and
// anything else passes through verbatim.
func classify(err error) string {
	if err == nil {
		return "Unknown error"
	}
	var connectErr *httpclient.ConnectError
	if errors.As(err, &connectErr) {
		return connectErrMsg
	}
	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status
	}
	return err.Error()
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
