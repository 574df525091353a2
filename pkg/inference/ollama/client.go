// Package ollama implements the inference engine against a local ollama
// server. The wire vocabulary comes from the ollama api package; transport is
// plain net/http so status codes and decode failures map cleanly onto the
// error taxonomy.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/jmorganca/ollama/api"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/prattle/pkg/conversation"
	"github.com/go-go-golems/prattle/pkg/inference"
)

const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "llama2"

	// DefaultTimeout bounds a single completion. The dispatcher runs one
	// request at a time, so an unbounded call would jam the session.
	DefaultTimeout = 120 * time.Second
)

// fallbackModels is returned when model discovery fails; discovery is
// advisory and must not propagate errors.
var fallbackModels = []string{DefaultModel}

type Client struct {
	baseURL string
	model   string
	client  *http.Client
}

var _ inference.Engine = (*Client)(nil)

type ClientOption func(*Client)

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.client = hc
	}
}

func New(baseURL string, model string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	c := &Client{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Model() string {
	return c.model
}

// Complete sends one non-streaming chat request and returns the assistant
// reply text. No retries; the caller owns retry policy.
func (c *Client) Complete(
	ctx context.Context,
	msgs conversation.Conversation,
	opts inference.Options,
) (string, error) {
	messages := make([]api.Message, 0, len(msgs))
	for _, msg := range msgs {
		messages = append(messages, api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	stream := false
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]interface{}{
			"temperature": opts.Temperature,
			"top_p":       opts.TopP,
		},
	}

	var resp api.ChatResponse
	if err := c.post(ctx, "/api/chat", req, &resp); err != nil {
		return "", err
	}

	// A real reply always carries the assistant role; a decodable body
	// without one is still the wrong shape.
	if resp.Message == nil || resp.Message.Role == "" {
		return "", &inference.ProtocolError{Err: errors.New("response has no message")}
	}

	return resp.Message.Content, nil
}

// ListModels queries /api/tags. Any failure, or an empty list, yields the
// fallback list instead of an error.
func (c *Client) ListModels(ctx context.Context) []string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fallbackModels
	}

	httpResp, err := c.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("failed to fetch model list, using fallback")
		return fallbackModels
	}
	defer func() {
		_ = httpResp.Body.Close()
	}()

	if httpResp.StatusCode != http.StatusOK {
		log.Warn().Str("status", httpResp.Status).Msg("model list request failed, using fallback")
		return fallbackModels
	}

	var list api.ListResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&list); err != nil {
		log.Warn().Err(err).Msg("failed to decode model list, using fallback")
		return fallbackModels
	}

	names := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		names = append(names, m.Name)
	}
	if len(names) == 0 {
		return fallbackModels
	}
	return names
}

// Preload sends an empty chat request so the server loads the model into
// memory before the first real completion.
func (c *Client) Preload(ctx context.Context) error {
	stream := false
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: []api.Message{},
		Stream:   &stream,
	}
	var resp api.ChatResponse
	return c.post(ctx, "/api/chat", req, &resp)
}

func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshalling request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer func() {
		_ = httpResp.Body.Close()
	}()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return &inference.ServerError{
			StatusCode: httpResp.StatusCode,
			Status:     httpResp.Status,
		}
	}

	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return &inference.ProtocolError{Err: err}
	}
	return nil
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &inference.TimeoutError{Err: err}
	}
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		return &inference.TimeoutError{Err: err}
	}
	return &inference.ConnectionError{Err: err}
}

// String implements fmt.Stringer for log output.
func (c *Client) String() string {
	return fmt.Sprintf("ollama[%s model=%s]", c.baseURL, c.model)
}
