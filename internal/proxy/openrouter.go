// Package proxy is the client for OpenRouter, the hosted route to the
// answer-generation models.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultTimeout = 120 * time.Second
	appReferer     = "https://github.com/kalambet/alloyist"
	appTitle       = "alloyist"
)

var (
	// ErrRateLimited is returned for HTTP 429. Nothing is retried.
	ErrRateLimited  = errors.New("openrouter: rate limited")
	ErrUnauthorized = errors.New("openrouter: api key rejected")
	ErrUnknownModel = errors.New("openrouter: model not offered")
)

// APIError is an OpenRouter failure, either a non-200 status or an error
// object in a 200 reply.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openrouter: status %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	}
	return nil
}

type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

type Option func(*Client)

// WithBaseURL points the client at another OpenAI-compatible endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete sends a non-streaming chat completion and returns its first
// choice. A reply with no choices yields an empty Completion.
func (c *Client) Complete(ctx context.Context, req ChatRequest) (Completion, error) {
	var out completionResponse
	if err := c.send(ctx, http.MethodPost, "/chat/completions", req, &out); err != nil {
		return Completion{}, err
	}
	if out.Error != nil {
		return Completion{}, &APIError{Status: http.StatusOK, Message: out.Error.Message}
	}
	comp := Completion{Model: out.Model, Usage: out.Usage}
	if len(out.Choices) > 0 {
		comp.Content = out.Choices[0].Message.Content
		comp.FinishReason = out.Choices[0].FinishReason
	}
	return comp, nil
}

// ListModels returns the catalogue of models the key can use.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	var list struct {
		Data []Model `json:"data"`
	}
	if err := c.send(ctx, http.MethodGet, "/models", nil, &list); err != nil {
		return nil, err
	}
	if list.Data == nil {
		return []Model{}, nil
	}
	return list.Data, nil
}

// LookupModel finds id in the catalogue, or returns ErrUnknownModel.
func (c *Client) LookupModel(ctx context.Context, id string) (Model, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return Model{}, err
	}
	for _, m := range models {
		if m.ID == id {
			return m, nil
		}
	}
	return Model{}, fmt.Errorf("%w: %s", ErrUnknownModel, id)
}

func (c *Client) send(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", appReferer)
	req.Header.Set("X-Title", appTitle)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("openrouter %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode, Message: failureMessage(resp.Body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding openrouter %s reply: %w", path, err)
	}
	return nil
}

// failureMessage reads {"error":{"message":...}} from a failed reply, or
// the raw body when it is not in that shape.
func failureMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 2048))
	var wrapped struct {
		Error *errorBody `json:"error"`
	}
	if json.Unmarshal(raw, &wrapped) == nil && wrapped.Error != nil && wrapped.Error.Message != "" {
		return wrapped.Error.Message
	}
	return strings.TrimSpace(string(raw))
}
