// Package anki is a client for the AnkiConnect JSON-RPC add-on.
package anki

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/starford/ankisync/internal/apperr"
)

// Defaults applied by New.
const (
	DefaultURL        = "http://localhost:8765"
	DefaultVersion    = 6
	DefaultModel      = "Basic"
	DefaultTimeout    = 10 * time.Second
	DefaultMaxRetries = 3
	DefaultBackoff    = 500 * time.Millisecond
)

// Client talks to AnkiConnect. Calls are sequential request/response round
// trips; a Client is safe for concurrent use but the sync engine never
// issues calls in parallel.
type Client struct {
	url        string
	version    int
	model      string
	http       *http.Client
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithVersion sets the protocol version sent with every request.
func WithVersion(v int) Option {
	return func(c *Client) { c.version = v }
}

// WithModel sets the note model used for new notes.
func WithModel(name string) Option {
	return func(c *Client) { c.model = name }
}

// WithTimeout bounds every individual attempt. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRetries sets how many times a transport failure is retried.
func WithRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithBackoff sets the initial wait between retries, doubled each attempt.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client for the endpoint at url.
func New(url string, opts ...Option) *Client {
	if url == "" {
		url = DefaultURL
	}
	c := &Client{
		url:        url,
		version:    DefaultVersion,
		model:      DefaultModel,
		http:       &http.Client{},
		timeout:    DefaultTimeout,
		maxRetries: DefaultMaxRetries,
		backoff:    DefaultBackoff,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Model returns the note model the client creates notes with.
func (c *Client) Model() string { return c.model }

type request struct {
	Action  string `json:"action"`
	Params  any    `json:"params"`
	Version int    `json:"version"`
}

// transportError marks failures that never reached the protocol layer and
// may therefore be retried.
type transportError struct{ err error }

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// notRetried lists actions that must not be replayed after an ambiguous
// failure: the server may have applied the first attempt.
var notRetried = map[string]bool{
	"addNote": true,
}

// Invoke performs action with params and decodes the result into out, which
// may be nil. Every failure is reported as apperr.ErrRemoteStore.
func (c *Client) Invoke(ctx context.Context, action string, params any, out any) error {
	if params == nil {
		params = struct{}{}
	}
	body, err := json.Marshal(request{Action: action, Params: params, Version: c.version})
	if err != nil {
		return fmt.Errorf("%w: %s: marshal: %v", apperr.ErrRemoteStore, action, err)
	}

	retries := c.maxRetries
	if notRetried[action] {
		retries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			wait := c.backoff * (1 << uint(attempt-1))
			c.logger.Warn("anki: retrying call",
				slog.String("action", action),
				slog.Int("attempt", attempt+1),
				slog.Int64("backoff_ms", wait.Milliseconds()),
				slog.String("error", lastErr.Error()))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return fmt.Errorf("%w: %s: %v", apperr.ErrRemoteStore, action, ctx.Err())
			}
		}

		raw, err := c.roundTrip(ctx, body)
		if err == nil {
			if err := decodeEnvelope(raw, out); err != nil {
				return fmt.Errorf("%w: %s: %v", apperr.ErrRemoteStore, action, err)
			}
			return nil
		}
		lastErr = err
		var te *transportError
		if !errors.As(err, &te) || ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("%w: %s: %v", apperr.ErrRemoteStore, action, lastErr)
}

func (c *Client) roundTrip(ctx context.Context, body []byte) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &transportError{err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transportError{err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &transportError{err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	return raw, nil
}

// decodeEnvelope enforces the {error, result} response shape.
func decodeEnvelope(raw []byte, out any) error {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode response: %v", err)
	}
	if len(env) != 2 {
		return fmt.Errorf("response has %d fields, want 2", len(env))
	}
	rawErr, ok := env["error"]
	if !ok {
		return errors.New("response is missing the error field")
	}
	rawResult, ok := env["result"]
	if !ok {
		return errors.New("response is missing the result field")
	}
	if string(rawErr) != "null" {
		var msg string
		if err := json.Unmarshal(rawErr, &msg); err != nil {
			msg = string(rawErr)
		}
		return errors.New(msg)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rawResult, out); err != nil {
		return fmt.Errorf("decode result: %v", err)
	}
	return nil
}
