// Package backend talks to the external inference runtime over HTTP. The
// runtime owns process memory; this client only asks it to load, unload,
// enumerate models, and run completions.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"locallm/pkg/types"
)

// ErrUnavailable wraps transport-level failures reaching the runtime. The
// HTTP layer maps it to 503 rather than treating it as an internal bug.
var ErrUnavailable = errors.New("inference backend unavailable")

// IsUnavailable reports whether err means the runtime could not be reached.
func IsUnavailable(err error) bool { return errors.Is(err, ErrUnavailable) }

// statusError is a non-success response from a runtime that was reachable:
// the call was delivered and the runtime rejected it.
type statusError struct {
	method string
	path   string
	code   int
	body   string
}

func (e statusError) Error() string {
	return fmt.Sprintf("backend %s %s: status %d: %s", e.method, e.path, e.code, e.body)
}

// IsStatusError reports whether err is a rejection from the runtime rather
// than a transport failure.
func IsStatusError(err error) bool {
	var se statusError
	return errors.As(err, &se)
}

// Runtime is the operations the load manager and the completion passthrough
// need from the inference runtime.
type Runtime interface {
	Load(ctx context.Context, name string) error
	Unload(ctx context.Context, name string) error
	Loaded(ctx context.Context) ([]string, error)
	Complete(ctx context.Context, req types.CompletionRequest) (types.CompletionResponse, error)
}

// Client is the HTTP Runtime implementation.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// New builds a Client for the runtime at baseURL. Every call carries a
// context deadline of timeout; the http.Client itself has none so long
// completions are bounded by the caller's context alone.
func New(baseURL string, timeout time.Duration) *Client {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:    100,
		IdleConnTimeout: 90 * time.Second,
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    timeout,
		httpClient: &http.Client{Transport: tr, Timeout: 0},
	}
}

type modelRequest struct {
	Model string `json:"model"`
}

type loadedResponse struct {
	Models []string `json:"models"`
}

// Load asks the runtime to bring the named model into memory. Blocks until
// the runtime acknowledges or the deadline passes.
func (c *Client) Load(ctx context.Context, name string) error {
	return c.post(ctx, "/admin/load", modelRequest{Model: name}, nil)
}

// Unload asks the runtime to release the named model.
func (c *Client) Unload(ctx context.Context, name string) error {
	return c.post(ctx, "/admin/unload", modelRequest{Model: name}, nil)
}

// Loaded returns the model names the runtime currently holds in memory.
func (c *Client) Loaded(ctx context.Context) ([]string, error) {
	ctx, cancel := c.deadline(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/admin/loaded", nil)
	if err != nil {
		return nil, err
	}
	var out loadedResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// Complete proxies one completion request to the runtime.
func (c *Client) Complete(ctx context.Context, creq types.CompletionRequest) (types.CompletionResponse, error) {
	var out types.CompletionResponse
	err := c.post(ctx, "/v1/completions", creq, &out)
	return out, err
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	ctx, cancel := c.deadline(ctx)
	defer cancel()
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return statusError{
			method: req.Method,
			path:   req.URL.Path,
			code:   resp.StatusCode,
			body:   strings.TrimSpace(string(msg)),
		}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}
