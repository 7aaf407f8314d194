// Package hub talks to the remote model repository (a Hugging Face style
// hub): resolving the file list of a repo and streaming file content with
// range support for resumable transfers.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// Typed errors. Authorization failures carry a remediation hint: missing
// credentials and pending access approval are different user problems and the
// distinction must survive to the client.
var (
	ErrNotFound = errors.New("repository not found")
	// ErrUnauthorized: no or invalid credentials.
	ErrUnauthorized = errors.New("authentication required: set a hub access token")
	// ErrAccessPending: credentials are fine but the repo is gated and the
	// access request has not been approved yet.
	ErrAccessPending = errors.New("access request pending approval by the repository owner")
	ErrRateLimited   = errors.New("rate limited by hub")
)

// IsAuthError reports whether err is either authorization failure.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrAccessPending)
}

// RemoteFile is one downloadable file of a repository.
type RemoteFile struct {
	Name string
	// Size is 0 when the hub does not report it.
	Size int64
}

// Resolver is the subset of the client the download orchestrator needs.
type Resolver interface {
	ResolveFiles(ctx context.Context, repoID string) ([]RemoteFile, error)
	Fetch(ctx context.Context, repoID, filename string, offset int64) (*Content, error)
}

// Content is an open file stream.
type Content struct {
	Body io.ReadCloser
	// TotalSize is the full file size, or -1 when the server did not say.
	TotalSize int64
	// Resumed is true when the server honored the requested range; when
	// false after a non-zero offset request the caller must restart the file.
	Resumed bool
}

// Client is the hub HTTP client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New builds a Client. Requests carry no overall client timeout; callers
// bound them with contexts since model files take minutes to stream.
func New(baseURL, token string) *Client {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Transport: tr},
	}
}

// repoInfo is the subset of the hub's model-info response we need.
type repoInfo struct {
	Siblings []struct {
		Filename string `json:"rfilename"`
		Size     int64  `json:"size"`
		LFS      *struct {
			Size int64 `json:"size"`
		} `json:"lfs,omitempty"`
	} `json:"siblings"`
}

// ResolveFiles fetches repo metadata and returns its file list.
func (c *Client) ResolveFiles(ctx context.Context, repoID string) ([]RemoteFile, error) {
	if err := validateRepoID(repoID); err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/api/models/%s", c.baseURL, repoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hub request: %w", err)
	}
	defer resp.Body.Close()
	if err := c.statusError(resp); err != nil {
		return nil, err
	}
	var info repoInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode hub response: %w", err)
	}
	files := make([]RemoteFile, 0, len(info.Siblings))
	for _, s := range info.Siblings {
		size := s.Size
		if s.LFS != nil && s.LFS.Size > 0 {
			size = s.LFS.Size
		}
		files = append(files, RemoteFile{Name: s.Filename, Size: size})
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("repository %s lists no files", repoID)
	}
	return files, nil
}

// Fetch opens a streamed GET for one file, resuming at offset when possible.
func (c *Client) Fetch(ctx context.Context, repoID, filename string, offset int64) (*Content, error) {
	if err := validateRepoID(repoID); err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/%s/resolve/main/%s", c.baseURL, repoID, filename)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hub fetch: %w", err)
	}
	if err := c.statusError(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	resumed := resp.StatusCode == http.StatusPartialContent
	total := int64(-1)
	if resp.ContentLength >= 0 {
		total = resp.ContentLength
		if resumed {
			total += offset
		}
	}
	return &Content{Body: resp.Body, TotalSize: total, Resumed: resumed}, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", "locallm/1.0")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// statusError maps HTTP failures to typed errors. A 403 without credentials
// means the caller needs a token; a 403 with one means a gated repo whose
// access request is still pending.
func (c *Client) statusError(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
		return nil
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		if c.token == "" {
			return ErrUnauthorized
		}
		return ErrAccessPending
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("hub returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

func validateRepoID(repoID string) error {
	parts := strings.Split(repoID, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("invalid repository id %q: expected owner/name", repoID)
	}
	return nil
}
