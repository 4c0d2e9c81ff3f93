// Package client is a typed HTTP client for the file drop API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/SakshamManav/File-Synchronization/backend/pkg/api"
)

// APIError is a non-2xx reply from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool { return hasStatus(err, http.StatusNotFound) }

// IsExpired reports whether err is a 410 from the server.
func IsExpired(err error) bool { return hasStatus(err, http.StatusGone) }

func hasStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// Client talks to one server.
type Client struct {
	base    *url.URL
	http    *http.Client
	creator bool
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// AsPeer makes status reads count as the scanning device connecting.
// By default the client identifies itself as the session creator.
func AsPeer() Option {
	return func(c *Client) { c.creator = false }
}

// New parses baseURL. A bare host:port gets an http scheme.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("base url is required")
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	base.Path = strings.TrimRight(base.Path, "/")
	base.RawQuery = ""
	base.Fragment = ""

	c := &Client{
		base: base,
		// Uploads and downloads may be long; callers bound them with ctx.
		http:    &http.Client{},
		creator: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the server root.
func (c *Client) BaseURL() string { return c.base.String() }

// Create starts a session. A nil ttl uses the server default; zero means
// the session never expires.
func (c *Client) Create(ctx context.Context, ttl *time.Duration) (api.CreateSessionResponse, error) {
	var payload api.CreateSessionRequest
	if ttl != nil {
		secs := int64(ttl.Round(time.Second) / time.Second)
		payload.TTLSeconds = &secs
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return api.CreateSessionResponse{}, err
	}

	var out api.CreateSessionResponse
	err = c.doJSON(ctx, http.MethodPost, "/api/session", "application/json", bytes.NewReader(body), &out)
	return out, err
}

// Status polls a session.
func (c *Client) Status(ctx context.Context, sessionID string) (api.StatusResponse, error) {
	var out api.StatusResponse
	err := c.doJSON(ctx, http.MethodGet, "/session/"+url.PathEscape(sessionID)+"/status", "", nil, &out)
	return out, err
}

// Upload streams r as a multipart "file" part named filename.
func (c *Client) Upload(ctx context.Context, sessionID, filename string, r io.Reader) (api.UploadResponse, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filename)
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	var out api.UploadResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/upload/"+url.PathEscape(sessionID), mw.FormDataContentType(), pr, &out)
	_ = pr.Close()
	return out, err
}

// SendMessage posts a text message.
func (c *Client) SendMessage(ctx context.Context, sessionID, text string) error {
	body, err := json.Marshal(api.MessageRequest{Text: text})
	if err != nil {
		return err
	}
	var out api.SuccessResponse
	return c.doJSON(ctx, http.MethodPost, "/api/message/"+url.PathEscape(sessionID), "application/json", bytes.NewReader(body), &out)
}

// Download copies the file at urlPath, as returned in UploadView.URL, to w.
func (c *Client) Download(ctx context.Context, urlPath string, w io.Writer) (int64, error) {
	resp, err := c.do(ctx, http.MethodGet, urlPath, "", nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return io.Copy(w, resp.Body)
}

// Health checks the server and its store.
func (c *Client) Health(ctx context.Context) error {
	var out api.HealthResponse
	return c.doJSON(ctx, http.MethodGet, "/api/health", "", nil, &out)
}

func (c *Client) doJSON(ctx context.Context, method, path, contentType string, body io.Reader, out interface{}) error {
	resp, err := c.do(ctx, method, path, contentType, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("parse path %q: %w", path, err)
	}
	endpoint := *c.base
	endpoint.Path = c.base.Path + ref.Path
	endpoint.RawPath = ""
	if ref.RawPath != "" {
		endpoint.RawPath = c.base.Path + ref.RawPath
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.creator {
		req.Header.Set(api.HeaderClientRole, api.RoleCreator)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload api.ErrorResponse
		if data, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); readErr == nil {
			if json.Unmarshal(data, &payload) == nil {
				apiErr.Message = payload.Error
			}
		}
		return nil, apiErr
	}
	return resp, nil
}
