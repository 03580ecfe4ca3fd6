// Package client is a Go client for the rootshare HTTP API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/fruitsalade/rootshare/internal/storage"
	"github.com/fruitsalade/rootshare/pkg/protocol"
	"github.com/fruitsalade/rootshare/pkg/retry"
)

// Config holds client configuration.
type Config struct {
	BaseURL     string
	Timeout     time.Duration // whole request including body; 0 = none
	RetryConfig retry.Config  // used for list, stat, download and health
	UserAgent   string
}

// Client talks to a rootshare server.
type Client struct {
	http  *resty.Client
	retry retry.Config
}

// New creates a client.
func New(cfg Config) *Client {
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "rootshare-client/1.0"
	}
	r := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("User-Agent", cfg.UserAgent).
		SetTimeout(cfg.Timeout)
	return &Client{http: r, retry: cfg.RetryConfig}
}

// APIError is a non-2xx response. Kind is the server's error kind, so
// errors.Is(err, storage.ErrNotFound) and friends work.
type APIError struct {
	Status  int
	Kind    storage.Kind
	Message string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s (%d %s)", e.Message, e.Status, e.Kind)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Status)
}

// Is matches storage sentinel errors by kind.
func (e *APIError) Is(target error) bool {
	var se *storage.Error
	if errors.As(target, &se) {
		return se.Kind == e.Kind
	}
	return false
}

// errorBody covers both error shapes the server sends: ErrorResponse, and
// UploadResponse when every uploaded file failed.
type errorBody struct {
	protocol.ErrorResponse
	Message string                  `json:"message"`
	Failed  []storage.UploadFailure `json:"failed"`
}

func (b *errorBody) apiError(status int) *APIError {
	e := &APIError{Status: status, Kind: storage.Kind(b.Kind), Message: b.Error}
	if e.Message == "" && len(b.Failed) > 0 {
		e.Kind = b.Failed[0].Kind
		e.Message = b.Message + ": " + b.Failed[0].Message
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

// check turns a resty outcome into an error, marking transient failures
// retryable.
func check(resp *resty.Response, err error) error {
	if err != nil {
		return retry.Retryable(err)
	}
	if !resp.IsError() {
		return nil
	}
	var apiErr *APIError
	if body, ok := resp.Error().(*errorBody); ok && body != nil {
		apiErr = body.apiError(resp.StatusCode())
	} else {
		apiErr = &APIError{Status: resp.StatusCode(), Message: http.StatusText(resp.StatusCode())}
	}
	if transient(resp.StatusCode()) {
		return retry.Retryable(apiErr)
	}
	return apiErr
}

func transient(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// once strips the retryable marker from calls that are never retried.
func once(err error) error {
	var r retry.RetryableError
	if errors.As(err, &r) {
		return r.Err
	}
	return err
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.http.R().SetContext(ctx).SetError(&errorBody{})
}

// Health returns the server status.
func (c *Client) Health(ctx context.Context) (*protocol.HealthResponse, error) {
	return retry.DoWithResult(ctx, c.retry, func() (*protocol.HealthResponse, error) {
		var out protocol.HealthResponse
		if err := check(c.request(ctx).SetResult(&out).Get("/health")); err != nil {
			return nil, err
		}
		return &out, nil
	})
}

// ListOptions controls ordering and filtering of List.
type ListOptions struct {
	Sort    string // "" or "name"
	Pattern string // doublestar glob on entry names
}

// List returns the children of dir.
func (c *Client) List(ctx context.Context, dir string, opts ListOptions) (*protocol.ListResponse, error) {
	return retry.DoWithResult(ctx, c.retry, func() (*protocol.ListResponse, error) {
		var out protocol.ListResponse
		req := c.request(ctx).
			SetQueryParam("path", dir).
			SetResult(&out)
		if opts.Sort != "" {
			req.SetQueryParam("sort", opts.Sort)
		}
		if opts.Pattern != "" {
			req.SetQueryParam("pattern", opts.Pattern)
		}
		if err := check(req.Get("/api/files")); err != nil {
			return nil, err
		}
		return &out, nil
	})
}

// Stat returns metadata for a single path.
func (c *Client) Stat(ctx context.Context, p string) (*storage.Entry, error) {
	return retry.DoWithResult(ctx, c.retry, func() (*storage.Entry, error) {
		var out storage.Entry
		if err := check(c.request(ctx).SetQueryParam("path", p).SetResult(&out).Get("/api/stat")); err != nil {
			return nil, err
		}
		return &out, nil
	})
}

// Download holds an open download. The caller must close Body.
type Download struct {
	Body        io.ReadCloser
	Size        int64
	ContentType string
}

// Download opens the file at p for reading.
func (c *Client) Download(ctx context.Context, p string) (*Download, error) {
	return retry.DoWithResult(ctx, c.retry, func() (*Download, error) {
		resp, err := c.http.R().
			SetContext(ctx).
			SetDoNotParseResponse(true).
			SetQueryParam("path", p).
			Get("/api/download")
		if err != nil {
			return nil, retry.Retryable(err)
		}
		body := resp.RawBody()
		if resp.StatusCode() != http.StatusOK {
			defer body.Close()
			var eb errorBody
			json.NewDecoder(io.LimitReader(body, 1<<20)).Decode(&eb)
			apiErr := eb.apiError(resp.StatusCode())
			if transient(resp.StatusCode()) {
				return nil, retry.Retryable(apiErr)
			}
			return nil, apiErr
		}
		return &Download{
			Body:        body,
			Size:        resp.RawResponse.ContentLength,
			ContentType: resp.Header().Get("Content-Type"),
		}, nil
	})
}

// UploadFile is one file for Upload.
type UploadFile struct {
	Name string
	Body io.Reader
}

// Upload sends files into dir in a single multipart request. Uploads are
// not retried since the bodies are consumed. A partly successful upload
// returns the response and no error; inspect Failed.
func (c *Client) Upload(ctx context.Context, dir string, files ...UploadFile) (*protocol.UploadResponse, error) {
	var out protocol.UploadResponse
	req := c.request(ctx).
		SetQueryParam("path", dir).
		SetResult(&out)
	for _, f := range files {
		req.SetFileReader("files", path.Base(f.Name), f.Body)
	}
	if err := check(req.Post("/api/upload")); err != nil {
		return nil, once(err)
	}
	return &out, nil
}

// Mkdir creates parent/name and returns its path.
func (c *Client) Mkdir(ctx context.Context, parent, name string) (string, error) {
	var out protocol.MessageResponse
	err := check(c.request(ctx).
		SetBody(protocol.MkdirRequest{Path: parent, Name: name}).
		SetResult(&out).
		Post("/api/mkdir"))
	if err != nil {
		return "", once(err)
	}
	return out.Path, nil
}

// Delete removes a file or directory tree.
func (c *Client) Delete(ctx context.Context, p string) error {
	return once(check(c.request(ctx).
		SetBody(protocol.DeleteRequest{Path: p}).
		Delete("/api/delete")))
}

// Move renames oldPath to newPath.
func (c *Client) Move(ctx context.Context, oldPath, newPath string) error {
	return once(check(c.request(ctx).
		SetBody(protocol.MoveRequest{OldPath: oldPath, NewPath: newPath}).
		Post("/api/move")))
}
