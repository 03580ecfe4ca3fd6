package client

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/rootshare/internal/api"
	"github.com/fruitsalade/rootshare/internal/storage"
	"github.com/fruitsalade/rootshare/internal/storage/local"
	"github.com/fruitsalade/rootshare/pkg/retry"
)

var fastRetry = retry.Config{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: time.Millisecond, Multiplier: 1}

func newAPIClient(t *testing.T) (*Client, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := local.New(local.Config{RootPath: dir})
	require.NoError(t, err)
	ts := httptest.NewServer(api.NewServer(store, api.Options{RootLabel: "test"}).Handler())
	t.Cleanup(ts.Close)
	return New(Config{BaseURL: ts.URL, RetryConfig: fastRetry}), dir
}

func TestClientAgainstServer(t *testing.T) {
	c, dir := newAPIClient(t)
	ctx := t.Context()

	health, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "local", health.Backend)

	created, err := c.Mkdir(ctx, "/", "docs")
	require.NoError(t, err)
	assert.Equal(t, "/docs", created)

	res, err := c.Upload(ctx, "/docs",
		UploadFile{Name: "a.txt", Body: strings.NewReader("alpha")},
		UploadFile{Name: "B.txt", Body: strings.NewReader("bravo!")})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "B.txt"}, res.Files)
	assert.Empty(t, res.Failed)

	list, err := c.List(ctx, "/docs", ListOptions{Sort: "name", Pattern: "*.txt"})
	require.NoError(t, err)
	require.Len(t, list.Files, 2)
	assert.Equal(t, "a.txt", list.Files[0].Name)
	assert.Equal(t, "B.txt", list.Files[1].Name)

	entry, err := c.Stat(ctx, "/docs/B.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(6), entry.Size)

	dl, err := c.Download(ctx, "/docs/a.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(dl.Body)
	require.NoError(t, err)
	require.NoError(t, dl.Body.Close())
	assert.Equal(t, "alpha", string(data))
	assert.Equal(t, int64(5), dl.Size)
	assert.Contains(t, dl.ContentType, "text/plain")

	require.NoError(t, c.Move(ctx, "/docs/a.txt", "/a.txt"))
	assert.FileExists(t, filepath.Join(dir, "a.txt"))

	require.NoError(t, c.Delete(ctx, "/docs"))
	assert.NoDirExists(t, filepath.Join(dir, "docs"))
}

func TestClientTypedErrors(t *testing.T) {
	c, dir := newAPIClient(t)
	ctx := t.Context()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "g"), []byte("y"), 0o644))

	_, err := c.Stat(ctx, "/missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)

	_, err = c.List(ctx, "/../etc", ListOptions{})
	assert.ErrorIs(t, err, storage.ErrInvalidPath)

	_, err = c.Download(ctx, "/")
	assert.ErrorIs(t, err, storage.ErrIsADirectory)

	err = c.Move(ctx, "/f", "/g")
	assert.ErrorIs(t, err, storage.ErrConflict)

	require.NoError(t, os.Mkdir(filepath.Join(dir, "d"), 0o755))
	_, err = c.Upload(ctx, "/", UploadFile{Name: "d", Body: strings.NewReader("x")})
	assert.ErrorIs(t, err, storage.ErrIsADirectory)
	assert.DirExists(t, filepath.Join(dir, "d"))

	assert.ErrorIs(t, c.Delete(ctx, "/"), storage.ErrInvalidPath)
}

func TestClientRetriesIdempotentCalls(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			io.WriteString(w, `{"error":"busy","code":503}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"name":"f","isDirectory":false,"size":3}`)
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL, RetryConfig: fastRetry})
	entry, err := c.Stat(t.Context(), "/f")
	require.NoError(t, err)
	assert.Equal(t, int64(3), entry.Size)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientDoesNotRetryMutations(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"error":"busy","code":503}`)
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL, RetryConfig: fastRetry})
	err := c.Delete(t.Context(), "/f")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.False(t, retry.IsRetryable(err))
	assert.Equal(t, int32(1), calls.Load())
}
