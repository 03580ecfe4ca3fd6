package webdav

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/rootshare/internal/events"
	"github.com/fruitsalade/rootshare/internal/storage/local"
)

func newTestServer(t *testing.T) (*httptest.Server, string, *events.Broadcaster) {
	t.Helper()
	dir := t.TempDir()
	store, err := local.New(local.Config{RootPath: dir})
	require.NoError(t, err)
	b := events.NewBroadcaster()

	mux := http.NewServeMux()
	mux.Handle("/webdav/", NewHandler(store, b, "/webdav/"))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, dir, b
}

func davDo(t *testing.T, method, url, body string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), method, url, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestWebDAVRoundTrip(t *testing.T) {
	srv, dir, b := newTestServer(t)
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)
	base := srv.URL + "/webdav"

	resp := davDo(t, "MKCOL", base+"/docs", "", nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	ev := <-ch
	assert.Equal(t, events.EventCreate, ev.Type)
	assert.Equal(t, "/docs", ev.Path)
	assert.Equal(t, events.SourceWebDAV, ev.Source)

	resp = davDo(t, http.MethodPut, base+"/docs/a.txt", "hello dav", nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	data, err := os.ReadFile(filepath.Join(dir, "docs", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello dav", string(data))
	ev = <-ch
	assert.Equal(t, events.EventCreate, ev.Type)
	assert.Equal(t, int64(9), ev.Size)

	resp = davDo(t, http.MethodGet, base+"/docs/a.txt", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello dav", string(got))

	resp = davDo(t, "PROPFIND", base+"/docs/", "", map[string]string{"Depth": "1"})
	assert.Equal(t, http.StatusMultiStatus, resp.StatusCode)
	listing, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(listing), "a.txt")

	resp = davDo(t, "MOVE", base+"/docs/a.txt", "", map[string]string{"Destination": base + "/b.txt"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NoFileExists(t, filepath.Join(dir, "docs", "a.txt"))
	assert.FileExists(t, filepath.Join(dir, "b.txt"))
	ev = <-ch
	assert.Equal(t, events.EventMove, ev.Type)
	assert.Equal(t, "/docs/a.txt", ev.From)
	assert.Equal(t, "/b.txt", ev.Path)

	resp = davDo(t, http.MethodDelete, base+"/docs", "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.NoDirExists(t, filepath.Join(dir, "docs"))
}

func TestWebDAVOverwriteIsModify(t *testing.T) {
	srv, dir, b := newTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte("old"), 0o644))
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	resp := davDo(t, http.MethodPut, srv.URL+"/webdav/f.txt", "new", nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	ev := <-ch
	assert.Equal(t, events.EventModify, ev.Type)

	data, err := os.ReadFile(filepath.Join(dir, "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestWebDAVErrors(t *testing.T) {
	srv, dir, _ := newTestServer(t)
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret"), []byte("s"), 0o644))
	require.NoError(t, os.Symlink(outside, filepath.Join(dir, "escape")))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "exists"), 0o755))
	base := srv.URL + "/webdav"

	resp := davDo(t, http.MethodPut, base+"/missing/a.txt", "x", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.NoDirExists(t, filepath.Join(dir, "missing"))

	resp = davDo(t, "MKCOL", base+"/exists", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp = davDo(t, "MKCOL", base+"/no/such", "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = davDo(t, http.MethodGet, base+"/escape/secret", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = davDo(t, http.MethodPut, base+"/escape/planted", "x", nil)
	assert.NotEqual(t, http.StatusCreated, resp.StatusCode)
	assert.NoFileExists(t, filepath.Join(outside, "planted"))

	resp = davDo(t, http.MethodGet, base+"/nope.txt", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFSErrorsAreOSErrors(t *testing.T) {
	store, err := local.New(local.Config{RootPath: t.TempDir()})
	require.NoError(t, err)
	fs := NewFS(store, nil)
	ctx := t.Context()

	_, err = fs.Stat(ctx, "/missing")
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, fs.Mkdir(ctx, "/d", 0o755))
	assert.True(t, os.IsExist(fs.Mkdir(ctx, "/d", 0o755)))
	assert.True(t, os.IsNotExist(fs.Mkdir(ctx, "/x/y", 0o755)))

	f, err := fs.OpenFile(ctx, "/d/f", os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte("abc"))
	require.NoError(t, err)
	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.Size())
	_, err = fs.Stat(ctx, "/d/f")
	assert.True(t, os.IsNotExist(err), "pending file is not visible before close")
	require.NoError(t, f.Close())

	dirf, err := fs.OpenFile(ctx, "/d", os.O_RDONLY, 0)
	require.NoError(t, err)
	infos, err := dirf.Readdir(1)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "f", infos[0].Name())
	_, err = dirf.Readdir(1)
	assert.ErrorIs(t, err, io.EOF)
	require.NoError(t, dirf.Close())

	require.NoError(t, fs.RemoveAll(ctx, "/d"))
	assert.True(t, os.IsNotExist(fs.RemoveAll(ctx, "/d")))
}
