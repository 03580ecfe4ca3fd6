package logging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMiddlewareAssignsRequestID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	Replace(zap.New(core))
	t.Cleanup(func() { Replace(zap.NewNop()) })

	var seen string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/files", nil))

	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, seen, fields["request_id"])
	assert.EqualValues(t, http.StatusTeapot, fields["status"])
}

func TestMiddlewareKeepsIncomingRequestID(t *testing.T) {
	Replace(zap.NewNop())

	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestWithContextFallsBackToGlobal(t *testing.T) {
	l := zap.NewNop()
	Replace(l)
	assert.Same(t, l, WithContext(context.Background()))
}

func TestCallerIsLogSite(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	Replace(zap.New(core, zap.AddCaller()))
	t.Cleanup(func() { Replace(zap.NewNop()) })

	Info("package level")
	WithContext(context.Background()).Info("from context")
	L().Info("direct")

	entries := logs.All()
	require.Len(t, entries, 3)
	for _, e := range entries {
		require.True(t, e.Caller.Defined, e.Message)
		assert.True(t, strings.HasSuffix(e.Caller.File, "logging_test.go"), "%s: caller %s", e.Message, e.Caller.File)
	}
}
