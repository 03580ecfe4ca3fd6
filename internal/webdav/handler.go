package webdav

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/webdav"

	"github.com/fruitsalade/rootshare/internal/events"
	"github.com/fruitsalade/rootshare/internal/logging"
	"github.com/fruitsalade/rootshare/internal/storage"
)

// NewHandler creates a WebDAV HTTP handler serving store under prefix.
func NewHandler(store storage.Store, pub events.Publisher, prefix string) http.Handler {
	return &webdav.Handler{
		FileSystem: NewFS(store, pub),
		LockSystem: webdav.NewMemLS(),
		Prefix:     strings.TrimSuffix(prefix, "/"),
		Logger:     logRequest,
	}
}

func logRequest(r *http.Request, err error) {
	if err == nil {
		return
	}
	logging.WithContext(r.Context()).Warn("webdav request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err))
}
