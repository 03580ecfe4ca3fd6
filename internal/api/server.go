// Package api provides the HTTP server and handlers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/fruitsalade/rootshare/internal/events"
	"github.com/fruitsalade/rootshare/internal/logging"
	"github.com/fruitsalade/rootshare/internal/metrics"
	"github.com/fruitsalade/rootshare/internal/storage"
	"github.com/fruitsalade/rootshare/pkg/protocol"
)

// UploadField is the multipart form field carrying upload files.
const UploadField = "files"

// Pool gzip writers to reduce allocations on list responses.
var gzipPool = sync.Pool{
	New: func() any { return gzip.NewWriter(nil) },
}

// Options configures optional parts of the server.
type Options struct {
	Broadcaster  *events.Broadcaster
	RateLimiter  *RateLimiter
	WebDAV       http.Handler // mounted at WebDAVPrefix when set
	WebDAVPrefix string
	MaxJSONBody  int64
	RootLabel    string      // shown by /health
	CORS         *CORSConfig // nil disables CORS
}

// Server is the HTTP server.
type Server struct {
	store       storage.Store
	broadcaster *events.Broadcaster
	limiter     *RateLimiter
	dav         http.Handler
	davPrefix   string
	maxJSONBody int64
	rootLabel   string
	cors        *CORSConfig

	streamsDone chan struct{}
	closeOnce   sync.Once
}

// NewServer creates a new server around store.
func NewServer(store storage.Store, opts Options) *Server {
	if opts.MaxJSONBody <= 0 {
		opts.MaxJSONBody = 1 << 20
	}
	if opts.WebDAVPrefix == "" {
		opts.WebDAVPrefix = "/webdav"
	}
	return &Server{
		store:       store,
		broadcaster: opts.Broadcaster,
		limiter:     opts.RateLimiter,
		dav:         opts.WebDAV,
		davPrefix:   strings.TrimSuffix(opts.WebDAVPrefix, "/"),
		maxJSONBody: opts.MaxJSONBody,
		rootLabel:   opts.RootLabel,
		cors:        opts.CORS,
		streamsDone: make(chan struct{}),
	}
}

// Handler returns the HTTP handler wrapped in the logging, CORS, metrics
// and rate limiting middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/files", s.handleList)
	mux.HandleFunc("GET /api/stat", s.handleStat)
	mux.HandleFunc("GET /api/download", s.handleDownload)
	mux.HandleFunc("POST /api/upload", s.handleUpload)
	mux.HandleFunc("POST /api/mkdir", s.handleMkdir)
	mux.HandleFunc("DELETE /api/delete", s.handleDelete)
	mux.HandleFunc("POST /api/move", s.handleMove)

	if s.broadcaster != nil {
		mux.HandleFunc("GET /api/events", s.handleEvents)
	}

	if s.dav != nil {
		mux.Handle(s.davPrefix+"/", s.dav)
		mux.Handle(s.davPrefix, s.dav)
	}

	// metrics reads r.Pattern, which the mux sets on the request it is
	// handed, so it must sit directly above the limiter and mux.
	// Preflights are answered before they reach the limiter.
	return logging.Middleware(corsMiddleware(s.cors, metrics.Middleware(s.limiter.Middleware(mux))))
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := protocol.HealthResponse{
		Status:  "ok",
		Root:    s.rootLabel,
		Backend: s.store.Type(),
	}
	if ur, ok := s.store.(storage.UsageReporter); ok {
		if du, err := ur.DiskUsage(); err == nil {
			resp.Disk = du
		} else {
			logging.WithContext(r.Context()).Debug("disk usage unavailable", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ─── SSE Events ─────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		sendError(w, http.StatusInternalServerError, "streaming not supported", "")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.streamsDone:
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// CloseStreams ends every open event stream. http.Server.Shutdown waits
// for handlers to return, so register it with RegisterOnShutdown.
func (s *Server) CloseStreams() {
	s.closeOnce.Do(func() { close(s.streamsDone) })
}

// publish sends an event to the broadcaster if available.
func (s *Server) publish(e events.Event) {
	if s.broadcaster == nil {
		return
	}
	e.Source = events.SourceHTTP
	s.broadcaster.Publish(e)
}

// ─── Listing ────────────────────────────────────────────────────────────────

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dir := queryPath(r)

	var order sortOrder
	switch q.Get("sort") {
	case "":
		order = sortNone
	case "name":
		order = sortByName
	default:
		sendError(w, http.StatusBadRequest, "sort must be \"name\"", storage.KindInvalidPath)
		return
	}
	pattern := q.Get("pattern")
	if err := validatePattern(pattern); err != nil {
		sendError(w, http.StatusBadRequest, err.Error(), storage.KindInvalidPath)
		return
	}

	entries, err := s.store.List(r.Context(), dir)
	if err != nil {
		sendStorageError(w, r, err)
		return
	}
	entries = filterEntries(entries, pattern)
	sortEntries(entries, order)

	writeJSONMaybeGzip(w, r, http.StatusOK, protocol.ListResponse{
		Path:  cleanVirtual(dir),
		Files: entries,
	})
}

func (s *Server) handleStat(w http.ResponseWriter, r *http.Request) {
	entry, err := s.store.Stat(r.Context(), queryPath(r))
	if err != nil {
		sendStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// ─── Download ───────────────────────────────────────────────────────────────

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("path")
	if p == "" {
		sendError(w, http.StatusBadRequest, "path is required", storage.KindInvalidPath)
		return
	}

	content, entry, err := s.store.Open(r.Context(), p)
	if err != nil {
		sendStorageError(w, r, err)
		return
	}
	defer content.Close()

	name := entry.Name
	ct, err := contentType(name, content)
	if err != nil {
		sendStorageError(w, r, storage.Map("download", p, err))
		return
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))

	cw := &countingWriter{ResponseWriter: w}
	http.ServeContent(cw, r, name, entry.UpdatedAt, content)
	metrics.RecordDownloadBytes(cw.n)

	logging.WithContext(r.Context()).Info("download",
		zap.String("path", p),
		zap.Int64("size", entry.Size),
		zap.Int64("sent", cw.n))
}

// contentType guesses from the extension first and sniffs the content
// otherwise. The content is rewound afterwards.
func contentType(name string, content io.ReadSeeker) (string, error) {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct, nil
	}
	mt, err := mimetype.DetectReader(content)
	if err != nil {
		return "", err
	}
	if _, err := content.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return mt.String(), nil
}

type countingWriter struct {
	http.ResponseWriter
	n int64
}

func (c *countingWriter) Write(b []byte) (int, error) {
	n, err := c.ResponseWriter.Write(b)
	c.n += int64(n)
	return n, err
}

// ─── Upload ─────────────────────────────────────────────────────────────────

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	dir := queryPath(r)

	mr, err := r.MultipartReader()
	if err != nil {
		sendError(w, http.StatusBadRequest, "expected multipart/form-data body: "+err.Error(), storage.KindInvalidPath)
		return
	}

	res, err := s.store.Upload(r.Context(), dir, &multipartSource{mr: mr, field: UploadField})
	if res != nil {
		for _, name := range res.Stored {
			s.publish(events.Event{Type: events.EventCreate, Path: path.Join(cleanVirtual(dir), name)})
		}
	}
	if err != nil {
		sendStorageError(w, r, err)
		return
	}

	log := logging.WithContext(r.Context())
	switch {
	case len(res.Stored) == 0 && len(res.Failed) == 0:
		sendError(w, http.StatusBadRequest, "no files in field \""+UploadField+"\"", storage.KindInvalidPath)
		return
	case len(res.Stored) == 0:
		first := res.Failed[0]
		log.Warn("upload rejected", zap.String("dir", dir), zap.Int("failed", len(res.Failed)))
		writeJSON(w, first.Kind.HTTPStatus(), protocol.UploadResponse{
			Message: "No files were uploaded",
			Files:   res.Stored,
			Failed:  res.Failed,
		})
		return
	}

	log.Info("upload",
		zap.String("dir", dir),
		zap.Strings("files", res.Stored),
		zap.Int("failed", len(res.Failed)),
		zap.Int64("bytes", res.Written))

	msg := "Files uploaded successfully"
	if len(res.Failed) > 0 {
		msg = fmt.Sprintf("%d of %d files uploaded", len(res.Stored), len(res.Stored)+len(res.Failed))
	}
	writeJSON(w, http.StatusOK, protocol.UploadResponse{
		Message: msg,
		Files:   res.Stored,
		Failed:  res.Failed,
	})
}

// multipartSource yields the file parts of one form field in order.
type multipartSource struct {
	mr    *multipart.Reader
	field string
}

func (m *multipartSource) Next() (*storage.UploadItem, error) {
	for {
		part, err := m.mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() != m.field {
			continue
		}
		name := rawFileName(part)
		if name == "" {
			continue
		}
		return &storage.UploadItem{Name: name, Body: part}, nil
	}
}

// rawFileName returns the filename parameter as sent. Part.FileName
// strips directories, which would store "a/../b" as "b" instead of
// rejecting it.
func rawFileName(part *multipart.Part) string {
	_, params, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
	if err != nil {
		return ""
	}
	return params["filename"]
}

// ─── Mutations ──────────────────────────────────────────────────────────────

func (s *Server) handleMkdir(w http.ResponseWriter, r *http.Request) {
	var req protocol.MkdirRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}

	created, err := s.store.Mkdir(r.Context(), req.Path, req.Name)
	if err != nil {
		sendStorageError(w, r, err)
		return
	}
	s.publish(events.Event{Type: events.EventCreate, Path: created, IsDirectory: true})
	logging.WithContext(r.Context()).Info("mkdir", zap.String("path", created))

	writeJSON(w, http.StatusOK, protocol.MessageResponse{
		Message: "Directory created successfully",
		Path:    created,
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req protocol.DeleteRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}

	if err := s.store.Remove(r.Context(), req.Path); err != nil {
		sendStorageError(w, r, err)
		return
	}
	p := cleanVirtual(req.Path)
	s.publish(events.Event{Type: events.EventDelete, Path: p})
	logging.WithContext(r.Context()).Info("delete", zap.String("path", p))

	writeJSON(w, http.StatusOK, protocol.MessageResponse{Message: "Deleted successfully"})
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req protocol.MoveRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}

	if err := s.store.Move(r.Context(), req.OldPath, req.NewPath); err != nil {
		sendStorageError(w, r, err)
		return
	}
	from, to := cleanVirtual(req.OldPath), cleanVirtual(req.NewPath)
	s.publish(events.Event{Type: events.EventMove, From: from, Path: to})
	logging.WithContext(r.Context()).Info("move", zap.String("from", from), zap.String("to", to))

	writeJSON(w, http.StatusOK, protocol.MessageResponse{Message: "Moved successfully"})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

type validator interface {
	Validate() error
}

// decodeRequest reads a JSON body into v and validates it. On failure it
// writes a 400 response and returns false.
func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request, v validator) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			sendError(w, http.StatusRequestEntityTooLarge, "request body too large", storage.KindInvalidPath)
			return false
		}
		sendError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error(), storage.KindInvalidPath)
		return false
	}
	if dec.More() {
		sendError(w, http.StatusBadRequest, "invalid JSON body: trailing data", storage.KindInvalidPath)
		return false
	}
	if err := v.Validate(); err != nil {
		sendError(w, http.StatusBadRequest, err.Error(), storage.KindOf(err))
		return false
	}
	return true
}

func queryPath(r *http.Request) string {
	if p := r.URL.Query().Get("path"); p != "" {
		return p
	}
	return "/"
}

// cleanVirtual normalizes a client path for responses and events. The
// store has already validated it.
func cleanVirtual(p string) string {
	return path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONMaybeGzip(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Add("Vary", "Accept-Encoding")
	if !acceptsGzip(r) {
		writeJSON(w, status, v)
		return
	}
	gz := gzipPool.Get().(*gzip.Writer)
	defer gzipPool.Put(gz)
	gz.Reset(w)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Encoding", "gzip")
	w.WriteHeader(status)
	json.NewEncoder(gz).Encode(v)
	gz.Close()
}

func acceptsGzip(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
}

func sendError(w http.ResponseWriter, code int, message string, kind storage.Kind) {
	writeJSON(w, code, protocol.ErrorResponse{
		Error: message,
		Code:  code,
		Kind:  string(kind),
	})
}

// sendStorageError writes err with the status of its kind.
func sendStorageError(w http.ResponseWriter, r *http.Request, err error) {
	kind := storage.KindOf(err)
	status := kind.HTTPStatus()
	log := logging.WithContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.String("kind", string(kind)), zap.Error(err))
	} else {
		log.Warn("request rejected", zap.String("kind", string(kind)), zap.Error(err))
	}
	sendError(w, status, err.Error(), kind)
}
