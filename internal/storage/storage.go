// Package storage defines the Store interface served by every frontend
// (HTTP API, WebDAV, SFTP) and the error taxonomy shared by all backends.
package storage

import (
	"context"
	"io"
	"time"
)

// Entry describes one filesystem object relative to the root.
type Entry struct {
	Name        string    `json:"name"`
	IsDirectory bool      `json:"isDirectory"`
	Size        int64     `json:"size"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// UploadItem is one named incoming byte stream. Body is consumed exactly once.
type UploadItem struct {
	Name string
	Body io.Reader
}

// UploadSource yields upload items in order. Next returns io.EOF once the
// source is exhausted; any other error aborts the upload.
type UploadSource interface {
	Next() (*UploadItem, error)
}

// UploadFailure reports an item that could not be stored.
type UploadFailure struct {
	Name    string `json:"name"`
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// UploadResult lists the outcome of a multi-item upload. Items in Stored
// are fully committed; items in Failed left nothing under their final name.
type UploadResult struct {
	Stored  []string        `json:"stored"`
	Failed  []UploadFailure `json:"failed,omitempty"`
	Written int64           `json:"written"`
}

// Content is an open file returned by Store.Open.
type Content interface {
	io.ReadSeekCloser
	io.ReaderAt
}

// Pending is a file being written. Close commits it under its final name;
// Abort discards it. Exactly one of them must be called.
type Pending interface {
	io.Writer
	io.WriterAt
	io.Closer
	Abort() error
	Name() string
}

// Store is the interface for confined file storage. All path arguments are
// virtual paths relative to the store root ("/" is the root itself).
type Store interface {
	// List returns the immediate children of a directory, in no particular order.
	List(ctx context.Context, dir string) ([]Entry, error)

	// Stat returns metadata for a single path.
	Stat(ctx context.Context, path string) (*Entry, error)

	// Upload stores every item of src under dir, creating dir if needed.
	Upload(ctx context.Context, dir string, src UploadSource) (*UploadResult, error)

	// Create starts writing a single file named name inside dir.
	Create(ctx context.Context, dir, name string) (Pending, error)

	// Open returns the content of a regular file along with its metadata.
	Open(ctx context.Context, path string) (Content, *Entry, error)

	// Mkdir creates parent/name and any missing ancestors. It returns the
	// virtual path of the directory.
	Mkdir(ctx context.Context, parent, name string) (string, error)

	// Remove deletes a file or a whole directory tree.
	Remove(ctx context.Context, path string) error

	// Move renames from to to. It never overwrites an existing destination.
	Move(ctx context.Context, from, to string) error

	// Type returns the backend type identifier ("local", "smb").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}

// DiskUsage is the capacity of the filesystem holding a store's root.
type DiskUsage struct {
	Total uint64 `json:"total"`
	Free  uint64 `json:"free"`
	Used  uint64 `json:"used"`
}

// UsageReporter is implemented by stores that can report disk usage.
type UsageReporter interface {
	DiskUsage() (*DiskUsage, error)
}
