// Package protocol defines the API request/response types.
package protocol

import (
	"strings"

	"github.com/fruitsalade/rootshare/internal/storage"
)

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
	Kind  string `json:"kind,omitempty"`
}

// MessageResponse acknowledges a mutation.
type MessageResponse struct {
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

// ListResponse is returned by GET /api/files.
type ListResponse struct {
	Path  string          `json:"path"`
	Files []storage.Entry `json:"files"`
}

// UploadResponse is returned by POST /api/upload.
type UploadResponse struct {
	Message string                  `json:"message"`
	Files   []string                `json:"files"`
	Failed  []storage.UploadFailure `json:"failed,omitempty"`
}

// MkdirRequest is the body for POST /api/mkdir.
type MkdirRequest struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// Validate checks required fields.
func (r *MkdirRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return missing("name")
	}
	if r.Path == "" {
		r.Path = "/"
	}
	return nil
}

// DeleteRequest is the body for DELETE /api/delete.
type DeleteRequest struct {
	Path string `json:"path"`
}

// Validate checks required fields.
func (r *DeleteRequest) Validate() error {
	if strings.TrimSpace(r.Path) == "" {
		return missing("path")
	}
	return nil
}

// MoveRequest is the body for POST /api/move.
type MoveRequest struct {
	OldPath string `json:"oldPath"`
	NewPath string `json:"newPath"`
}

// Validate checks required fields.
func (r *MoveRequest) Validate() error {
	if strings.TrimSpace(r.OldPath) == "" {
		return missing("oldPath")
	}
	if strings.TrimSpace(r.NewPath) == "" {
		return missing("newPath")
	}
	return nil
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string             `json:"status"`
	Root    string             `json:"root"`
	Backend string             `json:"backend"`
	Disk    *storage.DiskUsage `json:"disk,omitempty"`
}

func missing(field string) error {
	return storage.Errorf(storage.KindInvalidPath, "", "", "%s is required", field)
}
