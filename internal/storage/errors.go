package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
)

// Kind classifies a storage failure.
type Kind string

const (
	KindInvalidPath         Kind = "InvalidPath"
	KindNotFound            Kind = "NotFound"
	KindNotADirectory       Kind = "NotADirectory"
	KindIsADirectory        Kind = "IsADirectory"
	KindPermissionDenied    Kind = "PermissionDenied"
	KindConflict            Kind = "Conflict"
	KindInsufficientStorage Kind = "InsufficientStorage"
	KindInternal            Kind = "InternalFailure"
)

// HTTPStatus returns the response code for the kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidPath, KindNotADirectory, KindIsADirectory:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindInsufficientStorage:
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

// Error is the only error type that leaves a Store.
type Error struct {
	Kind    Kind
	Op      string
	Path    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Op != "" && e.Path != "":
		return fmt.Sprintf("%s %s: %s", e.Op, e.Path, msg)
	case e.Op != "":
		return e.Op + ": " + msg
	default:
		return msg
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match on kind: errors.Is(err, &Error{Kind: KindConflict}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Path == ""
}

// Sentinels for errors.Is checks.
var (
	ErrInvalidPath      = &Error{Kind: KindInvalidPath}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrNotADirectory    = &Error{Kind: KindNotADirectory}
	ErrIsADirectory     = &Error{Kind: KindIsADirectory}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrConflict         = &Error{Kind: KindConflict}
)

// Errorf builds an Error of the given kind.
func Errorf(kind Kind, op, path, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind carried by err, or KindInternal.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// Map normalizes err into an *Error tagged with op and the virtual path.
// Errors that are already classified keep their kind. nil maps to nil.
func Map(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		if se.Op != "" && se.Path != "" {
			return se
		}
		out := *se
		if out.Op == "" {
			out.Op = op
		}
		if out.Path == "" {
			out.Path = path
		}
		return &out
	}
	kind, msg := classify(err)
	return &Error{Kind: kind, Op: op, Path: path, Message: msg, Err: err}
}

func classify(err error) (Kind, string) {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return KindNotFound, "no such file or directory"
	case errors.Is(err, fs.ErrPermission):
		return KindPermissionDenied, "permission denied"
	case errors.Is(err, fs.ErrExist):
		return KindConflict, "already exists"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindInternal, "operation aborted: " + err.Error()
	}
	if kind, msg, ok := classifyErrno(err); ok {
		return kind, msg
	}
	if errors.Is(err, fs.ErrInvalid) {
		return KindInvalidPath, "invalid argument"
	}
	return KindInternal, err.Error()
}
