package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapClassifiesFilesystemErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"missing", &fs.PathError{Op: "stat", Path: "/x", Err: syscall.ENOENT}, KindNotFound},
		{"denied", &fs.PathError{Op: "open", Path: "/x", Err: syscall.EACCES}, KindPermissionDenied},
		{"exists", &os.LinkError{Op: "rename", Old: "/a", New: "/b", Err: syscall.EEXIST}, KindConflict},
		{"not empty", &fs.PathError{Op: "rmdir", Path: "/x", Err: syscall.ENOTEMPTY}, KindConflict},
		{"not dir", &fs.PathError{Op: "open", Path: "/x", Err: syscall.ENOTDIR}, KindNotADirectory},
		{"is dir", &fs.PathError{Op: "open", Path: "/x", Err: syscall.EISDIR}, KindIsADirectory},
		{"disk full", &fs.PathError{Op: "write", Path: "/x", Err: syscall.ENOSPC}, KindInsufficientStorage},
		{"read only", &fs.PathError{Op: "mkdir", Path: "/x", Err: syscall.EROFS}, KindPermissionDenied},
		{"cross device", &os.LinkError{Op: "rename", Old: "/a", New: "/b", Err: syscall.EXDEV}, KindInternal},
		{"invalid", &fs.PathError{Op: "open", Path: "/x", Err: syscall.EINVAL}, KindInvalidPath},
		{"unknown", errors.New("boom"), KindInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Map("op", "/x", tc.err)
			require.Error(t, err)
			assert.Equal(t, tc.want, KindOf(err))
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestMapKeepsUnclassifiedMessage(t *testing.T) {
	err := Map("list", "/docs", errors.New("device on fire"))
	assert.Equal(t, "list /docs: device on fire", err.Error())
}

func TestMapPreservesExistingKind(t *testing.T) {
	orig := Errorf(KindConflict, "", "", "destination exists")
	err := Map("move", "/a", fmt.Errorf("wrapped: %w", orig))

	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, KindConflict, se.Kind)
	assert.Equal(t, "move", se.Op)
	assert.Equal(t, "/a", se.Path)
	assert.Empty(t, orig.Op, "original error must not be mutated")
}

func TestMapNil(t *testing.T) {
	assert.NoError(t, Map("op", "/", nil))
}

func TestSentinelMatching(t *testing.T) {
	err := Map("delete", "/gone", fs.ErrNotExist)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrConflict)
}

func TestKindHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, KindInvalidPath.HTTPStatus())
	assert.Equal(t, http.StatusNotFound, KindNotFound.HTTPStatus())
	assert.Equal(t, http.StatusForbidden, KindPermissionDenied.HTTPStatus())
	assert.Equal(t, http.StatusConflict, KindConflict.HTTPStatus())
	assert.Equal(t, http.StatusInsufficientStorage, KindInsufficientStorage.HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, KindInternal.HTTPStatus())
}
