package local

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/fruitsalade/rootshare/internal/storage"
)

// Root confines every path operation to one directory tree. It is built
// once at startup and only read afterwards.
type Root struct {
	path string // absolute, symlinks resolved
}

// Resolved is a real filesystem path proven to lie inside a Root.
// Only Root.Resolve produces one.
type Resolved struct {
	virtual string
	real    string
}

// Virtual returns the normalized virtual path ("/" for the root).
func (r Resolved) Virtual() string { return r.virtual }

// Real returns the absolute filesystem path.
func (r Resolved) Real() string { return r.real }

// IsRoot reports whether r denotes the root directory itself.
func (r Resolved) IsRoot() bool { return r.virtual == "/" }

// NewRoot canonicalizes dir and returns a Root for it. When create is set
// a missing directory is created.
func NewRoot(dir string, create bool) (*Root, error) {
	if dir == "" {
		return nil, fmt.Errorf("root path is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", dir, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && create {
			if mkErr := os.MkdirAll(abs, 0o755); mkErr != nil {
				return nil, fmt.Errorf("create root %s: %w", abs, mkErr)
			}
		} else {
			return nil, fmt.Errorf("stat root %s: %w", abs, err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", abs)
	}

	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("canonicalize root %s: %w", abs, err)
	}
	return &Root{path: canonical}, nil
}

// Path returns the canonical root directory.
func (r *Root) Path() string { return r.path }

// Resolve maps a caller-supplied virtual path to a location inside the root.
// Traversal segments and symbolic links that would leave the root make it
// fail with an InvalidPath error; it never returns an out-of-bounds path.
func (r *Root) Resolve(virtual string) (Resolved, error) {
	if strings.IndexByte(virtual, 0) >= 0 {
		return Resolved{}, storage.Errorf(storage.KindInvalidPath, "resolve", virtual, "path contains NUL byte")
	}

	// Lexical pass: the joined path must stay under the root before any
	// filesystem lookup happens.
	v := filepath.ToSlash(virtual)
	joined := filepath.Join(r.path, filepath.FromSlash("/"+v))
	rel, err := filepath.Rel(r.path, joined)
	if err != nil || escapes(rel) {
		return Resolved{}, storage.Errorf(storage.KindInvalidPath, "resolve", virtual, "path escapes root")
	}

	// Canonical pass: follow symlinks on whatever part already exists.
	canonical, err := canonicalize(joined)
	if err != nil {
		return Resolved{}, storage.Map("resolve", virtual, err)
	}
	if !r.contains(canonical) {
		return Resolved{}, storage.Errorf(storage.KindInvalidPath, "resolve", virtual, "path escapes root")
	}

	// Keep the final component unresolved so remove and move act on a
	// link itself rather than on its target.
	real := joined
	if rel != "." {
		parent, err := canonicalize(filepath.Dir(joined))
		if err != nil {
			return Resolved{}, storage.Map("resolve", virtual, err)
		}
		if !r.contains(parent) {
			return Resolved{}, storage.Errorf(storage.KindInvalidPath, "resolve", virtual, "path escapes root")
		}
		real = filepath.Join(parent, filepath.Base(joined))
	} else {
		real = r.path
	}

	return Resolved{virtual: toVirtual(rel), real: real}, nil
}

// Join resolves name inside dir. Name must be a single path element.
func (r *Root) Join(dir Resolved, name string) (Resolved, error) {
	if err := ValidateName(name); err != nil {
		return Resolved{}, storage.Map("resolve", path.Join(dir.virtual, name), err)
	}
	return r.Resolve(path.Join(dir.virtual, name))
}

// ValidateName rejects names that are not a single path element.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return storage.Errorf(storage.KindInvalidPath, "", "", "invalid name %q", name)
	case strings.ContainsAny(name, "/\x00"), filepath.Separator != '/' && strings.ContainsRune(name, filepath.Separator):
		return storage.Errorf(storage.KindInvalidPath, "", "", "name %q must not contain a path separator", name)
	}
	return nil
}

func (r *Root) contains(p string) bool {
	rel, err := filepath.Rel(r.path, p)
	return err == nil && !escapes(rel)
}

func escapes(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel)
}

// canonicalize resolves symlinks in the longest existing prefix of p and
// appends the remaining, not yet existing, elements unchanged.
func canonicalize(p string) (string, error) {
	resolved, err := filepath.EvalSymlinks(p)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	parent := filepath.Dir(p)
	if parent == p {
		return p, nil
	}
	base, err := canonicalize(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, filepath.Base(p)), nil
}

func toVirtual(rel string) string {
	if rel == "." {
		return "/"
	}
	return "/" + filepath.ToSlash(rel)
}
