package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"propd/internal/durationx"
	"propd/internal/perr"
	"propd/internal/value"

	"github.com/spf13/afero"
)

// File persists each value as a single file named by the key within a
// root directory; the file content is exactly the Value wire form.
// Grounded on builtin/file.c. Uses afero.Fs rather than bare os so tests
// run against afero.NewMemMapFs() instead of a real temp directory.
type File struct {
	name string
	fs   afero.Fs
	root string
}

// NewFile constructs a File backend rooted at root on fs. fs ==
// afero.NewOsFs() in production, afero.NewMemMapFs() in tests.
func NewFile(name string, fs afero.Fs, root string) (*File, error) {
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &File{name: name, fs: fs, root: root}, nil
}

func (f *File) Name() string { return f.name }

// path validates key is a bare filename (no separators, no traversal)
// and joins it under root. Storage backends aren't specified to
// validate keys, but writing arbitrary paths from a network-supplied key
// is a path-traversal vulnerability this backend must not have.
func (f *File) path(key string) (string, error) {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, "/\\") {
		return "", perr.ErrInvalid
	}
	return filepath.Join(f.root, key), nil
}

func (f *File) Get(_ context.Context, key string) (value.Value, time.Duration, error) {
	p, err := f.path(key)
	if err != nil {
		return value.Value{}, 0, err
	}
	data, err := afero.ReadFile(f.fs, p)
	if err != nil {
		if os.IsNotExist(err) {
			return value.Value{}, 0, perr.ErrNotFound
		}
		return value.Value{}, 0, perr.ErrIO
	}
	r := strings.NewReader(string(data))
	v, err := value.Decode(r)
	if err != nil {
		return value.Value{}, 0, perr.ErrIO
	}
	return v, durationx.Inf, nil
}

func (f *File) Set(_ context.Context, key string, v value.Value) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}
	file, err := f.fs.OpenFile(p, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return perr.ErrIO
	}
	defer file.Close()
	if err := value.Encode(file, v); err != nil {
		return perr.ErrIO
	}
	return nil
}

func (f *File) Del(_ context.Context, key string) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}
	if _, err := f.fs.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return perr.ErrNotFound
		}
		return perr.ErrIO
	}
	if err := f.fs.Remove(p); err != nil {
		return perr.ErrIO
	}
	return nil
}

func (f *File) Close() error { return nil }
