package documentstore

import (
	"context"
	"errors"
	"io/fs"
	"mime"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"
)

// LocalStore keeps documents on a filesystem rooted at a base directory.
type LocalStore struct {
	fs afero.Fs
}

// NewLocalStore stores keys as relative paths on fsys.
func NewLocalStore(fsys afero.Fs) *LocalStore {
	return &LocalStore{fs: fsys}
}

// NewDiskStore roots the store at dir on the host filesystem.
func NewDiskStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	return NewLocalStore(afero.NewBasePathFs(afero.NewOsFs(), dir)), nil
}

func (s *LocalStore) Put(ctx context.Context, key string, data []byte, _ string) error {
	name, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.fs.MkdirAll(path.Dir(name), 0o750); err != nil {
		return err
	}
	return afero.WriteFile(s.fs, name, data, 0o640)
}

func (s *LocalStore) Get(ctx context.Context, key string) (Object, error) {
	name, err := cleanKey(key)
	if err != nil {
		return Object{}, err
	}
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	body, err := afero.ReadFile(s.fs, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Object{}, ErrNotFound
		}
		return Object{}, err
	}
	return Object{Key: key, Body: body, ContentType: contentTypeFor(name)}, nil
}

func (s *LocalStore) Delete(ctx context.Context, key string) error {
	name, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.fs.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	name, err := cleanKey(key)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return afero.Exists(s.fs, name)
}

func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean("/" + key)
	if cleaned == "/" || strings.Contains(key, "..") {
		return "", ErrInvalidKey
	}
	return strings.TrimPrefix(cleaned, "/"), nil
}

func contentTypeFor(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return strings.SplitN(ct, ";", 2)[0]
	}
	return "application/octet-stream"
}
