package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

type localConfig struct {
	Dir string `json:"dir"`
}

type localStore struct {
	dir string
}

func init() {
	Register("local", createLocalStore)
}

func createLocalStore(args interface{}) (Store, error) {
	config := &localConfig{}
	if err := decodeConfig(args, config); err != nil {
		return nil, err
	}
	if config.Dir == "" {
		return nil, fmt.Errorf("local store dir is required")
	}
	if err := os.MkdirAll(config.Dir, 0o755); err != nil {
		return nil, err
	}
	return &localStore{dir: config.Dir}, nil
}

func (s *localStore) abs(key string) string {
	return filepath.Join(s.dir, filepath.FromSlash(key))
}

func (s *localStore) Save(ctx context.Context, key string, r io.Reader, size int64) error {
	_ = ctx
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	path := s.abs(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, r); err != nil {
		return err
	}
	return out.Sync()
}

func (s *localStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	_ = ctx
	key, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	return os.Open(s.abs(key))
}

func (s *localStore) List(ctx context.Context, prefix string) ([]Object, error) {
	_ = ctx
	prefix = strings.Trim(prefix, "/")
	root := s.dir
	if prefix != "" {
		root = s.abs(prefix)
	}
	var objects []Object
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.dir, path)
		if err != nil {
			return err
		}
		objects = append(objects, Object{
			Key:     filepath.ToSlash(rel),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return objects, nil
}

func (s *localStore) Delete(ctx context.Context, prefix string) error {
	_ = ctx
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return fmt.Errorf("delete prefix is required")
	}
	if _, err := cleanKey(prefix); err != nil {
		return err
	}
	if err := os.RemoveAll(s.abs(prefix)); err != nil {
		return err
	}
	s.pruneEmptyParents(prefix)
	return nil
}

// pruneEmptyParents removes directories left empty by a delete, up to but
// not including the store root. A prefix shared with live files stops the
// walk at the first non-empty parent.
func (s *localStore) pruneEmptyParents(prefix string) {
	for dir := filepath.Dir(filepath.FromSlash(prefix)); dir != "." && dir != string(filepath.Separator); dir = filepath.Dir(dir) {
		if err := os.Remove(filepath.Join(s.dir, dir)); err != nil {
			return
		}
	}
}
