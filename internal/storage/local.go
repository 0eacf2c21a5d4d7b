package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// Local reads quotes from a directory on disk.
type Local struct {
	root string
}

// NewLocal returns a Local rooted at dir.
func NewLocal(dir string) *Local {
	return &Local{root: dir}
}

func (l *Local) Download(ctx context.Context, p string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rel, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	full := filepath.Join(l.root, filepath.FromSlash(rel))

	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(rel)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "storage: read %s", full)
	}
	return &Object{Path: rel, Name: filepath.Base(full), MimeType: DetectMime(full, data), Data: data}, nil
}

func (l *Local) Upload(ctx context.Context, p string, data []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rel, err := cleanPath(p)
	if err != nil {
		return err
	}
	full := filepath.Join(l.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return eris.Wrapf(err, "storage: mkdir %s", filepath.Dir(full))
	}
	return eris.Wrapf(os.WriteFile(full, data, 0o644), "storage: write %s", full)
}
