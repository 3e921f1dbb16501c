// Package staging writes job payloads into a scratch directory where the
// converter can read them.
package staging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrIO matches every staging failure, including rejected file ids.
var ErrIO = errors.New("staging io")

type Stager struct {
	dir    string
	unique bool
}

// File is one staged input. It is owned by a single job.
type File struct {
	Key  string
	Path string
}

// New prepares dir as the scratch root. With unique set, every Stage call
// gets its own path even for a repeated file id.
func New(dir string, unique bool) (*Stager, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: ensure scratch dir: %w", ErrIO, err)
	}
	return &Stager{dir: dir, unique: unique}, nil
}

func (s *Stager) Dir() string { return s.dir }

// Stage writes data under a name derived from fileID, replacing whatever
// an earlier job left there.
func (s *Stager) Stage(ctx context.Context, fileID string, data []byte) (*File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name, err := sanitize(fileID)
	if err != nil {
		return nil, err
	}
	if s.unique {
		name = name + "." + uuid.NewString()
	}
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("%w: write %s: %w", ErrIO, path, err)
	}
	return &File{Key: fileID, Path: path}, nil
}

// Remove deletes the staged file. A file that is already gone is fine.
func (f *File) Remove() error {
	if f == nil {
		return nil
	}
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove %s: %w", ErrIO, f.Path, err)
	}
	return nil
}

// sanitize keeps the id as a single path element inside the scratch dir.
func sanitize(fileID string) (string, error) {
	if fileID == "" {
		return "", fmt.Errorf("%w: empty file id", ErrIO)
	}
	if fileID == "." || fileID == ".." ||
		strings.ContainsAny(fileID, `/\`) ||
		strings.ContainsRune(fileID, 0) {
		return "", fmt.Errorf("%w: file id %q is not a plain file name", ErrIO, fileID)
	}
	return fileID, nil
}
