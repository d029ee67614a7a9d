// Package storage holds attachment bytes behind a locator-string
// contract. The rest of the application only ever sees stored names; it
// never inspects file content.
package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var ErrTooLarge = errors.New("file exceeds size limit")

type Store interface {
	// Save writes at most limit bytes and returns the stored name and the
	// byte count. ErrTooLarge when the reader yields more than limit.
	Save(r io.Reader, originalName string, limit int64) (stored string, size int64, err error)
	// Remove deletes a stored file. Missing files are not an error.
	Remove(stored string) error
	// Path resolves a stored name to an on-disk path.
	Path(stored string) string
}

type Local struct {
	Dir string
}

func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage dir: %w", err)
	}
	return &Local{Dir: dir}, nil
}

func (l *Local) Save(r io.Reader, originalName string, limit int64) (string, int64, error) {
	ext := strings.ToLower(filepath.Ext(filepath.Base(originalName)))
	stored := uuid.NewString() + ext

	f, err := os.Create(l.Path(stored))
	if err != nil {
		return "", 0, err
	}

	n, err := io.Copy(f, io.LimitReader(r, limit+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > limit {
		err = ErrTooLarge
	}
	if err != nil {
		_ = os.Remove(l.Path(stored))
		return "", 0, err
	}
	return stored, n, nil
}

func (l *Local) Remove(stored string) error {
	err := os.Remove(l.Path(stored))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Path joins against Base(stored) so a locator can never escape Dir.
func (l *Local) Path(stored string) string {
	return filepath.Join(l.Dir, filepath.Base(stored))
}
