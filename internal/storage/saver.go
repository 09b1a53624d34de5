package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jo-hoe/schedule2cal/internal/convert"
)

const maxNumberedNames = 1000

var _ convert.Saver = (*FileSaver)(nil)

// FileSaver writes downloads into a directory.
type FileSaver struct {
	dir       string
	overwrite bool

	last string
}

// NewFileSaver creates a saver for dir. Without overwrite, existing files are kept
// and the download is stored as "name (1).ext", "name (2).ext", ...
func NewFileSaver(dir string, overwrite bool) *FileSaver {
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}
	return &FileSaver{dir: dir, overwrite: overwrite}
}

// Save writes d through a temp file and a rename.
func (s *FileSaver) Save(ctx context.Context, d convert.Download) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("ensure output dir: %w", err)
	}
	name := filepath.Base(d.Filename)
	if name == "." || name == string(filepath.Separator) {
		return fmt.Errorf("invalid download filename %q", d.Filename)
	}

	tmp, err := os.CreateTemp(s.dir, ".download-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(d.Data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file: %w", err)
	}

	dst, err := s.destination(name)
	if err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename into place: %w", err)
	}
	s.last = dst
	return nil
}

// LastPath returns where the most recent download was written.
func (s *FileSaver) LastPath() string {
	return s.last
}

func (s *FileSaver) destination(name string) (string, error) {
	dst := filepath.Join(s.dir, name)
	if s.overwrite {
		return dst, nil
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; i < maxNumberedNames; i++ {
		candidate := dst
		if i > 0 {
			candidate = filepath.Join(s.dir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
		}
		if _, err := os.Stat(candidate); errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		} else if err != nil {
			return "", fmt.Errorf("stat %s: %w", candidate, err)
		}
	}
	return "", fmt.Errorf("no free filename for %s in %s", name, s.dir)
}
