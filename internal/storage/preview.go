package storage

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/jo-hoe/schedule2cal/internal/common"
	"github.com/jo-hoe/schedule2cal/internal/convert"
)

var _ convert.Previewer = (*PreviewStore)(nil)

// PreviewStore keeps display copies of selected images on disk.
type PreviewStore struct {
	baseDir string

	mu   sync.Mutex
	live map[string]string // preview id -> path
}

// NewPreviewStore creates a preview store under baseDir/previews.
func NewPreviewStore(baseDir string) *PreviewStore {
	return &PreviewStore{
		baseDir: filepath.Join(baseDir, common.PreviewsDirName),
		live:    make(map[string]string),
	}
}

// Preview stores a copy of img and returns a reference that must be revoked.
// Undecodable images still get a preview; only Width, Height and Format stay empty.
func (s *PreviewStore) Preview(img convert.SelectedImage) (convert.Preview, error) {
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return convert.Preview{}, fmt.Errorf("ensure previews dir: %w", err)
	}

	id := randomHex(16)
	path := filepath.Join(s.baseDir, id+pickExtension(img.ContentType, img.Filename))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return convert.Preview{}, fmt.Errorf("create preview file: %w", err)
	}
	if _, err := f.Write(img.Data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return convert.Preview{}, fmt.Errorf("write preview: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return convert.Preview{}, fmt.Errorf("close preview: %w", err)
	}

	p := convert.Preview{ID: id, Path: path, Size: int64(len(img.Data))}
	if cfg, format, err := image.DecodeConfig(bytes.NewReader(img.Data)); err == nil {
		p.Width, p.Height, p.Format = cfg.Width, cfg.Height, format
	}

	s.mu.Lock()
	s.live[id] = path
	s.mu.Unlock()

	p.Revoke = func() error { return s.Revoke(id) }
	return p, nil
}

// Revoke deletes a preview. Revoking an unknown or already revoked id is a no-op.
func (s *PreviewStore) Revoke(id string) error {
	s.mu.Lock()
	path, ok := s.live[id]
	delete(s.live, id)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove preview: %w", err)
	}
	return nil
}

// Live returns the number of previews not yet revoked.
func (s *PreviewStore) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}
