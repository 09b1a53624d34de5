package picker

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ncruces/zenity"
)

func stubSelect(t *testing.T, path string, err error) {
	t.Helper()
	orig := selectFile
	selectFile = func(options ...zenity.Option) (string, error) { return path, err }
	t.Cleanup(func() { selectFile = orig })
}

func TestFilters_CoverImageExtensions(t *testing.T) {
	f := Filters()
	if len(f) != 1 || f[0].Name != "Images" {
		t.Fatalf("unexpected filters: %+v", f)
	}
	seen := map[string]bool{}
	for _, p := range f[0].Patterns {
		seen[p] = true
	}
	for _, p := range []string{"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.bmp", "*.tif", "*.tiff"} {
		if !seen[p] {
			t.Fatalf("pattern %s missing from %v", p, f[0].Patterns)
		}
	}
}

func TestPickImage_Canceled(t *testing.T) {
	stubSelect(t, "", zenity.ErrCanceled)
	if _, err := PickImage(); !errors.Is(err, ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
}

func TestPickImage_Failure(t *testing.T) {
	stubSelect(t, "", errors.New("no display"))
	_, err := PickImage()
	if err == nil || errors.Is(err, ErrCanceled) {
		t.Fatalf("expected picker failure, got %v", err)
	}
}

func TestPick_LoadsChosenImage(t *testing.T) {
	p := filepath.Join(t.TempDir(), "sched.png")
	if err := os.WriteFile(p, []byte("pngdata"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	stubSelect(t, p, nil)

	img, err := Pick(1024)
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if img.Filename != "sched.png" || img.ContentType != "image/png" || string(img.Data) != "pngdata" {
		t.Fatalf("unexpected image: %+v", img)
	}
}
