package picker

import (
	"errors"
	"fmt"

	"github.com/ncruces/zenity"

	"github.com/jo-hoe/schedule2cal/internal/convert"
	"github.com/jo-hoe/schedule2cal/internal/storage"
)

// ErrCanceled is returned when the user closes the chooser without picking a file.
var ErrCanceled = errors.New("image selection canceled")

const dialogTitle = "Select schedule image"

// selectFile is swapped in tests; the real dialog needs a desktop session.
var selectFile = zenity.SelectFile

// Filters returns the file filters offered by the chooser.
func Filters() zenity.FileFilters {
	return zenity.FileFilters{
		{Name: "Images", Patterns: storage.ImageFilterPatterns()},
	}
}

// PickImage opens a native file chooser filtered to images and returns the chosen path.
func PickImage() (string, error) {
	path, err := selectFile(zenity.Title(dialogTitle), Filters())
	if err != nil {
		if errors.Is(err, zenity.ErrCanceled) {
			return "", ErrCanceled
		}
		return "", fmt.Errorf("file picker: %w", err)
	}
	if path == "" {
		return "", ErrCanceled
	}
	return path, nil
}

// Pick opens the chooser and loads the chosen image, bounded by maxBytes (0 means no limit).
func Pick(maxBytes int64) (convert.SelectedImage, error) {
	path, err := PickImage()
	if err != nil {
		return convert.SelectedImage{}, err
	}
	return storage.ReadImageFile(path, maxBytes)
}
