package storage

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/jo-hoe/schedule2cal/internal/common"
	"github.com/jo-hoe/schedule2cal/internal/convert"
)

// ErrTooLarge is returned when an image exceeds the configured upload limit.
var ErrTooLarge = errors.New("image exceeds size limit")

var allowedImageMimes = map[string]string{
	common.MimeImagePNG:  ".png",
	common.MimeImageJPEG: ".jpg",
	common.MimeImageJPG:  ".jpg",
	common.MimeImageGIF:  ".gif",
	common.MimeImageWEBP: ".webp",
	common.MimeImageBMP:  ".bmp",
	common.MimeImageTIFF: ".tiff",
}

var imageExtensions = map[string]string{
	".png":  common.MimeImagePNG,
	".jpg":  common.MimeImageJPEG,
	".jpeg": common.MimeImageJPEG,
	".gif":  common.MimeImageGIF,
	".webp": common.MimeImageWEBP,
	".bmp":  common.MimeImageBMP,
	".tif":  common.MimeImageTIFF,
	".tiff": common.MimeImageTIFF,
}

// IsImage reports whether a file passes the image filter, by declared media type or by extension.
func IsImage(name, mimeType string) bool {
	return DetectImageMime(name, mimeType) != ""
}

// DetectImageMime returns the normalized image media type for a file, or "" if it is not an image.
func DetectImageMime(name, mimeType string) string {
	mt := normalizeMime(mimeType)
	// Some clients set application/octet-stream for uploads; treat it as unknown and fall back to extension.
	if mt != "" && mt != common.ContentTypeOctetStream {
		if _, ok := allowedImageMimes[mt]; ok {
			return mt
		}
		if strings.HasPrefix(mt, "image/") {
			return mt
		}
		return ""
	}
	ext := strings.ToLower(filepath.Ext(name))
	if known, ok := imageExtensions[ext]; ok {
		return known
	}
	if byExt := normalizeMime(mime.TypeByExtension(ext)); strings.HasPrefix(byExt, "image/") {
		return byExt
	}
	return ""
}

// ImageFilterPatterns lists the glob patterns pickers offer for image selection.
func ImageFilterPatterns() []string {
	out := make([]string, 0, len(imageExtensions))
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp", ".tif", ".tiff"} {
		out = append(out, "*"+ext)
	}
	return out
}

// ReadMultipartImage validates an uploaded form file and reads it into memory.
func ReadMultipartImage(fileHeader *multipart.FileHeader, maxBytes int64) (convert.SelectedImage, error) {
	if fileHeader == nil {
		return convert.SelectedImage{}, fmt.Errorf("no file provided")
	}
	mimeType := DetectImageMime(fileHeader.Filename, fileHeader.Header.Get(common.HeaderContentType))
	if mimeType == "" {
		return convert.SelectedImage{}, fmt.Errorf("unsupported content type: %s", fileHeader.Header.Get(common.HeaderContentType))
	}
	if maxBytes > 0 && fileHeader.Size > maxBytes {
		return convert.SelectedImage{}, ErrTooLarge
	}

	src, err := fileHeader.Open()
	if err != nil {
		return convert.SelectedImage{}, fmt.Errorf("open uploaded file: %w", err)
	}
	defer func() { _ = src.Close() }()

	data, err := readLimited(src, maxBytes)
	if err != nil {
		return convert.SelectedImage{}, err
	}
	return convert.SelectedImage{
		Filename:    filepath.Base(fileHeader.Filename),
		ContentType: mimeType,
		Data:        data,
	}, nil
}

// ReadImageFile loads an image from disk, applying the same filter as uploads.
func ReadImageFile(path string, maxBytes int64) (convert.SelectedImage, error) {
	mimeType := DetectImageMime(path, "")
	if mimeType == "" {
		return convert.SelectedImage{}, fmt.Errorf("not an image file: %s", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return convert.SelectedImage{}, fmt.Errorf("open image: %w", err)
	}
	defer func() { _ = f.Close() }()

	data, err := readLimited(f, maxBytes)
	if err != nil {
		return convert.SelectedImage{}, err
	}
	return convert.SelectedImage{
		Filename:    filepath.Base(path),
		ContentType: mimeType,
		Data:        data,
	}, nil
}

func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("read image: %w", err)
		}
		return data, nil
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}

func normalizeMime(mimeType string) string {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return mt
}

func pickExtension(mimeType, original string) string {
	if ext, ok := allowedImageMimes[normalizeMime(mimeType)]; ok {
		return ext
	}
	ext := strings.ToLower(filepath.Ext(original))
	if ext == "" {
		return ".bin"
	}
	return ext
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
