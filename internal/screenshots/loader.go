// Package screenshots resolves page file references to image bytes.
package screenshots

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrNotFound      = errors.New("screenshot not found")
	ErrTooLarge      = errors.New("screenshot exceeds size limit")
	ErrNotAnImage    = errors.New("file is not a supported image")
	ErrOutsideBase   = errors.New("path escapes the screenshot directory")
	ErrUnknownScheme = errors.New("unsupported screenshot reference")
)

// Loader resolves one reference to image bytes and their MIME type.
type Loader interface {
	Load(ctx context.Context, ref string) (data []byte, mimeType string, err error)
}

var supportedTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// DetectImageType sniffs data and returns its MIME type, or ErrNotAnImage.
func DetectImageType(data []byte) (string, error) {
	mimeType := http.DetectContentType(data)
	if !supportedTypes[mimeType] {
		return "", fmt.Errorf("%w: detected %s", ErrNotAnImage, mimeType)
	}
	return mimeType, nil
}

// readLimited reads at most limit bytes from r; more is ErrTooLarge.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, limit)
	}
	return data, nil
}

// ReadImage reads at most limit bytes from r and checks that they are an image.
func ReadImage(r io.Reader, limit int64) ([]byte, string, error) {
	data, err := readLimited(r, limit)
	if err != nil {
		return nil, "", err
	}
	mimeType, err := DetectImageType(data)
	if err != nil {
		return nil, "", err
	}
	return data, mimeType, nil
}

// FileLoader reads screenshots from the local filesystem, confined to BaseDir.
type FileLoader struct {
	BaseDir  string
	MaxBytes int64
}

func NewFileLoader(baseDir string, maxBytes int64) *FileLoader {
	return &FileLoader{BaseDir: baseDir, MaxBytes: maxBytes}
}

func (l *FileLoader) Load(ctx context.Context, ref string) ([]byte, string, error) {
	path, err := l.resolve(strings.TrimPrefix(ref, "file://"))
	if err != nil {
		return nil, "", err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, "", fmt.Errorf("open %s: %w", ref, err)
	}
	defer f.Close()

	data, mimeType, err := ReadImage(f, l.MaxBytes)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", ref, err)
	}
	return data, mimeType, nil
}

func (l *FileLoader) resolve(ref string) (string, error) {
	if l.BaseDir == "" {
		return filepath.Clean(ref), nil
	}
	base, err := filepath.Abs(l.BaseDir)
	if err != nil {
		return "", err
	}
	path := ref
	if !filepath.IsAbs(path) {
		path = filepath.Join(base, path)
	}
	path = filepath.Clean(path)
	rel, err := filepath.Rel(base, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideBase, ref)
	}
	return path, nil
}

// MultiLoader routes references by scheme: gs:// to GCS, everything else to the local
// loader.
type MultiLoader struct {
	Local Loader
	GCS   Loader
}

func (m *MultiLoader) Load(ctx context.Context, ref string) ([]byte, string, error) {
	switch {
	case strings.HasPrefix(ref, "gs://"):
		if m.GCS == nil {
			return nil, "", fmt.Errorf("%w: %s (GCS is not enabled)", ErrUnknownScheme, ref)
		}
		return m.GCS.Load(ctx, ref)
	case strings.Contains(ref, "://") && !strings.HasPrefix(ref, "file://"):
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownScheme, ref)
	default:
		if m.Local == nil {
			return nil, "", fmt.Errorf("%w: %s (local files are not enabled)", ErrUnknownScheme, ref)
		}
		return m.Local.Load(ctx, ref)
	}
}
