package screenshots

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngData = append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, make([]byte, 32)...)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestFileLoaderLoadsImage(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "shots/login.png", pngData)
	l := NewFileLoader(dir, 1<<20)

	data, mimeType, err := l.Load(context.Background(), "shots/login.png")
	require.NoError(t, err)
	assert.Equal(t, pngData, data)
	assert.Equal(t, "image/png", mimeType)

	_, _, err = l.Load(context.Background(), "file://shots/login.png")
	assert.NoError(t, err)
}

func TestFileLoaderErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "notes.txt", []byte("hello world"))
	writeFile(t, dir, "big.png", append(pngData, make([]byte, 100)...))
	l := NewFileLoader(dir, 64)

	_, _, err := l.Load(context.Background(), "missing.png")
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = l.Load(context.Background(), "notes.txt")
	assert.ErrorIs(t, err, ErrNotAnImage)

	_, _, err = l.Load(context.Background(), "big.png")
	assert.ErrorIs(t, err, ErrTooLarge)

	_, _, err = l.Load(context.Background(), "../outside.png")
	assert.ErrorIs(t, err, ErrOutsideBase)

	_, _, err = l.Load(context.Background(), "/etc/passwd")
	assert.ErrorIs(t, err, ErrOutsideBase)
}

type stubLoader struct{ name string }

func (s stubLoader) Load(ctx context.Context, ref string) ([]byte, string, error) {
	return []byte(s.name), "image/png", nil
}

func TestMultiLoaderRoutesByScheme(t *testing.T) {
	m := &MultiLoader{Local: stubLoader{"local"}, GCS: stubLoader{"gcs"}}

	data, _, err := m.Load(context.Background(), "gs://bucket/a.png")
	require.NoError(t, err)
	assert.Equal(t, "gcs", string(data))

	data, _, err = m.Load(context.Background(), "uploads/a.png")
	require.NoError(t, err)
	assert.Equal(t, "local", string(data))

	_, _, err = m.Load(context.Background(), "https://example.com/a.png")
	assert.ErrorIs(t, err, ErrUnknownScheme)

	_, _, err = (&MultiLoader{Local: stubLoader{"local"}}).Load(context.Background(), "gs://bucket/a.png")
	assert.ErrorIs(t, err, ErrUnknownScheme)
}

func TestParseGCSURI(t *testing.T) {
	bucket, object, err := ParseGCSURI("gs://screens/project/login.png")
	require.NoError(t, err)
	assert.Equal(t, "screens", bucket)
	assert.Equal(t, "project/login.png", object)

	for _, bad := range []string{"gs://bucket", "gs:///obj", "s3://bucket/obj"} {
		_, _, err := ParseGCSURI(bad)
		assert.Error(t, err, bad)
	}
}
