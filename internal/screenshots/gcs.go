package screenshots

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"screentest-backend/pkg/logger"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSLoader reads screenshots stored as gs://bucket/object.
type GCSLoader struct {
	client   *storage.Client
	maxBytes int64
}

func NewGCSLoader(ctx context.Context, credentialsFile string, maxBytes int64) (*GCSLoader, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSLoader{client: client, maxBytes: maxBytes}, nil
}

// ParseGCSURI splits gs://bucket/path/to/object.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownScheme, uri)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("invalid GCS URI %q: expected gs://bucket/object", uri)
	}
	return bucket, object, nil
}

func (l *GCSLoader) Load(ctx context.Context, ref string) ([]byte, string, error) {
	bucket, object, err := ParseGCSURI(ref)
	if err != nil {
		return nil, "", err
	}

	r, err := l.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, "", fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, "", fmt.Errorf("failed to open GCS object %s: %w", ref, err)
	}
	defer r.Close()

	data, mimeType, err := ReadImage(r, l.maxBytes)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", ref, err)
	}
	logger.Debugf("loaded %d bytes from %s", len(data), ref)
	return data, mimeType, nil
}

func (l *GCSLoader) Close() error {
	return l.client.Close()
}
