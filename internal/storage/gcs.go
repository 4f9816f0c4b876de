package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/receipt-tracking/ingestion/internal/common"
)

// largeObjectBytes is the size past which a download gets a warning log.
const largeObjectBytes = 10 * 1024 * 1024

// ObjectFetcher downloads an uploaded artifact. Returns the raw bytes and
// the object's content type ("" when unknown).
type ObjectFetcher interface {
	Fetch(ctx context.Context, bucket, object string) ([]byte, string, error)
}

// GCSFetcher reads objects from Google Cloud Storage.
type GCSFetcher struct {
	client *gcs.Client
	logger *slog.Logger
}

func NewGCSFetcher(ctx context.Context, logger *slog.Logger, opts ...option.ClientOption) (*GCSFetcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	logger.Info("storage.client.initialized")
	return &GCSFetcher{client: client, logger: logger}, nil
}

func (f *GCSFetcher) Fetch(ctx context.Context, bucket, object string) ([]byte, string, error) {
	r, err := f.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, "", common.NewAppError("OBJECT_NOT_FOUND",
				fmt.Sprintf("gs://%s/%s does not exist", bucket, object), common.ErrNotFound)
		}
		return nil, "", common.WrapError(err, fmt.Sprintf("open gs://%s/%s", bucket, object))
	}
	defer func() {
		if cerr := r.Close(); cerr != nil {
			f.logger.Warn("storage.fetch.close_error", "object", object, "error", cerr)
		}
	}()

	if size := r.Attrs.Size; size > largeObjectBytes {
		f.logger.Warn("storage.fetch.large_object",
			"bucket", bucket, "object", object, "bytes", size)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", common.WrapError(err, fmt.Sprintf("read gs://%s/%s", bucket, object))
	}

	f.logger.Info("storage.fetch.ok",
		"bucket", bucket, "object", object,
		"bytes", len(data), "content_type", r.Attrs.ContentType)
	return data, r.Attrs.ContentType, nil
}

// ObjectURL derives the deterministic public URL for a stored object.
func ObjectURL(bucket, object string) string {
	return "https://storage.googleapis.com/" + bucket + "/" + object
}
