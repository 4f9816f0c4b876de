package storage

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"

	"github.com/receipt-tracking/ingestion/internal/common"
)

// DirFetcher serves the same role as GCSFetcher for files on the local
// filesystem. The "bucket" is the watched root directory and the "object"
// is a path relative to it.
type DirFetcher struct {
	root   string
	logger *slog.Logger
}

func NewDirFetcher(root string, logger *slog.Logger) *DirFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &DirFetcher{root: root, logger: logger}
}

func (f *DirFetcher) Fetch(_ context.Context, _ string, object string) ([]byte, string, error) {
	path := filepath.Join(f.root, filepath.FromSlash(object))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", common.NewAppError("OBJECT_NOT_FOUND",
				fmt.Sprintf("%s does not exist", path), common.ErrNotFound)
		}
		return nil, "", common.WrapError(err, fmt.Sprintf("read %s", path))
	}

	if len(data) > largeObjectBytes {
		f.logger.Warn("storage.fetch.large_object", "path", path, "bytes", len(data))
	}

	contentType := mime.TypeByExtension(filepath.Ext(object))
	f.logger.Info("storage.fetch.ok", "path", path, "bytes", len(data), "content_type", contentType)
	return data, contentType, nil
}
