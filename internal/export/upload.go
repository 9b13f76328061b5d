package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sandworm/sandworm/internal/storage"
)

type Uploader struct {
	Store storage.ObjectStore
	// Overwrite replaces an existing export instead of keeping it.
	Overwrite bool
	Now       func() time.Time
}

type UploadResult struct {
	Key     string
	URI     string
	Info    storage.ObjectInfo
	Skipped bool
}

// Upload stores body under results/date=YYYY-MM-DD/<execution_id>.<ext>.
func (u Uploader) Upload(ctx context.Context, executionID string, format Format, body []byte) (UploadResult, error) {
	if u.Store == nil {
		return UploadResult{}, fmt.Errorf("object store is required")
	}
	now := time.Now
	if u.Now != nil {
		now = u.Now
	}
	key, err := storage.BuildResultKey(executionID, format.Extension(), now())
	if err != nil {
		return UploadResult{}, err
	}
	uri, err := u.Store.URI(key)
	if err != nil {
		return UploadResult{}, err
	}

	if !u.Overwrite {
		info, err := u.Store.Stat(ctx, key)
		switch {
		case err == nil:
			return UploadResult{Key: key, URI: uri, Info: info, Skipped: true}, nil
		case !errors.Is(err, storage.ErrObjectNotFound):
			return UploadResult{}, fmt.Errorf("check existing export: %w", err)
		}
	}

	info, err := u.Store.Put(ctx, key, bytes.NewReader(body), int64(len(body)), storage.PutOptions{
		ContentType: format.ContentType(),
		Metadata:    map[string]string{"execution-id": executionID},
	})
	if err != nil {
		return UploadResult{}, err
	}
	return UploadResult{Key: key, URI: uri, Info: info}, nil
}
