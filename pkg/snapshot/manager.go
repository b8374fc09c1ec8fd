// Package snapshot manages copy-on-write dataset copies. Every model
// owns an independent snapshot of its source dataset's blob, so later
// mutation or deletion of the dataset cannot corrupt an in-flight or
// completed model.
package snapshot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wxjbaga/medical/pkg/clients/filestore"
	"github.com/wxjbaga/medical/pkg/common/errs"
	"github.com/wxjbaga/medical/pkg/common/logger"
)

// DefaultBucket holds all model-scoped dataset copies.
const DefaultBucket = "model-dataset-copy"

// Locator names a stored blob.
type Locator struct {
	Bucket    string
	ObjectKey string
}

// Empty reports whether the locator points nowhere.
func (l Locator) Empty() bool {
	return l.Bucket == "" || l.ObjectKey == ""
}

func (l Locator) String() string {
	return l.Bucket + "/" + l.ObjectKey
}

// Store is the slice of the file service the manager needs.
type Store interface {
	Get(ctx context.Context, bucket, objectKey string) ([]byte, error)
	Upload(ctx context.Context, bucket, fileName string, content []byte, isCache bool) (filestore.UploadResult, error)
	Delete(ctx context.Context, bucket, objectKey string) error
}

type Manager struct {
	store  Store
	bucket string
}

func NewManager(store Store, bucket string) *Manager {
	if bucket == "" {
		bucket = DefaultBucket
	}
	return &Manager{store: store, bucket: bucket}
}

// Snapshot copies the dataset blob at src into a fresh object owned by
// one model. Read or write failure aborts with no blob left behind.
func (m *Manager) Snapshot(ctx context.Context, src Locator) (Locator, error) {
	if src.Empty() {
		return Locator{}, errs.Conflict("dataset has no uploaded file")
	}

	content, err := m.store.Get(ctx, src.Bucket, src.ObjectKey)
	if err != nil {
		return Locator{}, errs.Gateway(err, "read dataset file %s", src)
	}

	result, err := m.store.Upload(ctx, m.bucket, m.freshKey(src), content, false)
	if err != nil {
		return Locator{}, errs.Gateway(err, "copy dataset file %s", src)
	}

	return Locator{Bucket: result.Bucket, ObjectKey: result.ObjectKey}, nil
}

// Replace swaps a model's snapshot for a copy of a different dataset.
// The old snapshot is released best-effort first; an orphaned blob is
// preferable to blocking the update.
func (m *Manager) Replace(ctx context.Context, old, src Locator) (Locator, error) {
	m.Release(ctx, old)
	return m.Snapshot(ctx, src)
}

// Release deletes a snapshot, logging failures instead of returning
// them.
func (m *Manager) Release(ctx context.Context, loc Locator) {
	if loc.Empty() {
		return
	}
	if err := m.store.Delete(ctx, loc.Bucket, loc.ObjectKey); err != nil {
		logger.Log.WithError(err).WithField("object", loc.String()).Warn("failed to delete snapshot")
	}
}

func (m *Manager) freshKey(src Locator) string {
	ext := ".zip"
	if i := strings.LastIndex(src.ObjectKey, "."); i >= 0 {
		ext = src.ObjectKey[i:]
	}
	return fmt.Sprintf("dataset_for_model_%s_%s%s",
		time.Now().UTC().Format("20060102"),
		strings.ReplaceAll(uuid.NewString(), "-", ""),
		ext,
	)
}
