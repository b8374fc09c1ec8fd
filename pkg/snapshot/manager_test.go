package snapshot

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/wxjbaga/medical/pkg/clients/filestore"
	"github.com/wxjbaga/medical/pkg/common/errs"
	"github.com/wxjbaga/medical/pkg/common/logger"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

type fakeStore struct {
	objects map[string][]byte
	getErr  error
	putErr  error
	delErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (f *fakeStore) key(bucket, objectKey string) string {
	return bucket + "/" + objectKey
}

func (f *fakeStore) Get(ctx context.Context, bucket, objectKey string) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	content, ok := f.objects[f.key(bucket, objectKey)]
	if !ok {
		return nil, errors.New("object not found")
	}
	return content, nil
}

func (f *fakeStore) Upload(ctx context.Context, bucket, fileName string, content []byte, isCache bool) (filestore.UploadResult, error) {
	if f.putErr != nil {
		return filestore.UploadResult{}, f.putErr
	}
	f.objects[f.key(bucket, fileName)] = content
	return filestore.UploadResult{Bucket: bucket, ObjectKey: fileName}, nil
}

func (f *fakeStore) Delete(ctx context.Context, bucket, objectKey string) error {
	if f.delErr != nil {
		return f.delErr
	}
	delete(f.objects, f.key(bucket, objectKey))
	return nil
}

func TestSnapshotCopiesBlob(t *testing.T) {
	store := newFakeStore()
	store.objects["dataset/a.zip"] = []byte("archive")
	m := NewManager(store, "")

	snap, err := m.Snapshot(context.Background(), Locator{Bucket: "dataset", ObjectKey: "a.zip"})
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if snap.Bucket != DefaultBucket {
		t.Fatalf("expected snapshot in %s, got %s", DefaultBucket, snap.Bucket)
	}
	if !strings.HasSuffix(snap.ObjectKey, ".zip") {
		t.Fatalf("expected snapshot key to keep the extension, got %s", snap.ObjectKey)
	}

	content, err := store.Get(context.Background(), snap.Bucket, snap.ObjectKey)
	if err != nil {
		t.Fatalf("snapshot blob missing: %v", err)
	}
	if string(content) != "archive" {
		t.Fatalf("snapshot content mismatch: %q", content)
	}

	// The source must be untouched.
	if _, err := store.Get(context.Background(), "dataset", "a.zip"); err != nil {
		t.Fatal("source blob must survive the copy")
	}
}

func TestSnapshotRejectsEmptySource(t *testing.T) {
	m := NewManager(newFakeStore(), "")

	_, err := m.Snapshot(context.Background(), Locator{})
	if errs.KindOf(err) != errs.KindConflict {
		t.Fatalf("expected conflict for empty source, got %v", err)
	}
}

func TestSnapshotReadFailureLeavesNothing(t *testing.T) {
	store := newFakeStore()
	store.getErr = errors.New("file server down")
	m := NewManager(store, "")

	_, err := m.Snapshot(context.Background(), Locator{Bucket: "dataset", ObjectKey: "a.zip"})
	if errs.KindOf(err) != errs.KindGateway {
		t.Fatalf("expected gateway error, got %v", err)
	}
	if len(store.objects) != 0 {
		t.Fatal("no blob may be written when the read fails")
	}
}

func TestReplaceReleasesOldSnapshot(t *testing.T) {
	store := newFakeStore()
	store.objects["dataset/b.zip"] = []byte("new archive")
	store.objects[DefaultBucket+"/old.zip"] = []byte("old copy")
	m := NewManager(store, "")

	snap, err := m.Replace(context.Background(),
		Locator{Bucket: DefaultBucket, ObjectKey: "old.zip"},
		Locator{Bucket: "dataset", ObjectKey: "b.zip"},
	)
	if err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	if _, ok := store.objects[DefaultBucket+"/old.zip"]; ok {
		t.Fatal("old snapshot must be deleted")
	}
	if _, ok := store.objects[store.key(snap.Bucket, snap.ObjectKey)]; !ok {
		t.Fatal("new snapshot must exist")
	}
}

func TestReleaseToleratesFailure(t *testing.T) {
	store := newFakeStore()
	store.delErr = errors.New("file server down")
	m := NewManager(store, "")

	// Must not panic or return an error.
	m.Release(context.Background(), Locator{Bucket: DefaultBucket, ObjectKey: "x.zip"})
	m.Release(context.Background(), Locator{})
}
