package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/wxjbaga/medical/pkg/auth"
	"github.com/wxjbaga/medical/pkg/clients/algorithm"
	"github.com/wxjbaga/medical/pkg/common/errs"
	"github.com/wxjbaga/medical/pkg/common/logger"
	"github.com/wxjbaga/medical/pkg/dataset"
	"github.com/wxjbaga/medical/pkg/snapshot"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

type fakeFiles struct {
	deleted []string
}

func (f *fakeFiles) Delete(ctx context.Context, bucket, objectKey string) error {
	f.deleted = append(f.deleted, bucket+"/"+objectKey)
	return nil
}

type fakeCompute struct {
	requests []algorithm.TrainRequest
	err      error
}

func (f *fakeCompute) TrainModel(ctx context.Context, req algorithm.TrainRequest) error {
	if f.err != nil {
		return f.err
	}
	f.requests = append(f.requests, req)
	return nil
}

type fakeSnapshots struct {
	next     int
	taken    []snapshot.Locator
	released []snapshot.Locator
	err      error
}

func (f *fakeSnapshots) Snapshot(ctx context.Context, src snapshot.Locator) (snapshot.Locator, error) {
	if f.err != nil {
		return snapshot.Locator{}, f.err
	}
	if src.Empty() {
		return snapshot.Locator{}, errs.Conflict("dataset has no uploaded file")
	}
	f.next++
	loc := snapshot.Locator{Bucket: snapshot.DefaultBucket, ObjectKey: fmt.Sprintf("snap-%d.zip", f.next)}
	f.taken = append(f.taken, loc)
	return loc, nil
}

func (f *fakeSnapshots) Replace(ctx context.Context, old, src snapshot.Locator) (snapshot.Locator, error) {
	f.Release(ctx, old)
	return f.Snapshot(ctx, src)
}

func (f *fakeSnapshots) Release(ctx context.Context, loc snapshot.Locator) {
	if loc.Empty() {
		return
	}
	f.released = append(f.released, loc)
}

type fixture struct {
	service   *Service
	repo      *Repository
	datasets  *dataset.Repository
	files     *fakeFiles
	compute   *fakeCompute
	snapshots *fakeSnapshots
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	repo := NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		t.Fatalf("failed to migrate models: %v", err)
	}
	datasets := dataset.NewRepository(db)
	if err := datasets.AutoMigrate(); err != nil {
		t.Fatalf("failed to migrate datasets: %v", err)
	}

	files := &fakeFiles{}
	compute := &fakeCompute{}
	snapshots := &fakeSnapshots{}
	service := NewService(db, repo, datasets, snapshots, files, compute, nil)
	return &fixture{service: service, repo: repo, datasets: datasets, files: files, compute: compute, snapshots: snapshots}
}

var owner = auth.Actor{UserID: 1}

func (fx *fixture) seedDataset(t *testing.T, status int) *dataset.Dataset {
	t.Helper()
	d := &dataset.Dataset{
		Name:         fmt.Sprintf("ds-%s-%d", t.Name(), status),
		Bucket:       dataset.Bucket,
		ObjectKey:    "source.zip",
		Status:       0,
		CreateUserID: owner.UserID,
	}
	if err := fx.datasets.Create(context.Background(), d); err != nil {
		t.Fatalf("seed dataset failed: %v", err)
	}
	err := fx.datasets.Updates(context.Background(), d.ID, map[string]interface{}{"status": status})
	if err != nil {
		t.Fatalf("seed dataset status failed: %v", err)
	}
	reloaded, err := fx.datasets.Get(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("reload dataset failed: %v", err)
	}
	return reloaded
}

func (fx *fixture) seedModel(t *testing.T, status int) *Model {
	t.Helper()
	d := fx.seedDataset(t, int(dataset.StatusVerifiedSuccess))
	m, err := fx.service.Create(context.Background(), owner, CreateInput{
		Name:      fmt.Sprintf("model-%s-%d", t.Name(), status),
		DatasetID: d.ID,
	})
	if err != nil {
		t.Fatalf("seed model failed: %v", err)
	}
	err = fx.repo.Updates(context.Background(), m.ID, map[string]interface{}{"status": status})
	if err != nil {
		t.Fatalf("seed model status failed: %v", err)
	}
	reloaded, err := fx.repo.Get(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("reload model failed: %v", err)
	}
	return reloaded
}

func TestCreateSnapshotsDataset(t *testing.T) {
	fx := newFixture(t)
	d := fx.seedDataset(t, int(dataset.StatusVerifiedSuccess))

	m, err := fx.service.Create(context.Background(), owner, CreateInput{Name: "seg", DatasetID: d.ID})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if m.Status != StatusUntrained {
		t.Fatalf("expected Untrained, got %v", m.Status)
	}
	if !m.HasSnapshot() {
		t.Fatal("expected a snapshot locator")
	}
	if m.DatasetBucket != snapshot.DefaultBucket {
		t.Fatalf("snapshot must live in the copy bucket, got %s", m.DatasetBucket)
	}
	if len(fx.snapshots.taken) != 1 {
		t.Fatalf("expected exactly one snapshot, got %d", len(fx.snapshots.taken))
	}
}

func TestCreateRequiresVerifiedDataset(t *testing.T) {
	fx := newFixture(t)
	d := fx.seedDataset(t, int(dataset.StatusUnverified))

	_, err := fx.service.Create(context.Background(), owner, CreateInput{Name: "seg", DatasetID: d.ID})
	if errs.KindOf(err) != errs.KindConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(fx.snapshots.taken) != 0 {
		t.Fatal("no snapshot may be taken for an unverified dataset")
	}
}

func TestCreateMissingDataset(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.service.Create(context.Background(), owner, CreateInput{Name: "seg", DatasetID: 9999})
	if errs.KindOf(err) != errs.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTrainDispatchesAfterCommit(t *testing.T) {
	fx := newFixture(t)
	m := fx.seedModel(t, int(StatusUntrained))

	err := fx.service.Train(context.Background(), owner, m.ID, json.RawMessage(`{"epochs":5}`))
	if err != nil {
		t.Fatalf("train failed: %v", err)
	}

	got, _ := fx.repo.Get(context.Background(), m.ID)
	if got.Status != StatusTraining {
		t.Fatalf("expected Training, got %v", got.Status)
	}
	if len(fx.compute.requests) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(fx.compute.requests))
	}
	req := fx.compute.requests[0]
	if req.DatasetBucket != m.DatasetBucket || req.DatasetObjectKey != m.DatasetObjectKey {
		t.Fatalf("training must use the snapshot, got %s/%s", req.DatasetBucket, req.DatasetObjectKey)
	}
	if string(req.Hyperparams) != `{"epochs":5}` {
		t.Fatalf("unexpected hyperparams %s", req.Hyperparams)
	}
}

func TestTrainWhileTrainingConflicts(t *testing.T) {
	fx := newFixture(t)
	m := fx.seedModel(t, int(StatusTraining))

	err := fx.service.Train(context.Background(), owner, m.ID, nil)
	if errs.KindOf(err) != errs.KindConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(fx.compute.requests) != 0 {
		t.Fatal("no job may be dispatched on conflict")
	}
}

func TestTrainFromTrainedSuccessConflicts(t *testing.T) {
	fx := newFixture(t)
	m := fx.seedModel(t, int(StatusTrainedSuccess))

	err := fx.service.Train(context.Background(), owner, m.ID, nil)
	if errs.KindOf(err) != errs.KindConflict {
		t.Fatalf("expected conflict from trained model, got %v", err)
	}
}

func TestTrainRetryAfterFailure(t *testing.T) {
	fx := newFixture(t)
	m := fx.seedModel(t, int(StatusTrainedFailed))

	if err := fx.service.Train(context.Background(), owner, m.ID, nil); err != nil {
		t.Fatalf("retry from failed must be allowed: %v", err)
	}
}

func TestTrainDispatchFailureMarksFailed(t *testing.T) {
	fx := newFixture(t)
	fx.compute.err = errors.New("connection refused")
	m := fx.seedModel(t, int(StatusUntrained))

	if err := fx.service.Train(context.Background(), owner, m.ID, nil); err != nil {
		t.Fatalf("train itself must succeed, got %v", err)
	}

	got, _ := fx.repo.Get(context.Background(), m.ID)
	if got.Status != StatusTrainedFailed {
		t.Fatalf("expected TrainedFailed after dispatch failure, got %v", got.Status)
	}
	if !strings.Contains(got.ErrorMsg, "failed to submit training job") {
		t.Fatalf("unexpected error message %q", got.ErrorMsg)
	}
}

func TestTrainReleasesPreviousArtifact(t *testing.T) {
	fx := newFixture(t)
	m := fx.seedModel(t, int(StatusTrainedFailed))
	err := fx.repo.Updates(context.Background(), m.ID, map[string]interface{}{
		"model_bucket": "model", "model_object_key": "old-weights.pt",
	})
	if err != nil {
		t.Fatalf("seed artifact failed: %v", err)
	}

	if err := fx.service.Train(context.Background(), owner, m.ID, nil); err != nil {
		t.Fatalf("train failed: %v", err)
	}

	found := false
	for _, obj := range fx.files.deleted {
		if obj == "model/old-weights.pt" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected old artifact deleted, got %v", fx.files.deleted)
	}
	got, _ := fx.repo.Get(context.Background(), m.ID)
	if got.ModelObjectKey != "" {
		t.Fatal("artifact locator must be cleared on train start")
	}
}

func TestPublishLifecycle(t *testing.T) {
	fx := newFixture(t)
	m := fx.seedModel(t, int(StatusTrainedSuccess))

	if err := fx.service.Publish(context.Background(), owner, m.ID); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	got, _ := fx.repo.Get(context.Background(), m.ID)
	if got.Status != StatusPublished {
		t.Fatalf("expected Published, got %v", got.Status)
	}

	// A published model cannot start training.
	err := fx.service.Train(context.Background(), owner, m.ID, nil)
	if errs.KindOf(err) != errs.KindConflict {
		t.Fatalf("expected conflict training a published model, got %v", err)
	}

	if err := fx.service.Unpublish(context.Background(), owner, m.ID); err != nil {
		t.Fatalf("unpublish failed: %v", err)
	}
	got, _ = fx.repo.Get(context.Background(), m.ID)
	if got.Status != StatusTrainedSuccess {
		t.Fatalf("expected TrainedSuccess, got %v", got.Status)
	}
}

func TestPublishRequiresTrainedSuccess(t *testing.T) {
	fx := newFixture(t)
	m := fx.seedModel(t, int(StatusUntrained))

	err := fx.service.Publish(context.Background(), owner, m.ID)
	if errs.KindOf(err) != errs.KindConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestRepointGuardsBeforeBlobOps(t *testing.T) {
	fx := newFixture(t)
	m := fx.seedModel(t, int(StatusTrainedSuccess))
	unverified := fx.seedDataset(t, int(dataset.StatusUnverified))

	snapshotsBefore := len(fx.snapshots.taken)
	releasedBefore := len(fx.snapshots.released)

	_, err := fx.service.Update(context.Background(), owner, m.ID, UpdateInput{DatasetID: &unverified.ID})
	if errs.KindOf(err) != errs.KindConflict {
		t.Fatalf("expected conflict, got %v", err)
	}

	if len(fx.snapshots.taken) != snapshotsBefore || len(fx.snapshots.released) != releasedBefore {
		t.Fatal("no blob operation may run when the repoint guard fails")
	}
	if len(fx.files.deleted) != 0 {
		t.Fatal("no artifact may be deleted when the repoint guard fails")
	}
	got, _ := fx.repo.Get(context.Background(), m.ID)
	if got.Status != StatusTrainedSuccess {
		t.Fatal("model must be unchanged when the repoint guard fails")
	}
}

func TestRepointResetsModel(t *testing.T) {
	fx := newFixture(t)
	m := fx.seedModel(t, int(StatusTrainedSuccess))
	err := fx.repo.Updates(context.Background(), m.ID, map[string]interface{}{
		"model_bucket": "model", "model_object_key": "weights.pt",
		"train_metrics": []byte(`{"dice":0.9}`),
	})
	if err != nil {
		t.Fatalf("seed artifact failed: %v", err)
	}
	oldSnapshot := m.DatasetObjectKey
	verified := fx.seedDataset(t, int(dataset.StatusVerifiedSuccess))

	got, err := fx.service.Update(context.Background(), owner, m.ID, UpdateInput{DatasetID: &verified.ID})
	if err != nil {
		t.Fatalf("repoint failed: %v", err)
	}

	if got.Status != StatusUntrained {
		t.Fatalf("expected Untrained after repoint, got %v", got.Status)
	}
	if got.DatasetID != verified.ID {
		t.Fatalf("expected dataset %d, got %d", verified.ID, got.DatasetID)
	}
	if got.DatasetObjectKey == oldSnapshot {
		t.Fatal("expected a fresh snapshot")
	}
	if got.HasArtifact() || len(got.TrainMetrics) != 0 {
		t.Fatal("training outputs must be cleared on repoint")
	}

	// Old snapshot released, old artifact deleted.
	releasedOld := false
	for _, loc := range fx.snapshots.released {
		if loc.ObjectKey == oldSnapshot {
			releasedOld = true
		}
	}
	if !releasedOld {
		t.Fatal("old snapshot must be released")
	}
	if len(fx.files.deleted) != 1 || fx.files.deleted[0] != "model/weights.pt" {
		t.Fatalf("expected artifact deleted, got %v", fx.files.deleted)
	}
}

func TestApplyStatusUpdateTrainingSuccess(t *testing.T) {
	fx := newFixture(t)
	m := fx.seedModel(t, int(StatusTraining))

	err := fx.service.ApplyStatusUpdate(context.Background(), map[string]interface{}{
		"id":             float64(m.ID),
		"status":         float64(StatusTrainedSuccess),
		"modelBucket":    "model",
		"modelObjectKey": "weights.pt",
		"trainMetrics":   map[string]interface{}{"dice": 0.91},
	})
	if err != nil {
		t.Fatalf("callback failed: %v", err)
	}

	got, _ := fx.repo.Get(context.Background(), m.ID)
	if got.Status != StatusTrainedSuccess {
		t.Fatalf("expected TrainedSuccess, got %v", got.Status)
	}
	if got.ModelBucket != "model" || got.ModelObjectKey != "weights.pt" {
		t.Fatalf("unexpected artifact %s/%s", got.ModelBucket, got.ModelObjectKey)
	}
	var metrics map[string]float64
	if err := json.Unmarshal(got.TrainMetrics, &metrics); err != nil {
		t.Fatalf("metrics not stored as JSON: %v", err)
	}
	if metrics["dice"] != 0.91 {
		t.Fatalf("unexpected metrics %v", metrics)
	}
}

func TestApplyStatusUpdateTrainingFailed(t *testing.T) {
	fx := newFixture(t)
	m := fx.seedModel(t, int(StatusTraining))

	err := fx.service.ApplyStatusUpdate(context.Background(), map[string]interface{}{
		"id":       float64(m.ID),
		"status":   float64(StatusTrainedFailed),
		"errorMsg": "loss diverged",
	})
	if err != nil {
		t.Fatalf("callback failed: %v", err)
	}

	got, _ := fx.repo.Get(context.Background(), m.ID)
	if got.Status != StatusTrainedFailed || got.ErrorMsg != "loss diverged" {
		t.Fatalf("unexpected state %v / %q", got.Status, got.ErrorMsg)
	}
}

func TestApplyStatusUpdateMissingArtifact(t *testing.T) {
	fx := newFixture(t)
	m := fx.seedModel(t, int(StatusTraining))

	// Success without an artifact locator is malformed.
	err := fx.service.ApplyStatusUpdate(context.Background(), map[string]interface{}{
		"id":     float64(m.ID),
		"status": float64(StatusTrainedSuccess),
	})
	if err != nil {
		t.Fatalf("malformed payload must still resolve, got %v", err)
	}

	got, _ := fx.repo.Get(context.Background(), m.ID)
	if got.Status != StatusTrainedFailed {
		t.Fatalf("expected TrainedFailed, got %v", got.Status)
	}
	if !strings.Contains(got.ErrorMsg, "malformed") {
		t.Fatalf("unexpected error message %q", got.ErrorMsg)
	}
}

func TestApplyStatusUpdateDuplicateIsNoop(t *testing.T) {
	fx := newFixture(t)
	m := fx.seedModel(t, int(StatusTraining))

	success := map[string]interface{}{
		"id":             float64(m.ID),
		"status":         float64(StatusTrainedSuccess),
		"modelBucket":    "model",
		"modelObjectKey": "weights.pt",
	}
	if err := fx.service.ApplyStatusUpdate(context.Background(), success); err != nil {
		t.Fatalf("first callback failed: %v", err)
	}

	dup := map[string]interface{}{
		"id":       float64(m.ID),
		"status":   float64(StatusTrainedFailed),
		"errorMsg": "late duplicate",
	}
	if err := fx.service.ApplyStatusUpdate(context.Background(), dup); err != nil {
		t.Fatalf("duplicate callback must succeed: %v", err)
	}

	got, _ := fx.repo.Get(context.Background(), m.ID)
	if got.Status != StatusTrainedSuccess {
		t.Fatalf("duplicate callback mutated the model: %v", got.Status)
	}
}

func TestApplyStatusUpdateUnknownModel(t *testing.T) {
	fx := newFixture(t)

	err := fx.service.ApplyStatusUpdate(context.Background(), map[string]interface{}{
		"id":     float64(9999),
		"status": float64(StatusTrainedFailed),
	})
	if err != nil {
		t.Fatalf("unknown model must be acknowledged, got %v", err)
	}
}

func TestDeleteReleasesBlobs(t *testing.T) {
	fx := newFixture(t)
	m := fx.seedModel(t, int(StatusTrainedSuccess))
	err := fx.repo.Updates(context.Background(), m.ID, map[string]interface{}{
		"model_bucket": "model", "model_object_key": "weights.pt",
	})
	if err != nil {
		t.Fatalf("seed artifact failed: %v", err)
	}

	if err := fx.service.Delete(context.Background(), owner, m.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if len(fx.files.deleted) != 1 || fx.files.deleted[0] != "model/weights.pt" {
		t.Fatalf("expected artifact deleted, got %v", fx.files.deleted)
	}
	if len(fx.snapshots.released) != 1 {
		t.Fatalf("expected snapshot released, got %v", fx.snapshots.released)
	}
	if _, err := fx.repo.Get(context.Background(), m.ID); err != ErrNotFound {
		t.Fatalf("expected model gone, got %v", err)
	}
}
