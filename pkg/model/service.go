package model

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/wxjbaga/medical/pkg/audit"
	"github.com/wxjbaga/medical/pkg/auth"
	"github.com/wxjbaga/medical/pkg/clients/algorithm"
	"github.com/wxjbaga/medical/pkg/common/errs"
	"github.com/wxjbaga/medical/pkg/common/logger"
	"github.com/wxjbaga/medical/pkg/dataset"
	"github.com/wxjbaga/medical/pkg/lifecycle"
	"github.com/wxjbaga/medical/pkg/snapshot"
)

// FileStore deletes model artifacts; snapshot blobs are owned by the
// snapshot manager.
type FileStore interface {
	Delete(ctx context.Context, bucket, objectKey string) error
}

// Compute submits training jobs to the algorithm service.
type Compute interface {
	TrainModel(ctx context.Context, req algorithm.TrainRequest) error
}

// Snapshots manages the model-owned dataset copies.
type Snapshots interface {
	Snapshot(ctx context.Context, src snapshot.Locator) (snapshot.Locator, error)
	Replace(ctx context.Context, old, src snapshot.Locator) (snapshot.Locator, error)
	Release(ctx context.Context, loc snapshot.Locator)
}

// DatasetSource looks up candidate source datasets.
type DatasetSource interface {
	Get(ctx context.Context, id int64) (*dataset.Dataset, error)
}

type Service struct {
	db        *gorm.DB
	repo      *Repository
	datasets  DatasetSource
	snapshots Snapshots
	files     FileStore
	compute   Compute
	recorder  audit.Recorder
}

func NewService(db *gorm.DB, repo *Repository, datasets DatasetSource, snapshots Snapshots, files FileStore, compute Compute, recorder audit.Recorder) *Service {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &Service{
		db:        db,
		repo:      repo,
		datasets:  datasets,
		snapshots: snapshots,
		files:     files,
		compute:   compute,
		recorder:  recorder,
	}
}

// Create registers a model over a verified dataset. The dataset blob is
// copied into a model-owned snapshot first, so the model's training
// input survives any later change to the source dataset.
func (s *Service) Create(ctx context.Context, actor auth.Actor, input CreateInput) (*Model, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errs.Invalid("model name is required")
	}
	if input.DatasetID <= 0 {
		return nil, errs.Invalid("datasetId is required")
	}
	if len(input.TrainHyperparams) > 0 && !json.Valid(input.TrainHyperparams) {
		return nil, errs.Invalid("trainHyperparams is not valid JSON")
	}

	count, err := s.repo.CountByName(ctx, name, 0)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errs.Conflict("model name %q already exists", name)
	}

	ds, err := s.verifiedDataset(ctx, input.DatasetID)
	if err != nil {
		return nil, err
	}

	snap, err := s.snapshots.Snapshot(ctx, snapshot.Locator{Bucket: ds.Bucket, ObjectKey: ds.ObjectKey})
	if err != nil {
		return nil, err
	}

	m := &Model{
		Name:             name,
		Description:      input.Description,
		DatasetID:        ds.ID,
		DatasetBucket:    snap.Bucket,
		DatasetObjectKey: snap.ObjectKey,
		Status:           StatusUntrained,
		TrainHyperparams: []byte(input.TrainHyperparams),
		CreateUserID:     actor.UserID,
	}

	err = lifecycle.RunInTx(ctx, s.db, func(tx *gorm.DB, hooks *lifecycle.Hooks) error {
		repo := s.repo.WithTx(tx)
		count, err := repo.CountByName(ctx, name, 0)
		if err != nil {
			return err
		}
		if count > 0 {
			return errs.Conflict("model name %q already exists", name)
		}
		return repo.Create(ctx, m)
	})
	if err != nil {
		s.snapshots.Release(ctx, snap)
		return nil, err
	}

	s.recorder.Record(ctx, "model.created", "model", m.ID, actor.UserID, map[string]interface{}{
		"dataset_id": ds.ID,
	})
	return m, nil
}

// Train moves the model into Training and, once that transition is
// durably committed, submits the training job. A submission failure is
// reflected as TrainedFailed before this call returns.
func (s *Service) Train(ctx context.Context, actor auth.Actor, id int64, hyperparams json.RawMessage) error {
	return lifecycle.RunInTx(ctx, s.db, func(tx *gorm.DB, hooks *lifecycle.Hooks) error {
		repo := s.repo.WithTx(tx)
		m, err := repo.Get(ctx, id)
		if err != nil {
			return asServiceError(err, id)
		}
		if !actor.CanAccess(m.CreateUserID) {
			return errs.Unauthorized("no permission to train this model")
		}
		if !m.HasSnapshot() {
			return errs.Conflict("model has no dataset snapshot, cannot train")
		}
		if !machine.CanEnter(m.Status, StatusTraining) {
			return errs.Conflict("model is %s, cannot start training", machine.Label(m.Status))
		}

		updates := map[string]interface{}{
			"status":           StatusTraining,
			"error_msg":        "",
			"model_bucket":     "",
			"model_object_key": "",
			"train_metrics":    nil,
		}
		if len(hyperparams) > 0 {
			if !json.Valid(hyperparams) {
				return errs.Invalid("trainHyperparams is not valid JSON")
			}
			updates["train_hyperparams"] = []byte(hyperparams)
			m.TrainHyperparams = []byte(hyperparams)
		}

		n, err := repo.UpdateStatusFrom(ctx, id, machine.Predecessors(StatusTraining), updates)
		if err != nil {
			return err
		}
		if n == 0 {
			return errs.Conflict("model training already in progress")
		}

		oldArtifact := snapshot.Locator{Bucket: m.ModelBucket, ObjectKey: m.ModelObjectKey}
		req := algorithm.TrainRequest{
			ID:               m.ID,
			DatasetID:        m.DatasetID,
			DatasetBucket:    m.DatasetBucket,
			DatasetObjectKey: m.DatasetObjectKey,
			Hyperparams:      json.RawMessage(m.TrainHyperparams),
		}
		hooks.AfterCommit(func() {
			s.dispatchTraining(req, oldArtifact, actor)
		})
		return nil
	})
}

// dispatchTraining runs after the Training transition committed. The
// superseded artifact is released here rather than inside the
// transaction so a rollback never costs a blob.
func (s *Service) dispatchTraining(req algorithm.TrainRequest, oldArtifact snapshot.Locator, actor auth.Actor) {
	ctx := context.Background()

	if !oldArtifact.Empty() {
		if err := s.files.Delete(ctx, oldArtifact.Bucket, oldArtifact.ObjectKey); err != nil {
			logger.Log.WithError(err).WithField("object", oldArtifact.String()).Warn("failed to delete previous model artifact")
		}
	}

	if err := s.compute.TrainModel(ctx, req); err != nil {
		logger.Log.WithError(err).WithField("model_id", req.ID).Error("failed to dispatch model training")
		s.failTraining(ctx, req.ID, "failed to submit training job: "+err.Error())
		return
	}
	s.recorder.Record(ctx, "model.training", "model", req.ID, actor.UserID, nil)
}

func (s *Service) failTraining(ctx context.Context, id int64, msg string) {
	n, err := s.repo.UpdateStatusFrom(ctx, id, []lifecycle.Status{StatusTraining}, map[string]interface{}{
		"status":    StatusTrainedFailed,
		"error_msg": msg,
	})
	if err != nil {
		logger.Log.WithError(err).WithField("model_id", id).Error("failed to mark model training failed")
		return
	}
	if n == 0 {
		logger.Log.WithField("model_id", id).Warn("model left Training before failure could be recorded")
	}
}

// ApplyStatusUpdate reconciles a training result delivered by the
// algorithm service, with the same tolerance rules as the dataset
// reconciler: duplicates and unknown ids are success, malformed payloads
// resolve to TrainedFailed.
func (s *Service) ApplyStatusUpdate(ctx context.Context, payload map[string]interface{}) error {
	id, ok := coerceInt(payload["id"])
	if !ok || id <= 0 {
		return errs.Malformed("update-status requires a numeric id")
	}

	m, err := s.repo.Get(ctx, id)
	if err == ErrNotFound {
		logger.Log.WithField("model_id", id).Info("status callback for missing model, ignoring")
		return nil
	}
	if err != nil {
		return err
	}
	if machine.Terminal(m.Status) {
		logger.Log.WithFields(map[string]interface{}{
			"model_id": id,
			"status":   machine.Label(m.Status),
		}).Info("duplicate status callback, ignoring")
		return nil
	}

	updates, action := s.reconcileUpdates(id, payload)
	n, err := s.repo.UpdateStatusFrom(ctx, id, []lifecycle.Status{StatusTraining}, updates)
	if err != nil {
		return err
	}
	if n == 0 {
		logger.Log.WithField("model_id", id).Info("model no longer Training, callback ignored")
		return nil
	}

	s.recorder.Record(ctx, action, "model", id, 0, nil)
	return nil
}

func (s *Service) reconcileUpdates(id int64, payload map[string]interface{}) (map[string]interface{}, string) {
	malformed := func(reason string) (map[string]interface{}, string) {
		logger.Log.WithFields(map[string]interface{}{
			"model_id": id,
			"reason":   reason,
			"payload":  payload,
		}).Error("malformed model status callback")
		return map[string]interface{}{
			"status":    StatusTrainedFailed,
			"error_msg": "training result was malformed: " + reason,
		}, "model.training_failed"
	}

	status, ok := coerceInt(payload["status"])
	target := lifecycle.Status(status)
	if !ok || (target != StatusTrainedSuccess && target != StatusTrainedFailed) {
		return malformed("unexpected status")
	}

	if target == StatusTrainedFailed {
		msg, _ := payload["errorMsg"].(string)
		if msg == "" {
			msg = "training failed"
		}
		return map[string]interface{}{
			"status":    StatusTrainedFailed,
			"error_msg": msg,
		}, "model.training_failed"
	}

	bucket, _ := payload["modelBucket"].(string)
	objectKey, _ := payload["modelObjectKey"].(string)
	if bucket == "" || objectKey == "" {
		return malformed("missing artifact location")
	}

	metrics, err := opaqueJSON(payload["trainMetrics"])
	if err != nil {
		return malformed("invalid trainMetrics")
	}

	return map[string]interface{}{
		"status":           StatusTrainedSuccess,
		"error_msg":        "",
		"model_bucket":     bucket,
		"model_object_key": objectKey,
		"train_metrics":    metrics,
	}, "model.trained"
}

// Update edits basic fields and, when datasetId changes, repoints the
// model: the new dataset must be verified before any blob is touched,
// then the snapshot is replaced and every training output reset.
func (s *Service) Update(ctx context.Context, actor auth.Actor, id int64, input UpdateInput) (*Model, error) {
	m, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, asServiceError(err, id)
	}
	if !actor.CanAccess(m.CreateUserID) {
		return nil, errs.Unauthorized("no permission to edit this model")
	}

	updates := map[string]interface{}{}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, errs.Invalid("model name cannot be empty")
		}
		if name != m.Name {
			count, err := s.repo.CountByName(ctx, name, id)
			if err != nil {
				return nil, err
			}
			if count > 0 {
				return nil, errs.Conflict("model name %q already exists", name)
			}
			updates["name"] = name
		}
	}
	if input.Description != nil {
		updates["description"] = *input.Description
	}

	repointed := input.DatasetID != nil && *input.DatasetID != m.DatasetID
	if repointed {
		ds, err := s.verifiedDataset(ctx, *input.DatasetID)
		if err != nil {
			return nil, err
		}

		snap, err := s.snapshots.Replace(ctx,
			snapshot.Locator{Bucket: m.DatasetBucket, ObjectKey: m.DatasetObjectKey},
			snapshot.Locator{Bucket: ds.Bucket, ObjectKey: ds.ObjectKey},
		)
		if err != nil {
			return nil, err
		}

		if m.HasArtifact() {
			if err := s.files.Delete(ctx, m.ModelBucket, m.ModelObjectKey); err != nil {
				logger.Log.WithError(err).WithField("model_id", id).Warn("failed to delete model artifact")
			}
		}

		updates["dataset_id"] = ds.ID
		updates["dataset_bucket"] = snap.Bucket
		updates["dataset_object_key"] = snap.ObjectKey
		updates["status"] = StatusUntrained
		updates["error_msg"] = ""
		updates["train_hyperparams"] = nil
		updates["train_metrics"] = nil
		updates["model_bucket"] = ""
		updates["model_object_key"] = ""
	}

	if len(updates) > 0 {
		if err := s.repo.Updates(ctx, id, updates); err != nil {
			return nil, err
		}
	}
	if repointed {
		s.recorder.Record(ctx, "model.repointed", "model", id, actor.UserID, map[string]interface{}{
			"dataset_id": *input.DatasetID,
		})
	}
	return s.repo.Get(ctx, id)
}

// Publish makes a trained model available; only TrainedSuccess may enter
// Published and only Published may leave it again.
func (s *Service) Publish(ctx context.Context, actor auth.Actor, id int64) error {
	if err := s.flip(ctx, actor, id, StatusPublished, "publish"); err != nil {
		return err
	}
	s.recorder.Record(ctx, "model.published", "model", id, actor.UserID, nil)
	return nil
}

func (s *Service) Unpublish(ctx context.Context, actor auth.Actor, id int64) error {
	if err := s.flip(ctx, actor, id, StatusTrainedSuccess, "unpublish"); err != nil {
		return err
	}
	s.recorder.Record(ctx, "model.unpublished", "model", id, actor.UserID, nil)
	return nil
}

func (s *Service) flip(ctx context.Context, actor auth.Actor, id int64, target lifecycle.Status, verb string) error {
	return lifecycle.RunInTx(ctx, s.db, func(tx *gorm.DB, hooks *lifecycle.Hooks) error {
		repo := s.repo.WithTx(tx)
		m, err := repo.Get(ctx, id)
		if err != nil {
			return asServiceError(err, id)
		}
		if !actor.CanAccess(m.CreateUserID) {
			return errs.Unauthorized("no permission to %s this model", verb)
		}
		if !machine.CanEnter(m.Status, target) {
			return errs.Conflict("model is %s, cannot %s", machine.Label(m.Status), verb)
		}

		preds := machine.Predecessors(target)
		// Publish/unpublish flips between two specific states only.
		if target == StatusTrainedSuccess {
			preds = []lifecycle.Status{StatusPublished}
		}
		n, err := repo.UpdateStatusFrom(ctx, id, preds, map[string]interface{}{
			"status": target,
		})
		if err != nil {
			return err
		}
		if n == 0 {
			return errs.Conflict("model state changed, cannot %s", verb)
		}
		return nil
	})
}

// Delete removes the model and releases both blobs it owns: the dataset
// snapshot and the trained artifact.
func (s *Service) Delete(ctx context.Context, actor auth.Actor, id int64) error {
	m, err := s.repo.Get(ctx, id)
	if err != nil {
		return asServiceError(err, id)
	}
	if !actor.CanAccess(m.CreateUserID) {
		return errs.Unauthorized("no permission to delete this model")
	}

	if m.HasArtifact() {
		if err := s.files.Delete(ctx, m.ModelBucket, m.ModelObjectKey); err != nil {
			logger.Log.WithError(err).WithField("model_id", id).Warn("failed to delete model artifact")
		}
	}
	s.snapshots.Release(ctx, snapshot.Locator{Bucket: m.DatasetBucket, ObjectKey: m.DatasetObjectKey})

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.recorder.Record(ctx, "model.deleted", "model", id, actor.UserID, nil)
	return nil
}

func (s *Service) Get(ctx context.Context, actor auth.Actor, id int64) (*Model, error) {
	m, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, asServiceError(err, id)
	}
	if !actor.CanAccess(m.CreateUserID) {
		return nil, errs.Unauthorized("no permission to view this model")
	}
	return m, nil
}

func (s *Service) Page(ctx context.Context, actor auth.Actor, q Query) (*Page, error) {
	if !actor.Admin {
		q.CreateUserID = actor.UserID
	}
	return s.repo.Page(ctx, q)
}

func (s *Service) ListPublished(ctx context.Context, actor auth.Actor) ([]Model, error) {
	ownerID := actor.UserID
	if actor.Admin {
		ownerID = 0
	}
	return s.repo.ListPublished(ctx, ownerID)
}

func (s *Service) verifiedDataset(ctx context.Context, id int64) (*dataset.Dataset, error) {
	ds, err := s.datasets.Get(ctx, id)
	if err != nil {
		if err == dataset.ErrNotFound {
			return nil, errs.NotFound("dataset %d not found", id)
		}
		return nil, err
	}
	if ds.Status != dataset.StatusVerifiedSuccess {
		return nil, errs.Conflict("dataset %q is not verified, cannot be used for training", ds.Name)
	}
	return ds, nil
}

func asServiceError(err error, id int64) error {
	if err == ErrNotFound {
		return errs.NotFound("model %d not found", id)
	}
	return err
}

// opaqueJSON normalizes a callback field that may arrive as a JSON value
// or as pre-serialized JSON text.
func opaqueJSON(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	if s, ok := v.(string); ok {
		if json.Valid([]byte(s)) {
			return []byte(s), nil
		}
		return json.Marshal(s)
	}
	return json.Marshal(v)
}

func coerceInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case string:
		var parsed int64
		if _, err := fmt.Sscanf(n, "%d", &parsed); err == nil {
			return parsed, true
		}
	}
	return 0, false
}
