package dataset

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wxjbaga/medical/pkg/audit"
	"github.com/wxjbaga/medical/pkg/auth"
	"github.com/wxjbaga/medical/pkg/clients/filestore"
	"github.com/wxjbaga/medical/pkg/common/errs"
	"github.com/wxjbaga/medical/pkg/common/logger"
	"github.com/wxjbaga/medical/pkg/lifecycle"
)

// Bucket holding uploaded dataset archives.
const Bucket = "dataset"

// FileStore is the slice of the file service the dataset service needs.
type FileStore interface {
	Upload(ctx context.Context, bucket, fileName string, content []byte, isCache bool) (filestore.UploadResult, error)
	Delete(ctx context.Context, bucket, objectKey string) error
}

// Compute submits validation jobs to the algorithm service.
type Compute interface {
	ValidateDataset(ctx context.Context, datasetID int64) error
}

type Service struct {
	db       *gorm.DB
	repo     *Repository
	files    FileStore
	compute  Compute
	recorder audit.Recorder
}

func NewService(db *gorm.DB, repo *Repository, files FileStore, compute Compute, recorder audit.Recorder) *Service {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &Service{db: db, repo: repo, files: files, compute: compute, recorder: recorder}
}

func (s *Service) Create(ctx context.Context, actor auth.Actor, input CreateInput) (*Dataset, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errs.Invalid("dataset name is required")
	}

	d := &Dataset{
		Name:         name,
		Description:  input.Description,
		Status:       StatusUnverified,
		CreateUserID: actor.UserID,
	}

	err := lifecycle.RunInTx(ctx, s.db, func(tx *gorm.DB, hooks *lifecycle.Hooks) error {
		repo := s.repo.WithTx(tx)
		count, err := repo.CountByName(ctx, name, 0)
		if err != nil {
			return err
		}
		if count > 0 {
			return errs.Conflict("dataset name %q already exists", name)
		}
		return repo.Create(ctx, d)
	})
	if err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, "dataset.created", "dataset", d.ID, actor.UserID, nil)
	return d, nil
}

func (s *Service) Update(ctx context.Context, actor auth.Actor, id int64, input UpdateInput) (*Dataset, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errs.Invalid("dataset name is required")
	}

	err := lifecycle.RunInTx(ctx, s.db, func(tx *gorm.DB, hooks *lifecycle.Hooks) error {
		repo := s.repo.WithTx(tx)
		d, err := repo.Get(ctx, id)
		if err != nil {
			return asServiceError(err, id)
		}
		if !actor.CanAccess(d.CreateUserID) {
			return errs.Unauthorized("no permission to edit this dataset")
		}
		count, err := repo.CountByName(ctx, name, id)
		if err != nil {
			return err
		}
		if count > 0 {
			return errs.Conflict("dataset name %q already exists", name)
		}
		return repo.Updates(ctx, id, map[string]interface{}{
			"name":        name,
			"description": input.Description,
		})
	})
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// Upload stores a new dataset archive and resets the validation state:
// any change of content invalidates a prior verification.
func (s *Service) Upload(ctx context.Context, actor auth.Actor, id int64, fileName string, content []byte) (*Dataset, error) {
	if !strings.HasSuffix(strings.ToLower(fileName), ".zip") {
		return nil, errs.Invalid("only ZIP dataset archives are supported")
	}

	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, asServiceError(err, id)
	}
	if !actor.CanAccess(d.CreateUserID) {
		return nil, errs.Unauthorized("no permission to upload to this dataset")
	}

	if d.Uploaded() {
		if err := s.files.Delete(ctx, d.Bucket, d.ObjectKey); err != nil {
			logger.Log.WithError(err).WithField("dataset_id", id).Warn("failed to delete previous dataset file")
		}
	}

	objectKey := fmt.Sprintf("dataset/%s/%d/%d_%s.zip",
		time.Now().UTC().Format("20060102"),
		actor.UserID,
		id,
		strings.ReplaceAll(uuid.NewString(), "-", ""),
	)
	result, err := s.files.Upload(ctx, Bucket, objectKey, content, false)
	if err != nil {
		return nil, err
	}

	err = s.repo.Updates(ctx, id, map[string]interface{}{
		"bucket":      result.Bucket,
		"object_key":  result.ObjectKey,
		"status":      StatusUnverified,
		"train_count": 0,
		"val_count":   0,
		"error_msg":   "",
	})
	if err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, "dataset.uploaded", "dataset", id, actor.UserID, map[string]interface{}{
		"object_key": result.ObjectKey,
	})
	return s.repo.Get(ctx, id)
}

// Validate moves the dataset into Verifying and, once that transition is
// durably committed, submits the validation job. At most one concurrent
// caller wins the transition; the rest observe a conflict.
func (s *Service) Validate(ctx context.Context, actor auth.Actor, id int64) error {
	return lifecycle.RunInTx(ctx, s.db, func(tx *gorm.DB, hooks *lifecycle.Hooks) error {
		repo := s.repo.WithTx(tx)
		d, err := repo.Get(ctx, id)
		if err != nil {
			return asServiceError(err, id)
		}
		if !actor.CanAccess(d.CreateUserID) {
			return errs.Unauthorized("no permission to validate this dataset")
		}
		if !d.Uploaded() {
			return errs.Conflict("dataset file not uploaded yet")
		}
		if !machine.CanEnter(d.Status, StatusVerifying) {
			return errs.Conflict("dataset is %s, cannot start validation", machine.Label(d.Status))
		}

		n, err := repo.UpdateStatusFrom(ctx, id, machine.Predecessors(StatusVerifying), map[string]interface{}{
			"status":      StatusVerifying,
			"error_msg":   "",
			"train_count": 0,
			"val_count":   0,
		})
		if err != nil {
			return err
		}
		if n == 0 {
			return errs.Conflict("dataset validation already in progress")
		}

		hooks.AfterCommit(func() {
			s.dispatchValidation(id, actor)
		})
		return nil
	})
}

// dispatchValidation runs after the Verifying transition committed. A
// rejected or unreachable submission is converted into a terminal
// failure so the dataset never sticks in Verifying.
func (s *Service) dispatchValidation(id int64, actor auth.Actor) {
	ctx := context.Background()
	if err := s.compute.ValidateDataset(ctx, id); err != nil {
		logger.Log.WithError(err).WithField("dataset_id", id).Error("failed to dispatch dataset validation")
		s.failValidation(ctx, id, "failed to submit validation job: "+err.Error())
		return
	}
	s.recorder.Record(ctx, "dataset.validating", "dataset", id, actor.UserID, nil)
}

func (s *Service) failValidation(ctx context.Context, id int64, msg string) {
	n, err := s.repo.UpdateStatusFrom(ctx, id, []lifecycle.Status{StatusVerifying}, map[string]interface{}{
		"status":      StatusVerifiedFailed,
		"error_msg":   msg,
		"train_count": 0,
		"val_count":   0,
	})
	if err != nil {
		logger.Log.WithError(err).WithField("dataset_id", id).Error("failed to mark dataset verification failed")
		return
	}
	if n == 0 {
		logger.Log.WithField("dataset_id", id).Warn("dataset left Verifying before failure could be recorded")
	}
}

// ApplyStatusUpdate reconciles a validation result delivered by the
// algorithm service. Delivery is at-least-once and may race deletion, so
// unknown ids and already-terminal datasets are treated as success, and
// malformed payloads become a terminal failure instead of leaving the
// dataset stuck in Verifying.
func (s *Service) ApplyStatusUpdate(ctx context.Context, payload map[string]interface{}) error {
	id, ok := coerceInt(payload["id"])
	if !ok || id <= 0 {
		return errs.Malformed("update-status requires a numeric id")
	}

	d, err := s.repo.Get(ctx, id)
	if err == ErrNotFound {
		logger.Log.WithField("dataset_id", id).Info("status callback for missing dataset, ignoring")
		return nil
	}
	if err != nil {
		return err
	}
	if machine.Terminal(d.Status) {
		logger.Log.WithFields(map[string]interface{}{
			"dataset_id": id,
			"status":     machine.Label(d.Status),
		}).Info("duplicate status callback, ignoring")
		return nil
	}

	updates, action := s.reconcileUpdates(id, payload)
	n, err := s.repo.UpdateStatusFrom(ctx, id, []lifecycle.Status{StatusVerifying}, updates)
	if err != nil {
		return err
	}
	if n == 0 {
		logger.Log.WithField("dataset_id", id).Info("dataset no longer Verifying, callback ignored")
		return nil
	}

	s.recorder.Record(ctx, action, "dataset", id, 0, nil)
	return nil
}

func (s *Service) reconcileUpdates(id int64, payload map[string]interface{}) (map[string]interface{}, string) {
	status, ok := coerceInt(payload["status"])
	target := lifecycle.Status(status)
	if !ok || (target != StatusVerifiedSuccess && target != StatusVerifiedFailed) {
		logger.Log.WithFields(map[string]interface{}{
			"dataset_id": id,
			"payload":    payload,
		}).Error("malformed dataset status callback")
		return map[string]interface{}{
			"status":      StatusVerifiedFailed,
			"error_msg":   "validation result was malformed",
			"train_count": 0,
			"val_count":   0,
		}, "dataset.verification_failed"
	}

	if target == StatusVerifiedSuccess {
		trainCount, _ := coerceInt(payload["trainCount"])
		valCount, _ := coerceInt(payload["valCount"])
		return map[string]interface{}{
			"status":      StatusVerifiedSuccess,
			"error_msg":   "",
			"train_count": trainCount,
			"val_count":   valCount,
		}, "dataset.verified"
	}

	msg, _ := payload["errorMsg"].(string)
	if msg == "" {
		msg = "validation failed"
	}
	return map[string]interface{}{
		"status":      StatusVerifiedFailed,
		"error_msg":   msg,
		"train_count": 0,
		"val_count":   0,
	}, "dataset.verification_failed"
}

func (s *Service) Delete(ctx context.Context, actor auth.Actor, id int64) error {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return asServiceError(err, id)
	}
	if !actor.CanAccess(d.CreateUserID) {
		return errs.Unauthorized("no permission to delete this dataset")
	}

	if d.Uploaded() {
		if err := s.files.Delete(ctx, d.Bucket, d.ObjectKey); err != nil {
			logger.Log.WithError(err).WithField("dataset_id", id).Warn("failed to delete dataset file")
		}
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.recorder.Record(ctx, "dataset.deleted", "dataset", id, actor.UserID, nil)
	return nil
}

func (s *Service) Get(ctx context.Context, actor auth.Actor, id int64) (*Dataset, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, asServiceError(err, id)
	}
	if !actor.CanAccess(d.CreateUserID) {
		return nil, errs.Unauthorized("no permission to view this dataset")
	}
	return d, nil
}

// Page lists datasets; non-admin actors only see their own.
func (s *Service) Page(ctx context.Context, actor auth.Actor, q Query) (*Page, error) {
	if !actor.Admin {
		q.CreateUserID = actor.UserID
	}
	return s.repo.Page(ctx, q)
}

// ListVerified lists datasets eligible as model sources.
func (s *Service) ListVerified(ctx context.Context, actor auth.Actor) ([]Dataset, error) {
	ownerID := actor.UserID
	if actor.Admin {
		ownerID = 0
	}
	return s.repo.ListVerified(ctx, ownerID)
}

func asServiceError(err error, id int64) error {
	if err == ErrNotFound {
		return errs.NotFound("dataset %d not found", id)
	}
	return err
}

// coerceInt accepts the numeric encodings JSON decoding can produce.
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
