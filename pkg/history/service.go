package history

import (
	"context"

	"github.com/wxjbaga/medical/pkg/audit"
	"github.com/wxjbaga/medical/pkg/auth"
	"github.com/wxjbaga/medical/pkg/common/errs"
	"github.com/wxjbaga/medical/pkg/common/logger"
	"github.com/wxjbaga/medical/pkg/model"
)

// ModelSource verifies the referenced model exists.
type ModelSource interface {
	Get(ctx context.Context, id int64) (*model.Model, error)
}

// FileStore removes the recorded images when a history entry is deleted.
type FileStore interface {
	Delete(ctx context.Context, bucket, objectKey string) error
}

type Service struct {
	repo     *Repository
	models   ModelSource
	files    FileStore
	recorder audit.Recorder
}

func NewService(repo *Repository, models ModelSource, files FileStore, recorder audit.Recorder) *Service {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &Service{repo: repo, models: models, files: files, recorder: recorder}
}

func (s *Service) Create(ctx context.Context, actor auth.Actor, input CreateInput) (*Operation, error) {
	if input.ModelID <= 0 {
		return nil, errs.Invalid("modelId is required")
	}
	if input.OriginalBucket == "" || input.OriginalObjectKey == "" {
		return nil, errs.Invalid("original image location is required")
	}
	if _, err := s.models.Get(ctx, input.ModelID); err != nil {
		if err == model.ErrNotFound {
			return nil, errs.NotFound("model %d not found", input.ModelID)
		}
		return nil, err
	}

	op := &Operation{
		ModelID:           input.ModelID,
		OriginalBucket:    input.OriginalBucket,
		OriginalObjectKey: input.OriginalObjectKey,
		ResultBucket:      input.ResultBucket,
		ResultObjectKey:   input.ResultObjectKey,
		OverlayBucket:     input.OverlayBucket,
		OverlayObjectKey:  input.OverlayObjectKey,
		CreateUserID:      actor.UserID,
	}
	if err := s.repo.Create(ctx, op); err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, "history.created", "history", op.ID, actor.UserID, map[string]interface{}{
		"model_id": op.ModelID,
	})
	return op, nil
}

func (s *Service) Get(ctx context.Context, actor auth.Actor, id int64) (*Operation, error) {
	op, err := s.repo.Get(ctx, id)
	if err == ErrNotFound {
		return nil, errs.NotFound("operation history %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(op.CreateUserID) {
		return nil, errs.Unauthorized("no permission to view this history entry")
	}
	return op, nil
}

func (s *Service) Page(ctx context.Context, actor auth.Actor, q Query) (*Page, error) {
	if !actor.Admin {
		q.CreateUserID = actor.UserID
	}
	return s.repo.Page(ctx, q)
}

// Delete removes the entry and every image it recorded, best effort.
func (s *Service) Delete(ctx context.Context, actor auth.Actor, id int64) error {
	op, err := s.Get(ctx, actor, id)
	if err != nil {
		return err
	}

	for _, loc := range [][2]string{
		{op.OriginalBucket, op.OriginalObjectKey},
		{op.ResultBucket, op.ResultObjectKey},
		{op.OverlayBucket, op.OverlayObjectKey},
	} {
		if loc[0] == "" || loc[1] == "" {
			continue
		}
		if err := s.files.Delete(ctx, loc[0], loc[1]); err != nil {
			logger.Log.WithError(err).WithField("history_id", id).Warn("failed to delete history image")
		}
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.recorder.Record(ctx, "history.deleted", "history", id, actor.UserID, nil)
	return nil
}
