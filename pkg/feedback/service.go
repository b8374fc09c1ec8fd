package feedback

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/wxjbaga/medical/pkg/audit"
	"github.com/wxjbaga/medical/pkg/auth"
	"github.com/wxjbaga/medical/pkg/common/errs"
	"github.com/wxjbaga/medical/pkg/common/logger"
	"github.com/wxjbaga/medical/pkg/model"
)

// ModelSource verifies that feedback targets an existing model.
type ModelSource interface {
	Get(ctx context.Context, id int64) (*model.Model, error)
}

// FileStore removes attached images when feedback is deleted.
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

func (s *Service) Create(ctx context.Context, actor auth.Actor, input CreateInput) (*Feedback, error) {
	if strings.TrimSpace(input.Content) == "" {
		return nil, errs.Invalid("feedback content is required")
	}
	if input.Score < 1 || input.Score > 5 {
		return nil, errs.Invalid("score must be between 1 and 5")
	}
	if input.ModelID <= 0 {
		return nil, errs.Invalid("modelId is required")
	}
	if _, err := s.models.Get(ctx, input.ModelID); err != nil {
		if err == model.ErrNotFound {
			return nil, errs.NotFound("model %d not found", input.ModelID)
		}
		return nil, err
	}
	if len(input.Metrics) > 0 && !json.Valid(input.Metrics) {
		return nil, errs.Invalid("metrics is not valid JSON")
	}

	f := &Feedback{
		ModelID:        input.ModelID,
		Content:        strings.TrimSpace(input.Content),
		Score:          input.Score,
		Metrics:        []byte(input.Metrics),
		ImageBucket:    input.ImageBucket,
		ImageObjectKey: input.ImageObjectKey,
		Status:         StatusPending,
		CreateUserID:   actor.UserID,
	}
	if err := s.repo.Create(ctx, f); err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, "feedback.created", "feedback", f.ID, actor.UserID, map[string]interface{}{
		"model_id": f.ModelID,
		"score":    f.Score,
	})
	return f, nil
}

func (s *Service) Get(ctx context.Context, actor auth.Actor, id int64) (*Feedback, error) {
	f, err := s.repo.Get(ctx, id)
	if err == ErrNotFound {
		return nil, errs.NotFound("feedback %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(f.CreateUserID) {
		return nil, errs.Unauthorized("no permission to view this feedback")
	}
	return f, nil
}

func (s *Service) Page(ctx context.Context, actor auth.Actor, q Query) (*Page, error) {
	if !actor.Admin {
		q.CreateUserID = actor.UserID
	}
	return s.repo.Page(ctx, q)
}

// Reply marks feedback processed with an administrator's response.
func (s *Service) Reply(ctx context.Context, actor auth.Actor, id int64, reply string) (*Feedback, error) {
	if !actor.Admin {
		return nil, errs.Unauthorized("only administrators can reply to feedback")
	}
	if strings.TrimSpace(reply) == "" {
		return nil, errs.Invalid("reply content is required")
	}
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}

	err := s.repo.Updates(ctx, id, map[string]interface{}{
		"status": StatusProcessed,
		"reply":  strings.TrimSpace(reply),
	})
	if err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, "feedback.replied", "feedback", id, actor.UserID, nil)
	return s.repo.Get(ctx, id)
}

func (s *Service) Delete(ctx context.Context, actor auth.Actor, id int64) error {
	f, err := s.Get(ctx, actor, id)
	if err != nil {
		return err
	}

	if f.ImageObjectKey != "" {
		if err := s.files.Delete(ctx, f.ImageBucket, f.ImageObjectKey); err != nil {
			logger.Log.WithError(err).WithField("feedback_id", id).Warn("failed to delete feedback image")
		}
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.recorder.Record(ctx, "feedback.deleted", "feedback", id, actor.UserID, nil)
	return nil
}
