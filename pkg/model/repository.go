package model

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/wxjbaga/medical/pkg/lifecycle"
)

var ErrNotFound = errors.New("model not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Model{})
}

func (r *Repository) Create(ctx context.Context, m *Model) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *Repository) Get(ctx context.Context, id int64) (*Model, error) {
	var m Model
	result := r.db.WithContext(ctx).First(&m, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &m, result.Error
}

func (r *Repository) CountByName(ctx context.Context, name string, excludeID int64) (int64, error) {
	var count int64
	q := r.db.WithContext(ctx).Model(&Model{}).Where("name = ?", name)
	if excludeID > 0 {
		q = q.Where("id <> ?", excludeID)
	}
	return count, q.Count(&count).Error
}

func (r *Repository) Updates(ctx context.Context, id int64, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now().UTC()
	return r.db.WithContext(ctx).Model(&Model{}).Where("id = ?", id).Updates(updates).Error
}

// UpdateStatusFrom is the conditional transition write; see the dataset
// repository for the race rationale.
func (r *Repository) UpdateStatusFrom(ctx context.Context, id int64, from []lifecycle.Status, updates map[string]interface{}) (int64, error) {
	updates["updated_at"] = time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&Model{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	return result.RowsAffected, result.Error
}

func (r *Repository) Delete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Delete(&Model{}, "id = ?", id).Error
}

func (r *Repository) Page(ctx context.Context, q Query) (*Page, error) {
	if q.Current <= 0 {
		q.Current = 1
	}
	if q.Size <= 0 || q.Size > 100 {
		q.Size = 10
	}

	query := r.db.WithContext(ctx).Model(&Model{})
	if q.Name != "" {
		query = query.Where("name LIKE ?", "%"+q.Name+"%")
	}
	if q.Status != nil {
		query = query.Where("status = ?", *q.Status)
	}
	if q.DatasetID > 0 {
		query = query.Where("dataset_id = ?", q.DatasetID)
	}
	if q.CreateUserID > 0 {
		query = query.Where("create_user_id = ?", q.CreateUserID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var records []Model
	err := query.Order("created_at desc").
		Offset((q.Current - 1) * q.Size).
		Limit(q.Size).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []Model{}
	}

	return &Page{Records: records, Total: total, Current: q.Current, Size: q.Size}, nil
}

// ListPublished returns models currently available for inference.
func (r *Repository) ListPublished(ctx context.Context, createUserID int64) ([]Model, error) {
	q := r.db.WithContext(ctx).Where("status = ?", StatusPublished)
	if createUserID > 0 {
		q = q.Where("create_user_id = ?", createUserID)
	}
	var records []Model
	return records, q.Order("created_at desc").Find(&records).Error
}
