package dataset

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/wxjbaga/medical/pkg/lifecycle"
)

var ErrNotFound = errors.New("dataset not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to tx so guarded updates share the
// caller's transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Dataset{})
}

func (r *Repository) Create(ctx context.Context, d *Dataset) error {
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *Repository) Get(ctx context.Context, id int64) (*Dataset, error) {
	var d Dataset
	result := r.db.WithContext(ctx).First(&d, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &d, result.Error
}

func (r *Repository) CountByName(ctx context.Context, name string, excludeID int64) (int64, error) {
	var count int64
	q := r.db.WithContext(ctx).Model(&Dataset{}).Where("name = ?", name)
	if excludeID > 0 {
		q = q.Where("id <> ?", excludeID)
	}
	return count, q.Count(&count).Error
}

func (r *Repository) Updates(ctx context.Context, id int64, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now().UTC()
	return r.db.WithContext(ctx).Model(&Dataset{}).Where("id = ?", id).Updates(updates).Error
}

// UpdateStatusFrom applies updates only while the row's status is still
// in from, and reports how many rows changed. This conditional write is
// the transition guard: when two callers race to start validation, the
// loser sees zero rows affected and fails with a conflict instead of
// double-dispatching.
func (r *Repository) UpdateStatusFrom(ctx context.Context, id int64, from []lifecycle.Status, updates map[string]interface{}) (int64, error) {
	updates["updated_at"] = time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&Dataset{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	return result.RowsAffected, result.Error
}

func (r *Repository) Delete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Delete(&Dataset{}, "id = ?", id).Error
}

func (r *Repository) Page(ctx context.Context, q Query) (*Page, error) {
	if q.Current <= 0 {
		q.Current = 1
	}
	if q.Size <= 0 || q.Size > 100 {
		q.Size = 10
	}

	query := r.db.WithContext(ctx).Model(&Dataset{})
	if q.Name != "" {
		query = query.Where("name LIKE ?", "%"+q.Name+"%")
	}
	if q.Status != nil {
		query = query.Where("status = ?", *q.Status)
	}
	if q.CreateUserID > 0 {
		query = query.Where("create_user_id = ?", q.CreateUserID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var records []Dataset
	err := query.Order("created_at desc").
		Offset((q.Current - 1) * q.Size).
		Limit(q.Size).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []Dataset{}
	}

	return &Page{Records: records, Total: total, Current: q.Current, Size: q.Size}, nil
}

// ListVerified returns datasets eligible as model sources.
func (r *Repository) ListVerified(ctx context.Context, createUserID int64) ([]Dataset, error) {
	q := r.db.WithContext(ctx).Where("status = ?", StatusVerifiedSuccess)
	if createUserID > 0 {
		q = q.Where("create_user_id = ?", createUserID)
	}
	var records []Dataset
	return records, q.Order("created_at desc").Find(&records).Error
}
