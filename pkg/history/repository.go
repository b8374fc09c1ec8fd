package history

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var ErrNotFound = errors.New("operation history not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Operation{})
}

func (r *Repository) Create(ctx context.Context, op *Operation) error {
	return r.db.WithContext(ctx).Create(op).Error
}

func (r *Repository) Get(ctx context.Context, id int64) (*Operation, error) {
	var op Operation
	err := r.db.WithContext(ctx).First(&op, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &op, err
}

func (r *Repository) Delete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Delete(&Operation{}, "id = ?", id).Error
}

func (r *Repository) Page(ctx context.Context, q Query) (*Page, error) {
	if q.Current <= 0 {
		q.Current = 1
	}
	if q.Size <= 0 || q.Size > 100 {
		q.Size = 10
	}

	query := r.db.WithContext(ctx).Model(&Operation{})
	if q.ModelID > 0 {
		query = query.Where("model_id = ?", q.ModelID)
	}
	if q.CreateUserID > 0 {
		query = query.Where("create_user_id = ?", q.CreateUserID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var records []Operation
	err := query.Order("created_at desc").
		Offset((q.Current - 1) * q.Size).
		Limit(q.Size).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []Operation{}
	}

	return &Page{Records: records, Total: total, Current: q.Current, Size: q.Size}, nil
}
