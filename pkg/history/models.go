package history

import (
	"time"
)

// Operation records one inference run: which model was used and where
// the input, output and overlay images live in the file server.
type Operation struct {
	ID                int64     `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	ModelID           int64     `gorm:"column:model_id;index" json:"modelId"`
	OriginalBucket    string    `gorm:"column:original_bucket;size:128" json:"originalBucket"`
	OriginalObjectKey string    `gorm:"column:original_object_key;size:512" json:"originalObjectKey"`
	ResultBucket      string    `gorm:"column:result_bucket;size:128" json:"resultBucket,omitempty"`
	ResultObjectKey   string    `gorm:"column:result_object_key;size:512" json:"resultObjectKey,omitempty"`
	OverlayBucket     string    `gorm:"column:overlay_bucket;size:128" json:"overlayBucket,omitempty"`
	OverlayObjectKey  string    `gorm:"column:overlay_object_key;size:512" json:"overlayObjectKey,omitempty"`
	CreateUserID      int64     `gorm:"column:create_user_id;index" json:"createUserId"`
	CreatedAt         time.Time `gorm:"column:created_at" json:"createTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at" json:"updateTime"`
}

func (Operation) TableName() string {
	return "operation_histories"
}

type CreateInput struct {
	ModelID           int64  `json:"modelId"`
	OriginalBucket    string `json:"originalBucket"`
	OriginalObjectKey string `json:"originalObjectKey"`
	ResultBucket      string `json:"resultBucket,omitempty"`
	ResultObjectKey   string `json:"resultObjectKey,omitempty"`
	OverlayBucket     string `json:"overlayBucket,omitempty"`
	OverlayObjectKey  string `json:"overlayObjectKey,omitempty"`
}

type Query struct {
	ModelID      int64
	CreateUserID int64
	Current      int
	Size         int
}

type Page struct {
	Records []Operation `json:"records"`
	Total   int64       `json:"total"`
	Current int         `json:"current"`
	Size    int         `json:"size"`
}
