package feedback

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

const (
	StatusPending   = 0
	StatusProcessed = 1
)

// Feedback is a user report about a model's output, optionally with the
// offending image and the metrics observed at the time.
type Feedback struct {
	ID             int64          `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	ModelID        int64          `gorm:"column:model_id;index" json:"modelId"`
	Content        string         `gorm:"column:content;size:2048" json:"content"`
	Score          int            `gorm:"column:score" json:"score"`
	Metrics        datatypes.JSON `gorm:"column:metrics" json:"metrics,omitempty"`
	ImageBucket    string         `gorm:"column:image_bucket;size:128" json:"imageBucket,omitempty"`
	ImageObjectKey string         `gorm:"column:image_object_key;size:512" json:"imageObjectKey,omitempty"`
	Status         int            `gorm:"column:status;index" json:"status"`
	Reply          string         `gorm:"column:reply;size:2048" json:"reply,omitempty"`
	CreateUserID   int64          `gorm:"column:create_user_id;index" json:"createUserId"`
	CreatedAt      time.Time      `gorm:"column:created_at" json:"createTime"`
	UpdatedAt      time.Time      `gorm:"column:updated_at" json:"updateTime"`
}

func (Feedback) TableName() string {
	return "feedbacks"
}

type CreateInput struct {
	ModelID        int64           `json:"modelId"`
	Content        string          `json:"content"`
	Score          int             `json:"score"`
	Metrics        json.RawMessage `json:"metrics,omitempty"`
	ImageBucket    string          `json:"imageBucket,omitempty"`
	ImageObjectKey string          `json:"imageObjectKey,omitempty"`
}

type Query struct {
	ModelID      int64
	Status       *int
	CreateUserID int64
	Current      int
	Size         int
}

type Page struct {
	Records []Feedback `json:"records"`
	Total   int64      `json:"total"`
	Current int        `json:"current"`
	Size    int        `json:"size"`
}
