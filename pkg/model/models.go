package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/wxjbaga/medical/pkg/lifecycle"
)

// Model lifecycle statuses.
const (
	StatusUntrained      lifecycle.Status = 0
	StatusTraining       lifecycle.Status = 1
	StatusTrainedSuccess lifecycle.Status = 2
	StatusTrainedFailed  lifecycle.Status = 3
	StatusPublished      lifecycle.Status = 4
)

var machine = lifecycle.NewMachine("model",
	map[lifecycle.Status][]lifecycle.Status{
		// Repointing the source dataset resets any state back to untrained.
		StatusUntrained:      {StatusUntrained, StatusTraining, StatusTrainedSuccess, StatusTrainedFailed, StatusPublished},
		StatusTraining:       {StatusUntrained, StatusTrainedFailed},
		StatusTrainedSuccess: {StatusTraining, StatusPublished},
		StatusTrainedFailed:  {StatusTraining},
		StatusPublished:      {StatusTrainedSuccess},
	},
	[]lifecycle.Status{StatusTrainedSuccess, StatusTrainedFailed, StatusPublished},
	map[lifecycle.Status]string{
		StatusUntrained:      "untrained",
		StatusTraining:       "training",
		StatusTrainedSuccess: "trained",
		StatusTrainedFailed:  "training failed",
		StatusPublished:      "published",
	},
)

// Machine exposes the model status machine.
func Machine() *lifecycle.Machine {
	return machine
}

type Model struct {
	ID               int64            `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	Name             string           `gorm:"column:name;uniqueIndex;size:128" json:"name"`
	Description      string           `gorm:"column:description;size:1024" json:"description"`
	DatasetID        int64            `gorm:"column:dataset_id;index" json:"datasetId"`
	DatasetBucket    string           `gorm:"column:dataset_bucket;size:128" json:"datasetBucket"`
	DatasetObjectKey string           `gorm:"column:dataset_object_key;size:512" json:"datasetObjectKey"`
	ModelBucket      string           `gorm:"column:model_bucket;size:128" json:"modelBucket"`
	ModelObjectKey   string           `gorm:"column:model_object_key;size:512" json:"modelObjectKey"`
	Status           lifecycle.Status `gorm:"column:status;index" json:"status"`
	ErrorMsg         string           `gorm:"column:error_msg;size:2048" json:"errorMsg,omitempty"`
	TrainHyperparams datatypes.JSON   `gorm:"column:train_hyperparams" json:"trainHyperparams,omitempty"`
	TrainMetrics     datatypes.JSON   `gorm:"column:train_metrics" json:"trainMetrics,omitempty"`
	CreateUserID     int64            `gorm:"column:create_user_id;index" json:"createUserId"`
	CreatedAt        time.Time        `gorm:"column:created_at" json:"createTime"`
	UpdatedAt        time.Time        `gorm:"column:updated_at" json:"updateTime"`
}

func (Model) TableName() string {
	return "models"
}

// HasSnapshot reports whether the model owns a dataset copy.
func (m *Model) HasSnapshot() bool {
	return m.DatasetBucket != "" && m.DatasetObjectKey != ""
}

// HasArtifact reports whether a trained artifact is stored.
func (m *Model) HasArtifact() bool {
	return m.ModelBucket != "" && m.ModelObjectKey != ""
}

type CreateInput struct {
	Name             string          `json:"name"`
	Description      string          `json:"description"`
	DatasetID        int64           `json:"datasetId"`
	TrainHyperparams json.RawMessage `json:"trainHyperparams,omitempty"`
}

type UpdateInput struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	DatasetID   *int64  `json:"datasetId,omitempty"`
}

type Query struct {
	Name         string
	Status       *lifecycle.Status
	DatasetID    int64
	CreateUserID int64
	Current      int
	Size         int
}

type Page struct {
	Records []Model `json:"records"`
	Total   int64   `json:"total"`
	Current int     `json:"current"`
	Size    int     `json:"size"`
}
