package dataset

import (
	"time"

	"github.com/wxjbaga/medical/pkg/lifecycle"
)

// Dataset lifecycle statuses.
const (
	StatusUnverified      lifecycle.Status = 0
	StatusVerifying       lifecycle.Status = 1
	StatusVerifiedSuccess lifecycle.Status = 2
	StatusVerifiedFailed  lifecycle.Status = 3
)

var machine = lifecycle.NewMachine("dataset",
	map[lifecycle.Status][]lifecycle.Status{
		// Re-upload resets any state back to unverified.
		StatusUnverified:      {StatusUnverified, StatusVerifying, StatusVerifiedSuccess, StatusVerifiedFailed},
		StatusVerifying:       {StatusUnverified, StatusVerifiedFailed},
		StatusVerifiedSuccess: {StatusVerifying},
		StatusVerifiedFailed:  {StatusVerifying},
	},
	[]lifecycle.Status{StatusVerifiedSuccess, StatusVerifiedFailed},
	map[lifecycle.Status]string{
		StatusUnverified:      "unverified",
		StatusVerifying:       "verifying",
		StatusVerifiedSuccess: "verified",
		StatusVerifiedFailed:  "verification failed",
	},
)

// Machine exposes the dataset status machine.
func Machine() *lifecycle.Machine {
	return machine
}

type Dataset struct {
	ID           int64            `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	Name         string           `gorm:"column:name;uniqueIndex;size:128" json:"name"`
	Description  string           `gorm:"column:description;size:1024" json:"description"`
	Bucket       string           `gorm:"column:bucket;size:128" json:"bucket"`
	ObjectKey    string           `gorm:"column:object_key;size:512" json:"objectKey"`
	TrainCount   int              `gorm:"column:train_count" json:"trainCount"`
	ValCount     int              `gorm:"column:val_count" json:"valCount"`
	Status       lifecycle.Status `gorm:"column:status;index" json:"status"`
	ErrorMsg     string           `gorm:"column:error_msg;size:2048" json:"errorMsg,omitempty"`
	CreateUserID int64            `gorm:"column:create_user_id;index" json:"createUserId"`
	CreatedAt    time.Time        `gorm:"column:created_at" json:"createTime"`
	UpdatedAt    time.Time        `gorm:"column:updated_at" json:"updateTime"`
}

func (Dataset) TableName() string {
	return "datasets"
}

// Uploaded reports whether a dataset file has been stored.
func (d *Dataset) Uploaded() bool {
	return d.Bucket != "" && d.ObjectKey != ""
}

type CreateInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type UpdateInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Query struct {
	Name         string
	Status       *lifecycle.Status
	CreateUserID int64
	Current      int
	Size         int
}

// Page is the envelope for paginated listings.
type Page struct {
	Records []Dataset `json:"records"`
	Total   int64     `json:"total"`
	Current int       `json:"current"`
	Size    int       `json:"size"`
}
