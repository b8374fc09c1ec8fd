package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/wxjbaga/medical/pkg/common/kafka"
)

// Record is one persisted audit event.
type Record struct {
	ID        int64             `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	EventID   string            `gorm:"column:event_id;uniqueIndex;size:64" json:"eventId"`
	Action    string            `gorm:"column:action;size:64;index" json:"action"`
	Entity    string            `gorm:"column:entity;size:32;index" json:"entity"`
	EntityID  int64             `gorm:"column:entity_id;index" json:"entityId"`
	ActorID   int64             `gorm:"column:actor_id" json:"actorId"`
	Detail    datatypes.JSONMap `gorm:"column:detail" json:"detail"`
	CreatedAt time.Time         `gorm:"column:created_at" json:"createdAt"`
}

func (Record) TableName() string {
	return "audit_records"
}

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&Record{})
}

// Save persists a consumed event. Replays of an already-stored event are
// ignored so the at-least-once topic delivery stays harmless.
func (s *Store) Save(ctx context.Context, event kafka.Event) error {
	record := Record{
		EventID:   event.ID,
		Action:    event.Type,
		CreatedAt: event.Timestamp,
	}
	if v, ok := event.Data["entity"].(string); ok {
		record.Entity = v
	}
	if v, ok := event.Data["entity_id"].(float64); ok {
		record.EntityID = int64(v)
	}
	if v, ok := event.Data["actor_id"].(float64); ok {
		record.ActorID = int64(v)
	}
	record.Detail = datatypes.JSONMap(event.Data)

	err := s.db.WithContext(ctx).Create(&record).Error
	if err != nil && isDuplicate(err) {
		return nil
	}
	return err
}

func (s *Store) List(ctx context.Context, entity string, entityID int64, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Order("created_at desc").Limit(limit)
	if entity != "" {
		q = q.Where("entity = ?", entity)
	}
	if entityID > 0 {
		q = q.Where("entity_id = ?", entityID)
	}
	var records []Record
	return records, q.Find(&records).Error
}

func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "duplicate key") ||
		strings.Contains(err.Error(), "UNIQUE constraint")
}
