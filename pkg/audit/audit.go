// Package audit publishes lifecycle events to the audit topic and, on
// the consumer side, persists them as queryable records. The stream is
// observational only: orchestration decisions never read it back.
package audit

import (
	"context"

	"github.com/wxjbaga/medical/pkg/common/kafka"
	"github.com/wxjbaga/medical/pkg/common/logger"
)

// Recorder records a lifecycle event. Recording is best-effort and must
// never fail the triggering operation.
type Recorder interface {
	Record(ctx context.Context, action string, entity string, entityID int64, actorID int64, detail map[string]interface{})
}

// KafkaRecorder publishes events to the audit topic.
type KafkaRecorder struct {
	producer *kafka.Producer
	source   string
}

func NewKafkaRecorder(producer *kafka.Producer, source string) *KafkaRecorder {
	return &KafkaRecorder{producer: producer, source: source}
}

func (r *KafkaRecorder) Record(ctx context.Context, action string, entity string, entityID int64, actorID int64, detail map[string]interface{}) {
	data := map[string]interface{}{
		"entity":    entity,
		"entity_id": entityID,
		"actor_id":  actorID,
	}
	for k, v := range detail {
		data[k] = v
	}
	if err := r.producer.PublishEvent(ctx, action, r.source, data); err != nil {
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"action":    action,
			"entity":    entity,
			"entity_id": entityID,
		}).Warn("failed to record audit event")
	}
}

// NopRecorder drops events; used when Kafka is not configured.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, string, string, int64, int64, map[string]interface{}) {
}
