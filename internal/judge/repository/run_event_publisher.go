package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"codejudge/internal/common/mq"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
)

// RunEventPublisher publishes run events for async processing.
type RunEventPublisher interface {
	PublishRunFinished(ctx context.Context, event model.RunEvent) error
}

// MQRunEventPublisher publishes run events to a message queue.
type MQRunEventPublisher struct {
	producer mq.Producer
	topic    string
}

// NewMQRunEventPublisher creates a new MQ run event publisher.
func NewMQRunEventPublisher(producer mq.Producer, topic string) *MQRunEventPublisher {
	return &MQRunEventPublisher{producer: producer, topic: topic}
}

// PublishRunFinished publishes a finished run event keyed by run id.
func (p *MQRunEventPublisher) PublishRunFinished(ctx context.Context, event model.RunEvent) error {
	if p == nil || p.producer == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("run event publisher is not configured")
	}
	if p.topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("run event topic is required")
	}
	if event.RunID == "" {
		return appErr.ValidationError("run_id", "required")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal run event failed: %w", err)
	}
	message := mq.NewMessage(payload)
	message.ID = event.RunID
	message.SetHeader("event", event.Type)
	if err := p.producer.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish run event failed")
	}
	return nil
}
