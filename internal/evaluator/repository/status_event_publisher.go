package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"nodeo/internal/common/mq"
	"nodeo/internal/evaluator/model"
	appErr "nodeo/pkg/errors"
	"nodeo/pkg/utils/contextkey"
)

// Headers set on status events.
const (
	EventTypeHeader = "event-type"
	TraceIDHeader   = "trace-id"
)

// StatusEventPublisher announces runs that reached a final state.
type StatusEventPublisher interface {
	PublishFinalStatus(ctx context.Context, status model.RunStatusResponse) error
}

// MQStatusEventPublisher sends final status events to a queue topic. Events
// are keyed by run id so the history writer sees one run in order.
type MQStatusEventPublisher struct {
	queue mq.MessageQueue
	topic string
}

func NewMQStatusEventPublisher(queue mq.MessageQueue, topic string) *MQStatusEventPublisher {
	return &MQStatusEventPublisher{queue: queue, topic: topic}
}

func (p *MQStatusEventPublisher) PublishFinalStatus(ctx context.Context, status model.RunStatusResponse) error {
	switch {
	case p == nil || p.queue == nil:
		return appErr.New(appErr.ServiceUnavailable).WithMessage("status publisher is not configured")
	case p.topic == "":
		return appErr.New(appErr.InvalidParams).WithMessage("status topic is required")
	case status.RunID == "":
		return appErr.ValidationError("run_id", "required")
	}

	body, err := json.Marshal(model.StatusEvent{
		Type:      model.StatusEventFinal,
		Status:    status,
		CreatedAt: time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("encode status event: %w", err)
	}
	msg := mq.NewMessage(body)
	msg.ID = status.RunID
	msg.SetHeader(EventTypeHeader, string(model.StatusEventFinal))
	if traceID, ok := ctx.Value(contextkey.TraceID).(string); ok && traceID != "" {
		msg.SetHeader(TraceIDHeader, traceID)
	}

	if err := p.queue.Publish(ctx, p.topic, msg); err != nil {
		return appErr.Wrapf(err, appErr.QueueError, "publish final status of %s", status.RunID).
			WithDetail("topic", p.topic)
	}
	return nil
}
