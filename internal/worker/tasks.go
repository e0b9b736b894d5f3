package worker

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/socialchef/beacon/internal/observe"
)

// Task type constants
const (
	TypeDeliverEvent = "telemetry:event"
	TypeDeliverSpan  = "telemetry:span"
)

// QueueName is the asynq queue telemetry tasks are enqueued on.
const QueueName = "telemetry"

// NewDeliverEventTask creates a task carrying a JSON encoded event
func NewDeliverEventTask(ev *observe.Event) (*asynq.Task, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeDeliverEvent, data, taskOptions()...), nil
}

// NewDeliverSpanTask creates a task carrying a JSON encoded span tree
func NewDeliverSpanTask(tree *observe.SpanTree) (*asynq.Task, error) {
	data, err := json.Marshal(tree)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeDeliverSpan, data, taskOptions()...), nil
}

func taskOptions() []asynq.Option {
	return []asynq.Option{
		asynq.Queue(QueueName),
		asynq.MaxRetry(3),
		asynq.Retention(time.Hour),
	}
}
