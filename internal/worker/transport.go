package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/socialchef/beacon/internal/observe"
	"github.com/socialchef/beacon/internal/utils"
)

// Enqueuer is the part of *asynq.Client the queue transport needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

var _ Enqueuer = (*asynq.Client)(nil)

// QueueTransport hands events and span trees to the worker through Redis.
type QueueTransport struct {
	client Enqueuer
}

func NewQueueTransport(client Enqueuer) *QueueTransport {
	return &QueueTransport{client: client}
}

func (t *QueueTransport) Name() string { return "queue" }

func (t *QueueTransport) SendEvent(ctx context.Context, ev *observe.Event) error {
	task, err := NewDeliverEventTask(ev)
	if err != nil {
		return utils.Permanent(fmt.Errorf("failed to create event task: %w", err))
	}
	if _, err := t.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("failed to enqueue event %s: %w", ev.ID(), err)
	}
	return nil
}

func (t *QueueTransport) SendSpan(ctx context.Context, tree *observe.SpanTree) error {
	task, err := NewDeliverSpanTask(tree)
	if err != nil {
		return utils.Permanent(fmt.Errorf("failed to create span task: %w", err))
	}
	if _, err := t.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("failed to enqueue span tree %s: %w", tree.TraceID, err)
	}
	return nil
}
