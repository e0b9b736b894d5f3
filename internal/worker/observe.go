package worker

import (
	"context"
	"fmt"
	"strconv"

	"github.com/hibiken/asynq"

	"github.com/socialchef/beacon/internal/observe"
)

// ObserveMiddleware runs every task in its own unit of work and captures
// handler errors and panics.
func ObserveMiddleware(hub *observe.Hub) asynq.MiddlewareFunc {
	return func(h asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) (err error) {
			taskID, _ := asynq.GetTaskID(ctx)
			queueName, _ := asynq.GetQueueName(ctx)
			retryCount, _ := asynq.GetRetryCount(ctx)

			ctx, token := hub.Enter(ctx)
			defer hub.Exit(token)

			hub.SetTags(ctx, map[string]string{
				"task_type":   t.Type(),
				"task_id":     taskID,
				"queue":       queueName,
				"retry_count": strconv.Itoa(retryCount),
			})

			tx := hub.StartTransaction(ctx, "queue.process", t.Type())
			defer func() {
				if r := recover(); r != nil {
					tx.FinishWithStatus(observe.SpanStatusInternalError)
					id := hub.Recover(ctx, r)
					err = fmt.Errorf("task panicked, event %s: %v", id, r)
					return
				}
				if err != nil {
					tx.FinishWithStatus(observe.SpanStatusInternalError)
					return
				}
				tx.FinishWithStatus(observe.SpanStatusOK)
			}()

			err = h.ProcessTask(ctx, t)
			if err != nil {
				hub.CaptureException(ctx, err)
			}
			return err
		})
	}
}
