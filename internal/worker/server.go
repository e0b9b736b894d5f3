package worker

import (
	"github.com/hibiken/asynq"
)

// DefaultConcurrency is the number of delivery tasks processed at once.
const DefaultConcurrency = 10

// NewServer creates an Asynq server consuming the telemetry queue.
func NewServer(redisURL string, concurrency int) (*asynq.Server, error) {
	opt, err := RedisOpt(redisURL)
	if err != nil {
		return nil, err
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	return asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: concurrency,
			Queues:      map[string]int{QueueName: 1},
		},
	), nil
}

// NewServeMux registers the telemetry handlers of p behind the given middlewares
func NewServeMux(p *Processor, middlewares ...asynq.MiddlewareFunc) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Use(middlewares...)
	mux.HandleFunc(TypeDeliverEvent, p.HandleEvent)
	mux.HandleFunc(TypeDeliverSpan, p.HandleSpan)
	return mux
}
