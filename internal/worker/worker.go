package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/volaticloud/runbox/internal/execution"
	"github.com/volaticloud/runbox/internal/queue"
)

// FetchedJob is one job pulled off the queue paired with its ack handle.
// Defined locally (rather than depending on queue.Message directly) so the
// Worker can be exercised with hand-written fakes.
type FetchedJob interface {
	Job() execution.JobMessage
	Ack() error
	Nak() error
	Term() error
}

// Fetcher is the subset of internal/queue.Consumer the Worker depends on.
type Fetcher interface {
	Fetch(ctx context.Context, batch int, maxWait time.Duration) ([]FetchedJob, error)
}

// QueueFetcher adapts a *queue.Consumer to Fetcher.
type QueueFetcher struct {
	consumer *queue.Consumer
}

// NewQueueFetcher wraps consumer.
func NewQueueFetcher(consumer *queue.Consumer) *QueueFetcher {
	return &QueueFetcher{consumer: consumer}
}

func (f *QueueFetcher) Fetch(ctx context.Context, batch int, maxWait time.Duration) ([]FetchedJob, error) {
	msgs, err := f.consumer.Fetch(ctx, batch, maxWait)
	if err != nil {
		return nil, err
	}
	out := make([]FetchedJob, len(msgs))
	for i, m := range msgs {
		out[i] = queueMessage{m}
	}
	return out, nil
}

// queueMessage adapts queue.Message to FetchedJob.
type queueMessage struct{ m queue.Message }

func (q queueMessage) Job() execution.JobMessage { return q.m.Job }
func (q queueMessage) Ack() error                { return q.m.Ack() }
func (q queueMessage) Nak() error                { return q.m.Nak() }
func (q queueMessage) Term() error               { return q.m.Term() }

// Worker pulls jobs from the Job Queue and runs each one through a
// Processor, acking, naking or terming the underlying message depending on
// the outcome.
type Worker struct {
	fetcher   Fetcher
	processor *Processor
	logger    *zap.Logger
	cfg       Config
}

// New builds a Worker.
func New(fetcher Fetcher, processor *Processor, logger *zap.Logger, cfg Config) *Worker {
	return &Worker{fetcher: fetcher, processor: processor, logger: logger, cfg: cfg}
}

// Run pulls and processes jobs until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		jobs, err := w.fetcher.Fetch(ctx, w.cfg.FetchBatch, w.cfg.FetchMaxWait)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if w.logger != nil {
				w.logger.Warn("failed to fetch jobs", zap.Error(err))
			}
			continue
		}

		for _, job := range jobs {
			w.handle(ctx, job)
		}
	}
}

// handle processes one job, resolving its ack state based on whether the
// failure was job-level (reported to the Producer, then Acked so it is
// never retried) or infrastructural (Nak'd so JetStream redelivers it).
func (w *Worker) handle(ctx context.Context, job FetchedJob) {
	msg := job.Job()
	if err := w.processor.Process(ctx, msg); err != nil {
		if w.logger != nil {
			w.logger.Error("failed to report job outcome, requesting redelivery",
				zap.Error(err), zap.String("taskId", msg.TaskID), zap.String("organizationId", msg.OrganizationID))
		}
		_ = job.Nak()
		return
	}
	_ = job.Ack()
}
