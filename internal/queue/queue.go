// Package queue publishes and consumes Job Queue messages over NATS
// JetStream. The Producer publishes one JobMessage per accepted execution
// request; the Worker pulls from a durable, explicit-ack consumer so a crash
// mid-job redelivers the same message rather than losing it (spec §4.2,
// §5 Job Queue).
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/volaticloud/runbox/internal/execution"
)

// StreamName is the single JetStream stream backing the job queue.
const StreamName = "RUNBOX_JOBS"

// Subject is the subject jobs are published and consumed on.
const Subject = "runbox.jobs"

// ConsumerName is the durable pull consumer name shared by all Worker
// instances, giving them competing-consumer semantics over one stream.
const ConsumerName = "runbox-workers"

// Queue wraps a JetStream context bound to the job stream.
type Queue struct {
	js jetstream.JetStream
	nc *nats.Conn
}

// Connect dials natsURL and ensures the job stream exists.
func Connect(ctx context.Context, natsURL string) (*Queue, error) {
	nc, err := nats.Connect(natsURL, nats.Name("runbox"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: []string{Subject},
		Storage:  jetstream.FileStorage,
	}); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create job stream: %w", err)
	}

	return &Queue{js: js, nc: nc}, nil
}

// Close drains the underlying NATS connection.
func (q *Queue) Close() error {
	return q.nc.Drain()
}

// Publish enqueues a job. Publishing is synchronous and acked by the stream
// before returning, so a successful Publish guarantees durability (spec §7:
// durable-before-broadcast applies symmetrically to enqueue).
func (q *Queue) Publish(ctx context.Context, job execution.JobMessage) error {
	if !job.Valid() {
		return fmt.Errorf("refusing to publish invalid job message for task %q", job.TaskID)
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job message: %w", err)
	}
	if _, err := q.js.Publish(ctx, Subject, payload); err != nil {
		return fmt.Errorf("failed to publish job %s/%s: %w", job.OrganizationID, job.TaskID, err)
	}
	return nil
}

// Message is a received job paired with the ack handle the Worker must
// resolve exactly once (Ack, Nak, or Term).
type Message struct {
	Job execution.JobMessage
	raw jetstream.Msg
}

// Ack acknowledges successful processing; the message will not be
// redelivered.
func (m Message) Ack() error { return m.raw.Ack() }

// Nak signals transient failure; the broker redelivers after its backoff.
func (m Message) Nak() error { return m.raw.Nak() }

// Term signals permanent failure (e.g. an unparseable payload); the broker
// must not redeliver it.
func (m Message) Term() error { return m.raw.Term() }

// Consumer pulls job messages as a durable, competing consumer shared by
// every Worker process.
type Consumer struct {
	consumer jetstream.Consumer
}

// NewConsumer creates (or attaches to) the durable job consumer. maxAckPending
// bounds how many in-flight jobs this consumer group may have unacked at
// once, giving a simple backpressure knob across Worker replicas.
func NewConsumer(ctx context.Context, q *Queue, maxAckPending int) (*Consumer, error) {
	if maxAckPending <= 0 {
		maxAckPending = 1
	}
	stream, err := q.js.Stream(ctx, StreamName)
	if err != nil {
		return nil, fmt.Errorf("failed to look up job stream: %w", err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxAckPending: maxAckPending,
		AckWait:       5 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create job consumer: %w", err)
	}

	return &Consumer{consumer: cons}, nil
}

// Fetch pulls up to batch messages, waiting up to maxWait for at least one.
// Messages with unparseable payloads are Termed immediately and omitted
// from the returned slice, per spec §4.2 step 1 (reject without requeue).
func (c *Consumer) Fetch(ctx context.Context, batch int, maxWait time.Duration) ([]Message, error) {
	msgs, err := c.consumer.Fetch(batch, jetstream.FetchMaxWait(maxWait))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch jobs: %w", err)
	}

	var out []Message
	for raw := range msgs.Messages() {
		var job execution.JobMessage
		if err := json.Unmarshal(raw.Data(), &job); err != nil {
			_ = raw.Term()
			continue
		}
		if !job.Valid() {
			_ = raw.Term()
			continue
		}
		out = append(out, Message{Job: job, raw: raw})
	}
	if err := msgs.Error(); err != nil && len(out) == 0 {
		return nil, fmt.Errorf("job fetch batch error: %w", err)
	}
	return out, nil
}
