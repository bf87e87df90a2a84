package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volaticloud/runbox/internal/execution"
)

type fakeJob struct {
	job             execution.JobMessage
	acked, naked, termed bool
}

func (f *fakeJob) Job() execution.JobMessage { return f.job }
func (f *fakeJob) Ack() error                { f.acked = true; return nil }
func (f *fakeJob) Nak() error                { f.naked = true; return nil }
func (f *fakeJob) Term() error               { f.termed = true; return nil }

type fakeFetcher struct {
	batches [][]FetchedJob
	calls   int
}

func (f *fakeFetcher) Fetch(_ context.Context, _ int, _ time.Duration) ([]FetchedJob, error) {
	f.calls++
	if f.calls > len(f.batches) {
		return nil, nil
	}
	return f.batches[f.calls-1], nil
}

func TestWorker_Run_StopsOnContextCancel(t *testing.T) {
	fetcher := &fakeFetcher{}
	engine := &fakeEngine{exitCode: 0}
	reporter := &fakeReporter{}
	processor := NewProcessor(engine, fakeArtifactStore{}, nil, nil, reporter, nil, DefaultConfig())
	w := New(fetcher, processor, nil, Config{FetchBatch: 1, FetchMaxWait: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWorker_Handle_SuccessfulJobAcks(t *testing.T) {
	reporter := &fakeReporter{}
	engine := &fakeEngine{exitCode: 0}
	processor := NewProcessor(engine, fakeArtifactStore{}, nil, nil, reporter, nil, DefaultConfig())
	w := New(&fakeFetcher{}, processor, nil, DefaultConfig())

	job := &fakeJob{job: testJob()}
	w.handle(context.Background(), job)

	assert.True(t, job.acked)
	assert.False(t, job.naked)
	require.Len(t, reporter.updates, 2)
	assert.Equal(t, execution.StatusPassed, reporter.updates[1].Status)
}

func TestWorker_Handle_ReporterFailureNaksForRedelivery(t *testing.T) {
	reporter := &fakeReporter{failOn: execution.StatusRunning}
	engine := &fakeEngine{exitCode: 0}
	processor := NewProcessor(engine, fakeArtifactStore{}, nil, nil, reporter, nil, DefaultConfig())
	w := New(&fakeFetcher{}, processor, nil, DefaultConfig())

	job := &fakeJob{job: testJob()}
	w.handle(context.Background(), job)

	assert.True(t, job.naked)
	assert.False(t, job.acked)
}

func TestWorker_Run_ProcessesAllFetchedJobsThenStops(t *testing.T) {
	reporter := &fakeReporter{}
	engine := &fakeEngine{exitCode: 0}
	processor := NewProcessor(engine, fakeArtifactStore{}, nil, nil, reporter, nil, DefaultConfig())

	jobA := &fakeJob{job: testJob()}
	otherJob := testJob()
	otherJob.TaskID = "task-2"
	jobB := &fakeJob{job: otherJob}

	ctx, cancel := context.WithCancel(context.Background())
	fetcher := &fakeFetcher{batches: [][]FetchedJob{{jobA, jobB}}}
	w := New(fetcher, processor, nil, Config{FetchBatch: 2, FetchMaxWait: time.Millisecond})

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_ = w.Run(ctx)

	assert.True(t, jobA.acked)
	assert.True(t, jobB.acked)
}
