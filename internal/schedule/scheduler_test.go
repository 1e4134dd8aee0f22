package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type blockingJob struct {
	runs    atomic.Int32
	started chan struct{}
	release chan struct{}
	err     error
}

func (j *blockingJob) Name() string {
	return "blocking"
}

func (j *blockingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.started != nil {
		j.started <- struct{}{}
	}
	if j.release != nil {
		<-j.release
	}
	return j.err
}

func TestAddJob(t *testing.T) {
	c := NewCronScheduler()
	job := &blockingJob{}

	require.NoError(t, c.AddJob(job, ""))
	require.False(t, c.Scheduled("blocking"))

	require.Error(t, c.AddJob(job, "not a spec"))
	require.False(t, c.Scheduled("blocking"))

	require.NoError(t, c.AddJob(job, "*/5 * * * *"))
	require.True(t, c.Scheduled("blocking"))
	require.Error(t, c.AddJob(job, "@every 1m"))
}

func TestWrapSkipsOverlappingRuns(t *testing.T) {
	c := NewCronScheduler()
	c.ctx = context.Background()
	job := &blockingJob{started: make(chan struct{}, 1), release: make(chan struct{})}
	run := c.wrap(job, "@every 1s")

	done := make(chan struct{})
	go func() {
		run()
		close(done)
	}()
	select {
	case <-job.started:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not start")
	}

	run()
	require.EqualValues(t, 1, job.runs.Load())

	close(job.release)
	<-done
	job.release = nil
	job.started = nil
	job.err = errors.New("boom")
	run()
	require.EqualValues(t, 2, job.runs.Load())
}

func TestWrapSkipsAfterCancel(t *testing.T) {
	c := NewCronScheduler()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.ctx = ctx
	job := &blockingJob{}
	c.wrap(job, "@every 1s")()
	require.Zero(t, job.runs.Load())
}

func TestStartStop(t *testing.T) {
	c := NewCronScheduler()
	job := &blockingJob{}
	require.NoError(t, c.AddJob(job, "@every 1h"))
	c.Start(context.Background())
	c.Stop()
}
