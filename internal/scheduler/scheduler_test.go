package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_InvalidTimezone(t *testing.T) {
	_, err := New("Mars/Olympus_Mons", zerolog.Nop())
	assert.Error(t, err)
}

func TestAddJob(t *testing.T) {
	s, err := New("UTC", zerolog.Nop())
	require.NoError(t, err)

	noop := func(context.Context) error { return nil }
	require.NoError(t, s.AddJob("run", "0 */6 * * *", noop))
	assert.Error(t, s.AddJob("bad", "every tuesday", noop))

	jobs := s.ListJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "run", jobs[0].Name)

	s.RemoveJob("run")
	assert.Empty(t, s.ListJobs())
}

func TestRun_SkipsWhileAnotherRunIsActive(t *testing.T) {
	s, err := New("UTC", zerolog.Nop())
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan bool)

	go func() {
		done <- s.run(context.Background(), "slow", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ran := s.run(context.Background(), "overlap", func(context.Context) error {
		t.Error("overlapping job must not run")
		return nil
	})
	assert.False(t, ran)

	close(release)
	assert.True(t, <-done)

	assert.True(t, s.run(context.Background(), "next", func(context.Context) error {
		return errors.New("failures are logged, not returned")
	}))
}

func TestRunNow_AppliesTimeout(t *testing.T) {
	s, err := New("UTC", zerolog.Nop())
	require.NoError(t, err)
	s.SetJobTimeout(10 * time.Millisecond)

	err = s.RunNow(context.Background(), "wait", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStop_CancelsRunningJob(t *testing.T) {
	s, err := New("UTC", zerolog.Nop())
	require.NoError(t, err)
	s.Start()

	started := make(chan struct{})
	result := make(chan error, 1)
	go s.run(s.base, "long", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		result <- ctx.Err()
		return ctx.Err()
	})
	<-started

	<-s.Stop().Done()
	assert.ErrorIs(t, <-result, context.Canceled)
}
