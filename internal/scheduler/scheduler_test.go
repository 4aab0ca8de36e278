package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eko/gocache/lib/v4/codec"
	"github.com/jon4hz/feedbackr/internal/auth"
	"github.com/jon4hz/feedbackr/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := New()
	require.NoError(t, err)
	s.Start()
	t.Cleanup(func() {
		_ = s.Stop()
	})
	return s
}

func TestAddJob_Validation(t *testing.T) {
	s := newScheduler(t)
	noop := func(context.Context) error { return nil }

	assert.Error(t, s.AddJob(Job{ID: "zero", Run: noop}))
	require.NoError(t, s.AddJob(Job{ID: "a", Interval: time.Hour, Run: noop}))
	assert.Error(t, s.AddJob(Job{ID: "a", Interval: time.Hour, Run: noop}))

	info, ok := s.GetJob("a")
	require.True(t, ok)
	assert.Equal(t, JobStatusScheduled, info.Status)
	assert.Equal(t, "a", info.Name)

	_, ok = s.GetJob("missing")
	assert.False(t, ok)
	assert.Error(t, s.RunJobNow("missing"))
}

func TestRunJobNow(t *testing.T) {
	s := newScheduler(t)
	var runs atomic.Int32

	require.NoError(t, s.AddJob(Job{
		ID:       "count",
		Name:     "Count",
		Interval: time.Hour,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}))
	require.NoError(t, s.RunJobNow("count"))

	require.Eventually(t, func() bool {
		info, _ := s.GetJob("count")
		return info.Status == JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	info, _ := s.GetJob("count")
	assert.Equal(t, 1, info.RunCount)
	assert.Equal(t, int32(1), runs.Load())
	assert.False(t, info.LastRun.IsZero())
}

func TestRunJobNow_Failure(t *testing.T) {
	s := newScheduler(t)
	require.NoError(t, s.AddJob(Job{
		ID:       "fail",
		Interval: time.Hour,
		Run:      func(context.Context) error { return errors.New("boom") },
	}))
	require.NoError(t, s.RunJobNow("fail"))

	require.Eventually(t, func() bool {
		info, _ := s.GetJob("fail")
		return info.Status == JobStatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	info, _ := s.GetJob("fail")
	assert.Equal(t, 1, info.ErrorCount)
	assert.Equal(t, "boom", info.LastError)
}

func TestThrottleSweepJob(t *testing.T) {
	throttle := auth.NewThrottle(1, 10*time.Millisecond)
	throttle.Fail("alice")
	require.False(t, throttle.Allowed("alice"))

	job := ThrottleSweepJob(throttle, time.Minute)
	assert.Equal(t, JobThrottleSweep, job.ID)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, job.Run(context.Background()))
	assert.Zero(t, throttle.Sweep())

	// a disabled throttle is fine too
	assert.NoError(t, ThrottleSweepJob(nil, time.Minute).Run(context.Background()))
}

func TestStatsJob(t *testing.T) {
	job := StatsJob(func(context.Context) (*database.Stats, error) {
		return &database.Stats{Users: 2, Feedback: 5}, nil
	}, nil, time.Minute)
	assert.Equal(t, JobStats, job.ID)
	assert.NoError(t, job.Run(context.Background()))

	var cacheReads int
	withCache := StatsJob(func(context.Context) (*database.Stats, error) {
		return &database.Stats{}, nil
	}, func() *codec.Stats {
		cacheReads++
		return &codec.Stats{Hits: 3, Miss: 1}
	}, time.Minute)
	assert.NoError(t, withCache.Run(context.Background()))
	assert.Equal(t, 1, cacheReads)

	failing := StatsJob(func(context.Context) (*database.Stats, error) {
		return nil, errors.New("db closed")
	}, nil, time.Minute)
	assert.Error(t, failing.Run(context.Background()))
}
