package scheduler

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/eko/gocache/lib/v4/codec"
	"github.com/jon4hz/feedbackr/internal/auth"
	"github.com/jon4hz/feedbackr/internal/database"
)

// Job IDs.
const (
	JobThrottleSweep = "throttle-sweep"
	JobStats         = "stats"
)

// StatsFunc reads the current database counters.
type StatsFunc func(ctx context.Context) (*database.Stats, error)

// CacheStatsFunc reads the profile cache counters.
type CacheStatsFunc func() *codec.Stats

// ThrottleSweepJob drops expired failed-login windows.
func ThrottleSweepJob(throttle *auth.Throttle, interval time.Duration) Job {
	return Job{
		ID:       JobThrottleSweep,
		Name:     "Login throttle sweep",
		Interval: interval,
		Run: func(context.Context) error {
			remaining := throttle.Sweep()
			log.Debug("Swept login throttle", "tracked", remaining)
			return nil
		},
	}
}

// StatsJob logs the number of users and feedback and, if cacheStats is set,
// the profile cache hit rate.
func StatsJob(stats StatsFunc, cacheStats CacheStatsFunc, interval time.Duration) Job {
	return Job{
		ID:       JobStats,
		Name:     "Database stats",
		Interval: interval,
		Run: func(ctx context.Context) error {
			s, err := stats(ctx)
			if err != nil {
				return err
			}
			log.Info("Database stats", "users", s.Users, "feedback", s.Feedback)
			if cacheStats == nil {
				return nil
			}
			if cs := cacheStats(); cs != nil {
				log.Info("Profile cache stats", "hits", cs.Hits, "misses", cs.Miss, "set_errors", cs.SetError)
			}
			return nil
		},
	}
}
