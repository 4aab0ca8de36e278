package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/jon4hz/feedbackr/internal/api"
	"github.com/jon4hz/feedbackr/internal/auth"
	"github.com/jon4hz/feedbackr/internal/cache"
	"github.com/jon4hz/feedbackr/internal/config"
	"github.com/jon4hz/feedbackr/internal/database"
	"github.com/jon4hz/feedbackr/internal/gravatar"
	"github.com/jon4hz/feedbackr/internal/notify/email"
	"github.com/jon4hz/feedbackr/internal/scheduler"
	"github.com/jon4hz/feedbackr/internal/service"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Feedbackr server",
	Long:  `Start the Feedbackr web server and its background jobs.`,
	Example: `feedbackr serve --config config.yml
feedbackr serve -c /path/to/config.yml --log-level debug
`,
	RunE: startServer,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// app holds the components shared by the server and the scheduler.
type app struct {
	server   *api.Server
	throttle *auth.Throttle
	service  *service.Service
	profiles *cache.PrefixedCache[service.Profile]
}

func newApp(cfg *config.Config, db database.DB) (*app, error) {
	var throttle *auth.Throttle
	if cfg.ThrottleEnabled() {
		throttle = auth.NewThrottle(cfg.LoginThrottle.MaxAttempts, cfg.LoginThrottle.Window)
	}

	authenticator, err := auth.New(db, cfg.BcryptCost, throttle)
	if err != nil {
		return nil, fmt.Errorf("failed to create authenticator: %w", err)
	}

	store, err := cache.New(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	profiles := cache.NewPrefixedCache[service.Profile](store, service.ProfileCachePrefix, cfg.Cache.TTL)
	svc := service.New(db, profiles)
	log.Info("Using profile cache", "type", cfg.Cache.Type, "ttl", cfg.Cache.TTL)

	avatars, err := gravatar.New(cfg.Gravatar)
	if err != nil {
		return nil, fmt.Errorf("invalid gravatar config: %w", err)
	}

	server, err := api.New(cfg, authenticator, svc, email.New(cfg.Email), avatars)
	if err != nil {
		return nil, fmt.Errorf("failed to create API server: %w", err)
	}

	return &app{
		server:   server,
		throttle: throttle,
		service:  svc,
		profiles: profiles,
	}, nil
}

func (a *app) jobs(cfg *config.JobsConfig) []scheduler.Job {
	var jobs []scheduler.Job
	if a.throttle != nil && cfg.ThrottleSweepInterval > 0 {
		jobs = append(jobs, scheduler.ThrottleSweepJob(a.throttle, cfg.ThrottleSweepInterval))
	}
	if cfg.StatsInterval > 0 {
		jobs = append(jobs, scheduler.StatsJob(a.service.Stats, a.profiles.GetStats, cfg.StatsInterval))
	}
	return jobs
}

func startServer(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(rootCmdPersistentFlags.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if log.GetLevel() == log.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close() //nolint: errcheck

	a, err := newApp(cfg, db)
	if err != nil {
		return err
	}

	sched, err := scheduler.New()
	if err != nil {
		return err
	}
	jobs := a.jobs(cfg.Jobs)
	if err := startJobs(sched, jobs); err != nil {
		return err
	}
	defer func() {
		if err := sched.Stop(); err != nil {
			log.Error("failed to stop scheduler", "error", err)
		}
		logJobSummaries(sched, jobs)
	}()

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(a.server.Run)
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	log.Info("feedbackr started successfully", "listen", cfg.Listen)
	return g.Wait()
}

// startJobs schedules jobs, starts the scheduler and runs the stats job once right away.
func startJobs(sched *scheduler.Scheduler, jobs []scheduler.Job) error {
	for _, job := range jobs {
		if err := sched.AddJob(job); err != nil {
			return err
		}
	}
	sched.Start()

	if _, ok := sched.GetJob(scheduler.JobStats); ok {
		if err := sched.RunJobNow(scheduler.JobStats); err != nil {
			log.Warn("failed to run stats job", "error", err)
		}
	}
	return nil
}

func logJobSummaries(sched *scheduler.Scheduler, jobs []scheduler.Job) {
	for _, job := range jobs {
		info, ok := sched.GetJob(job.ID)
		if !ok {
			continue
		}
		log.Info("Job summary", "id", info.ID, "status", info.Status, "runs", info.RunCount, "errors", info.ErrorCount, "last_error", info.LastError)
	}
}
