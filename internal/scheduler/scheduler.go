// Package scheduler runs the periodic maintenance jobs.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-co-op/gocron/v2"
)

// JobStatus represents the status of a job.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusScheduled JobStatus = "scheduled"
)

// JobFunc represents a function that can be scheduled.
type JobFunc func(ctx context.Context) error

// Job describes a job running every Interval.
type Job struct {
	ID       string
	Name     string
	Interval time.Duration
	Run      JobFunc
}

// JobInfo contains information about a scheduled job.
type JobInfo struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Interval   time.Duration `json:"interval"`
	Status     JobStatus     `json:"status"`
	LastRun    time.Time     `json:"lastRun"`
	RunCount   int           `json:"runCount"`
	ErrorCount int           `json:"errorCount"`
	LastError  string        `json:"lastError,omitempty"`
}

type scheduledJob struct {
	info   JobInfo
	gocron gocron.Job
}

// Scheduler manages scheduled jobs.
type Scheduler struct {
	gocron gocron.Scheduler
	mu     sync.Mutex
	jobs   map[string]*scheduledJob
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new scheduler.
func New() (*Scheduler, error) {
	gocronScheduler, err := gocron.NewScheduler(gocron.WithLogger(newLogger()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		gocron: gocronScheduler,
		jobs:   make(map[string]*scheduledJob),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	log.Info("Starting job scheduler", "jobs", len(s.jobs))
	s.gocron.Start()
}

// Stop stops the scheduler and cancels running jobs.
func (s *Scheduler) Stop() error {
	log.Info("Stopping job scheduler")
	s.cancel()
	return s.gocron.Shutdown()
}

// AddJob schedules job. Runs of the same job never overlap.
func (s *Scheduler) AddJob(job Job) error {
	if job.Interval <= 0 {
		return fmt.Errorf("job %s needs a positive interval", job.ID)
	}
	if job.Name == "" {
		job.Name = job.ID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}

	sj := &scheduledJob{
		info: JobInfo{
			ID:       job.ID,
			Name:     job.Name,
			Interval: job.Interval,
			Status:   JobStatusScheduled,
		},
	}

	gj, err := s.gocron.NewJob(
		gocron.DurationJob(job.Interval),
		gocron.NewTask(s.wrapJobFunc(job.ID, job.Run)),
		gocron.WithName(job.Name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", job.ID, err)
	}
	sj.gocron = gj

	s.jobs[job.ID] = sj
	log.Info("Added job to scheduler", "id", job.ID, "name", job.Name, "interval", job.Interval)
	return nil
}

// RunJobNow manually triggers a job to run immediately.
func (s *Scheduler) RunJobNow(id string) error {
	s.mu.Lock()
	sj, exists := s.jobs[id]
	s.mu.Unlock()
	if !exists {
		return fmt.Errorf("job %s not found", id)
	}

	log.Debug("Manually triggering job", "id", id)
	if err := sj.gocron.RunNow(); err != nil {
		return fmt.Errorf("failed to trigger job %s: %w", id, err)
	}
	return nil
}

// GetJob returns a snapshot of the job's state.
func (s *Scheduler) GetJob(id string) (JobInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sj, exists := s.jobs[id]
	if !exists {
		return JobInfo{}, false
	}
	return sj.info, true
}

func (s *Scheduler) wrapJobFunc(id string, jobFunc JobFunc) func() {
	return func() {
		s.mu.Lock()
		sj := s.jobs[id]
		if sj == nil {
			s.mu.Unlock()
			log.Error("Job info not found", "id", id)
			return
		}
		sj.info.Status = JobStatusRunning
		sj.info.LastRun = time.Now()
		sj.info.RunCount++
		s.mu.Unlock()

		log.Debug("Starting job", "id", id)
		err := jobFunc(s.ctx)

		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			log.Error("Job failed", "id", id, "error", err)
			sj.info.Status = JobStatusFailed
			sj.info.ErrorCount++
			sj.info.LastError = err.Error()
			return
		}
		log.Debug("Job completed", "id", id)
		sj.info.Status = JobStatusCompleted
		sj.info.LastError = ""
	}
}
