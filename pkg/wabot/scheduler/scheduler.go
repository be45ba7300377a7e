// Package scheduler runs the timed announcements declared by plugin
// manifests. Uses robfig/cron for expression parsing and execution.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts standard 5-field expressions and descriptors such as
// @daily or @every 5m.
var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate reports whether spec is a usable schedule.
func Validate(spec string) error {
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// Job is a recurring message to a chat.
type Job struct {
	ID       string
	Schedule string
	ChatID   string
	Text     string

	// Source is the plugin that declared the job.
	Source string

	LastRunAt *time.Time
	LastError string
	RunCount  int
}

// JobHandler is called when a job fires.
type JobHandler func(ctx context.Context, job *Job) error

// Scheduler manages scheduled jobs.
type Scheduler struct {
	jobs    map[string]*Job
	cron    *cron.Cron
	cronIDs map[string]cron.EntryID

	// running prevents overlapping runs of the same job.
	running map[string]bool

	handler    JobHandler
	jobTimeout time.Duration

	logger *slog.Logger
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler that calls handler for every firing.
func New(handler JobHandler, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		jobs:       make(map[string]*Job),
		cronIDs:    make(map[string]cron.EntryID),
		running:    make(map[string]bool),
		handler:    handler,
		jobTimeout: time.Minute,
		logger:     logger.With("component", "scheduler"),
		ctx:        context.Background(),
	}
}

// Add registers a job. Jobs added after Start are scheduled immediately.
func (s *Scheduler) Add(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %q already exists", job.ID)
	}
	if err := Validate(job.Schedule); err != nil {
		return err
	}

	if s.cron != nil {
		if err := s.schedule(job); err != nil {
			return err
		}
	}
	s.jobs[job.ID] = job

	s.logger.Info("scheduler: job added", "id", job.ID, "schedule", job.Schedule, "chat", job.ChatID)
	return nil
}

// Remove deletes a job by ID.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[id]; !exists {
		return fmt.Errorf("job %q not found", id)
	}
	if entryID, ok := s.cronIDs[id]; ok {
		s.cron.Remove(entryID)
		delete(s.cronIDs, id)
	}
	delete(s.jobs, id)

	s.logger.Info("scheduler: job removed", "id", id)
	return nil
}

// List returns the registered jobs ordered by ID.
func (s *Scheduler) List() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// Start begins firing jobs until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron = cron.New(cron.WithParser(parser))

	for _, job := range s.jobs {
		if err := s.schedule(job); err != nil {
			s.logger.Warn("scheduler: skipping job", "id", job.ID, "error", err)
		}
	}
	s.cron.Start()

	s.logger.Info("scheduler: started", "jobs", len(s.jobs))
	return nil
}

// Stop halts the cron loop and waits briefly for running jobs.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	c := s.cron
	s.mu.RUnlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-time.After(10 * time.Second):
			s.logger.Warn("scheduler: stop timed out")
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("scheduler: stopped")
}

func (s *Scheduler) schedule(job *Job) error {
	entryID, err := s.cron.AddFunc(job.Schedule, func() { s.run(job.ID) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", job.Schedule, err)
	}
	s.cronIDs[job.ID] = entryID
	return nil
}

// run executes one firing of the job.
func (s *Scheduler) run(id string) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok || s.running[id] {
		s.mu.Unlock()
		if ok {
			s.logger.Warn("scheduler: previous run still active, skipping", "id", id)
		}
		return
	}
	s.running[id] = true
	parent := s.ctx
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(parent, s.jobTimeout)
	defer cancel()

	start := time.Now()
	err := s.handler(ctx, job)

	s.mu.Lock()
	delete(s.running, id)
	job.LastRunAt = &start
	job.RunCount++
	job.LastError = ""
	if err != nil {
		job.LastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("scheduler: job failed", "id", id, "error", err)
		return
	}
	s.logger.Debug("scheduler: job ran", "id", id, "duration", time.Since(start))
}
