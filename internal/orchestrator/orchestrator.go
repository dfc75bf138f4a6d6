package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"flowgen/internal/credentials"
	"flowgen/internal/domain"
	"flowgen/internal/driver"
	"flowgen/internal/registry"
)

const (
	defaultMaxConcurrent = 2
	defaultWaitPoll      = 500 * time.Millisecond
)

var ErrShuttingDown = errors.New("orchestrator: shutting down")

// Runner executes one generation run for one job. *driver.Driver is the real
// implementation; tests script their own.
type Runner interface {
	Run(ctx context.Context, req driver.RunRequest) ([]string, error)
}

// SubmitOptions control one submission.
type SubmitOptions struct {
	// Headless overrides the configured default when set.
	Headless *bool
	// Credentials is an inline bundle used for this run only, bypassing the
	// shared store.
	Credentials credentials.Bundle
}

// Config tunes the orchestrator.
type Config struct {
	// MaxConcurrent bounds how many browser environments run at once.
	MaxConcurrent int
	// DefaultHeadless applies when a submission does not say.
	DefaultHeadless bool
	// WaitPollInterval is how often RunAndWait re-reads the registry.
	WaitPollInterval time.Duration
	// CancelAbandonedWaits makes RunAndWait cancel the underlying job when
	// the caller's deadline expires instead of letting it run on.
	CancelAbandonedWaits bool
}

// task is one background run: cancellable and awaitable.
type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Orchestrator owns job submission and execution. Every submission becomes a
// registry record immediately; the run itself waits for one of the bounded
// execution slots, so burst submissions stay pending instead of failing or
// spawning unbounded browsers.
type Orchestrator struct {
	registry *registry.Registry
	runner   Runner
	logger   zerolog.Logger

	defaultHeadless bool
	cancelAbandoned bool
	waitPoll        time.Duration
	slots           chan struct{}

	baseCtx  context.Context
	baseStop context.CancelFunc

	mu     sync.Mutex
	tasks  map[string]*task
	closed bool
	wg     sync.WaitGroup
}

func New(reg *registry.Registry, runner Runner, logger zerolog.Logger, cfg Config) *Orchestrator {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	waitPoll := cfg.WaitPollInterval
	if waitPoll <= 0 {
		waitPoll = defaultWaitPoll
	}

	baseCtx, baseStop := context.WithCancel(context.Background())
	return &Orchestrator{
		registry:        reg,
		runner:          runner,
		logger:          logger,
		defaultHeadless: cfg.DefaultHeadless,
		cancelAbandoned: cfg.CancelAbandonedWaits,
		waitPoll:        waitPoll,
		slots:           make(chan struct{}, maxConcurrent),
		baseCtx:         baseCtx,
		baseStop:        baseStop,
		tasks:           make(map[string]*task),
	}
}

// Submit registers a new job and schedules its background run. It returns as
// soon as the record exists; the run starts whenever a slot frees up.
func (o *Orchestrator) Submit(prompt string, opts SubmitOptions) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", domain.ErrInvalidPrompt
	}

	headless := o.defaultHeadless
	if opts.Headless != nil {
		headless = *opts.Headless
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", ErrShuttingDown
	}
	job := o.registry.Create(prompt)
	runCtx, cancel := context.WithCancel(o.baseCtx)
	t := &task{cancel: cancel, done: make(chan struct{})}
	o.tasks[job.ID] = t
	o.wg.Add(1)
	o.mu.Unlock()

	o.logger.Info().Str("job_id", job.ID).Bool("headless", headless).Msg("orchestrator: job submitted")

	go o.execute(runCtx, t, job.ID, prompt, headless, opts.Credentials)
	return job.ID, nil
}

// Cancel stops the background task for a job if one is still in flight. The
// job then fails once the driver notices the dead context.
func (o *Orchestrator) Cancel(jobID string) bool {
	o.mu.Lock()
	t, ok := o.tasks[jobID]
	o.mu.Unlock()
	if ok {
		t.cancel()
	}
	return ok
}

// Shutdown refuses new submissions, cancels every in-flight task, and waits
// for them to finish (drivers still tear their environments down) or for ctx
// to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	o.baseStop()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) execute(ctx context.Context, t *task, jobID, prompt string, headless bool, bundle credentials.Bundle) {
	defer o.wg.Done()
	defer close(t.done)
	defer func() {
		o.mu.Lock()
		delete(o.tasks, jobID)
		o.mu.Unlock()
		t.cancel()
	}()
	defer func() {
		if r := recover(); r != nil {
			o.fail(jobID, domain.JobError{Stage: domain.StageEnvironment, Message: fmt.Sprintf("panic: %v", r)})
		}
	}()

	// The job stays pending until a slot frees.
	select {
	case o.slots <- struct{}{}:
	case <-ctx.Done():
		o.fail(jobID, domain.JobError{Stage: domain.StageEnvironment, Message: "orchestrator shut down before the job could start"})
		return
	}
	defer func() { <-o.slots }()

	// The select races a freed slot against cancellation; never start a
	// browser once the context is dead.
	if ctx.Err() != nil {
		o.fail(jobID, domain.JobError{Stage: domain.StageEnvironment, Message: "orchestrator shut down before the job could start"})
		return
	}

	if _, err := o.registry.Update(jobID, func(j *domain.Job) {
		j.Status = domain.JobStatusRunning
		j.Progress = "starting automation"
	}); err != nil {
		o.logger.Error().Err(err).Str("job_id", jobID).Msg("orchestrator: mark running")
		return
	}

	results, err := o.runner.Run(ctx, driver.RunRequest{
		JobID:    jobID,
		Prompt:   prompt,
		Headless: headless,
		Bundle:   bundle,
		Progress: func(msg string) {
			if _, uerr := o.registry.Update(jobID, func(j *domain.Job) { j.Progress = msg }); uerr != nil {
				o.logger.Debug().Err(uerr).Str("job_id", jobID).Msg("orchestrator: progress update dropped")
			}
		},
	})
	if err != nil {
		jobErr := domain.JobErrorFrom(err, domain.StageEnvironment)
		o.fail(jobID, jobErr)
		o.logger.Error().Err(err).Str("job_id", jobID).Str("stage", string(jobErr.Stage)).Msg("orchestrator: job failed")
		return
	}

	if _, err := o.registry.Update(jobID, func(j *domain.Job) {
		j.Status = domain.JobStatusCompleted
		j.Progress = "video generation complete"
		j.Results = results
		j.Error = nil
	}); err != nil {
		o.logger.Error().Err(err).Str("job_id", jobID).Msg("orchestrator: mark completed")
		return
	}
	o.logger.Info().Str("job_id", jobID).Int("videos", len(results)).Msg("orchestrator: job completed")
}

func (o *Orchestrator) fail(jobID string, jobErr domain.JobError) {
	if _, err := o.registry.Update(jobID, func(j *domain.Job) {
		j.Status = domain.JobStatusFailed
		j.Progress = "video generation failed"
		e := jobErr
		j.Error = &e
		j.Results = nil
	}); err != nil {
		o.logger.Error().Err(err).Str("job_id", jobID).Msg("orchestrator: mark failed")
	}
}
