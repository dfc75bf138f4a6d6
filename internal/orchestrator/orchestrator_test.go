package orchestrator_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"flowgen/internal/credentials"
	"flowgen/internal/domain"
	"flowgen/internal/driver"
	"flowgen/internal/orchestrator"
	"flowgen/internal/registry"
)

// fakeRunner scripts driver behavior. When block is set, Run waits for the
// channel to close or the context to die, which is how tests hold jobs
// in-flight.
type fakeRunner struct {
	mu    sync.Mutex
	calls []driver.RunRequest

	results []string
	err     error
	block   chan struct{}
	started chan string

	running int32
	maxSeen int32
}

func (f *fakeRunner) Run(ctx context.Context, req driver.RunRequest) ([]string, error) {
	cur := atomic.AddInt32(&f.running, 1)
	defer atomic.AddInt32(&f.running, -1)
	for {
		seen := atomic.LoadInt32(&f.maxSeen)
		if cur <= seen || atomic.CompareAndSwapInt32(&f.maxSeen, seen, cur) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- req.JobID
	}

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, domain.NewStageError(domain.StagePoll, ctx.Err())
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if req.Progress != nil {
		req.Progress("generating video: 50%")
	}
	return f.results, nil
}

func (f *fakeRunner) lastCall(t *testing.T) driver.RunRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatalf("runner never called")
	}
	return f.calls[len(f.calls)-1]
}

func newOrchestrator(runner orchestrator.Runner, cfg orchestrator.Config) (*orchestrator.Orchestrator, *registry.Registry) {
	reg := registry.New()
	if cfg.WaitPollInterval == 0 {
		cfg.WaitPollInterval = 5 * time.Millisecond
	}
	return orchestrator.New(reg, runner, zerolog.Nop(), cfg), reg
}

func waitForStatus(t *testing.T, reg *registry.Registry, id string, want domain.JobStatus) domain.Job {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		job, err := reg.Get(id)
		if err != nil {
			t.Fatalf("Get(%s) error = %v", id, err)
		}
		if job.Status == want {
			return job
		}
		select {
		case <-deadline:
			t.Fatalf("job %s stuck at %s, want %s", id, job.Status, want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSubmitRejectsBlankPrompt(t *testing.T) {
	o, _ := newOrchestrator(&fakeRunner{}, orchestrator.Config{})
	defer shutdown(t, o)

	for _, prompt := range []string{"", "   ", "\n\t"} {
		if _, err := o.Submit(prompt, orchestrator.SubmitOptions{}); !errors.Is(err, domain.ErrInvalidPrompt) {
			t.Fatalf("Submit(%q) error = %v, want ErrInvalidPrompt", prompt, err)
		}
	}
}

func TestSubmitRunsJobToCompletion(t *testing.T) {
	runner := &fakeRunner{results: []string{"video-01.mp4"}}
	o, reg := newOrchestrator(runner, orchestrator.Config{DefaultHeadless: true})
	defer shutdown(t, o)

	id, err := o.Submit("  a whale made of clouds  ", orchestrator.SubmitOptions{})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	job := waitForStatus(t, reg, id, domain.JobStatusCompleted)
	if len(job.Results) != 1 || job.Results[0] != "video-01.mp4" {
		t.Fatalf("Results = %v", job.Results)
	}
	if job.Error != nil {
		t.Fatalf("completed job carries error: %+v", job.Error)
	}
	if job.Progress != "video generation complete" {
		t.Fatalf("progress = %q", job.Progress)
	}

	req := runner.lastCall(t)
	if req.Prompt != "a whale made of clouds" {
		t.Fatalf("prompt = %q, want trimmed", req.Prompt)
	}
	if !req.Headless {
		t.Fatalf("headless = false, want configured default")
	}
	if req.JobID != id {
		t.Fatalf("job id mismatch: %s vs %s", req.JobID, id)
	}
}

func TestSubmitHeadlessOverride(t *testing.T) {
	runner := &fakeRunner{}
	o, reg := newOrchestrator(runner, orchestrator.Config{DefaultHeadless: true})
	defer shutdown(t, o)

	headed := false
	id, err := o.Submit("p", orchestrator.SubmitOptions{Headless: &headed})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitForStatus(t, reg, id, domain.JobStatusCompleted)

	if req := runner.lastCall(t); req.Headless {
		t.Fatalf("headless = true, want request override")
	}
}

func TestSubmitPassesCredentialOverride(t *testing.T) {
	runner := &fakeRunner{}
	o, reg := newOrchestrator(runner, orchestrator.Config{})
	defer shutdown(t, o)

	bundle := credentials.Bundle{{Name: "SID", Value: "x", Domain: "d"}}
	id, err := o.Submit("p", orchestrator.SubmitOptions{Credentials: bundle})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitForStatus(t, reg, id, domain.JobStatusCompleted)

	req := runner.lastCall(t)
	if len(req.Bundle) != 1 || req.Bundle[0].Name != "SID" {
		t.Fatalf("bundle = %+v, want override", req.Bundle)
	}
}

func TestBoundedConcurrency(t *testing.T) {
	runner := &fakeRunner{
		block:   make(chan struct{}),
		started: make(chan string, 8),
		results: []string{"video-01.mp4"},
	}
	o, reg := newOrchestrator(runner, orchestrator.Config{MaxConcurrent: 2})
	defer shutdown(t, o)

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := o.Submit("prompt", orchestrator.SubmitOptions{})
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		ids = append(ids, id)
	}

	// Exactly two runs may start; the rest hold in pending.
	for i := 0; i < 2; i++ {
		select {
		case <-runner.started:
		case <-time.After(2 * time.Second):
			t.Fatalf("run %d never started", i)
		}
	}

	running, pending := 0, 0
	for _, id := range ids {
		job, err := reg.Get(id)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		switch job.Status {
		case domain.JobStatusRunning:
			running++
		case domain.JobStatusPending:
			pending++
			if job.Progress != "waiting for an execution slot" {
				t.Fatalf("pending progress = %q", job.Progress)
			}
		default:
			t.Fatalf("job %s in unexpected state %s", id, job.Status)
		}
	}
	if running != 2 || pending != 3 {
		t.Fatalf("running = %d, pending = %d; want 2 and 3", running, pending)
	}

	close(runner.block)
	for _, id := range ids {
		waitForStatus(t, reg, id, domain.JobStatusCompleted)
	}
	if got := atomic.LoadInt32(&runner.maxSeen); got != 2 {
		t.Fatalf("max concurrent runs = %d, want 2", got)
	}
}

func TestRunnerFailureMarksJobFailed(t *testing.T) {
	runner := &fakeRunner{
		err: domain.NewStageError(domain.StageAuthenticate, errors.New("no signed-in account detected")),
	}
	o, reg := newOrchestrator(runner, orchestrator.Config{})
	defer shutdown(t, o)

	id, err := o.Submit("p", orchestrator.SubmitOptions{})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	job := waitForStatus(t, reg, id, domain.JobStatusFailed)
	if job.Error == nil {
		t.Fatalf("failed job carries no error")
	}
	if job.Error.Stage != domain.StageAuthenticate {
		t.Fatalf("stage = %s, want authenticate", job.Error.Stage)
	}
	if job.Error.Message != "no signed-in account detected" {
		t.Fatalf("message = %q", job.Error.Message)
	}
	if job.Results != nil {
		t.Fatalf("failed job carries results: %v", job.Results)
	}
}

func TestPlainRunnerErrorAttributedToEnvironment(t *testing.T) {
	runner := &fakeRunner{err: errors.New("exploded")}
	o, reg := newOrchestrator(runner, orchestrator.Config{})
	defer shutdown(t, o)

	id, err := o.Submit("p", orchestrator.SubmitOptions{})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	job := waitForStatus(t, reg, id, domain.JobStatusFailed)
	if job.Error.Stage != domain.StageEnvironment {
		t.Fatalf("stage = %s, want environment fallback", job.Error.Stage)
	}
}

type panickyRunner struct{}

func (panickyRunner) Run(ctx context.Context, req driver.RunRequest) ([]string, error) {
	panic("runner blew up")
}

func TestRunnerPanicMarksJobFailed(t *testing.T) {
	o, reg := newOrchestrator(panickyRunner{}, orchestrator.Config{})
	defer shutdown(t, o)

	id, err := o.Submit("p", orchestrator.SubmitOptions{})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	job := waitForStatus(t, reg, id, domain.JobStatusFailed)
	if job.Error == nil || job.Error.Stage != domain.StageEnvironment {
		t.Fatalf("error = %+v, want environment stage", job.Error)
	}
}

func TestCancelStopsInFlightJob(t *testing.T) {
	runner := &fakeRunner{
		block:   make(chan struct{}),
		started: make(chan string, 1),
	}
	o, reg := newOrchestrator(runner, orchestrator.Config{})
	defer shutdown(t, o)

	id, err := o.Submit("p", orchestrator.SubmitOptions{})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	<-runner.started

	if !o.Cancel(id) {
		t.Fatalf("Cancel() = false for in-flight job")
	}
	job := waitForStatus(t, reg, id, domain.JobStatusFailed)
	if job.Error == nil || job.Error.Stage != domain.StagePoll {
		t.Fatalf("error = %+v, want poll stage from canceled run", job.Error)
	}

	if o.Cancel("no-such-job") {
		t.Fatalf("Cancel() = true for unknown job")
	}
}

func TestShutdownRefusesNewWorkAndDrains(t *testing.T) {
	runner := &fakeRunner{
		block:   make(chan struct{}),
		started: make(chan string, 1),
	}
	o, reg := newOrchestrator(runner, orchestrator.Config{MaxConcurrent: 1})

	inFlight, err := o.Submit("running job", orchestrator.SubmitOptions{})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	<-runner.started

	queued, err := o.Submit("queued job", orchestrator.SubmitOptions{})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := o.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	if _, err := o.Submit("late", orchestrator.SubmitOptions{}); !errors.Is(err, orchestrator.ErrShuttingDown) {
		t.Fatalf("Submit() after shutdown error = %v, want ErrShuttingDown", err)
	}

	running, err := reg.Get(inFlight)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if running.Status != domain.JobStatusFailed {
		t.Fatalf("in-flight job status = %s, want failed after forced shutdown", running.Status)
	}

	waiting, err := reg.Get(queued)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if waiting.Status != domain.JobStatusFailed {
		t.Fatalf("queued job status = %s, want failed", waiting.Status)
	}
	if waiting.Error == nil || waiting.Error.Message != "orchestrator shut down before the job could start" {
		t.Fatalf("queued job error = %+v", waiting.Error)
	}
}

func TestShutdownTimesOutOnStuckRunner(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	runner := &stubbornRunner{block: block, started: make(chan struct{}, 1)}
	o, _ := newOrchestrator(runner, orchestrator.Config{})

	if _, err := o.Submit("p", orchestrator.SubmitOptions{}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	<-runner.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := o.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown() error = %v, want deadline exceeded", err)
	}
}

// stubbornRunner ignores its context entirely.
type stubbornRunner struct {
	block   chan struct{}
	started chan struct{}
}

func (r *stubbornRunner) Run(ctx context.Context, req driver.RunRequest) ([]string, error) {
	r.started <- struct{}{}
	<-r.block
	return nil, errors.New("finally done")
}

func TestRunAndWaitReturnsTerminalJob(t *testing.T) {
	runner := &fakeRunner{results: []string{"video-01.mp4"}}
	o, _ := newOrchestrator(runner, orchestrator.Config{})
	defer shutdown(t, o)

	job, err := o.RunAndWait(context.Background(), "p", orchestrator.SubmitOptions{}, 2*time.Second)
	if err != nil {
		t.Fatalf("RunAndWait() error = %v", err)
	}
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
	if len(job.Results) != 1 {
		t.Fatalf("results = %v", job.Results)
	}
}

func TestRunAndWaitFailedJobIsNotAnError(t *testing.T) {
	runner := &fakeRunner{
		err: domain.NewStageError(domain.StageSubmit, errors.New("button not found")),
	}
	o, _ := newOrchestrator(runner, orchestrator.Config{})
	defer shutdown(t, o)

	job, err := o.RunAndWait(context.Background(), "p", orchestrator.SubmitOptions{}, 2*time.Second)
	if err != nil {
		t.Fatalf("RunAndWait() error = %v, failed runs are terminal snapshots", err)
	}
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if job.Error == nil || job.Error.Stage != domain.StageSubmit {
		t.Fatalf("error = %+v", job.Error)
	}
}

func TestRunAndWaitDeadlineLeavesJobRunning(t *testing.T) {
	runner := &fakeRunner{
		block:   make(chan struct{}),
		started: make(chan string, 1),
		results: []string{"video-01.mp4"},
	}
	o, reg := newOrchestrator(runner, orchestrator.Config{})
	defer shutdown(t, o)

	job, err := o.RunAndWait(context.Background(), "p", orchestrator.SubmitOptions{}, 50*time.Millisecond)
	if !errors.Is(err, domain.ErrDeadlineExceeded) {
		t.Fatalf("RunAndWait() error = %v, want ErrDeadlineExceeded", err)
	}
	if job.Status.Terminal() {
		t.Fatalf("status = %s, want job still in flight", job.Status)
	}

	// The abandoned job keeps running and finishes on its own.
	close(runner.block)
	waitForStatus(t, reg, job.ID, domain.JobStatusCompleted)
}

func TestRunAndWaitCancelsAbandonedJobWhenConfigured(t *testing.T) {
	runner := &fakeRunner{
		block:   make(chan struct{}),
		started: make(chan string, 1),
	}
	defer close(runner.block)
	o, reg := newOrchestrator(runner, orchestrator.Config{CancelAbandonedWaits: true})
	defer shutdown(t, o)

	job, err := o.RunAndWait(context.Background(), "p", orchestrator.SubmitOptions{}, 50*time.Millisecond)
	if !errors.Is(err, domain.ErrDeadlineExceeded) {
		t.Fatalf("RunAndWait() error = %v, want ErrDeadlineExceeded", err)
	}

	failed := waitForStatus(t, reg, job.ID, domain.JobStatusFailed)
	if failed.Error == nil || failed.Error.Stage != domain.StagePoll {
		t.Fatalf("error = %+v, want poll stage from canceled run", failed.Error)
	}
}

func TestRunAndWaitCallerCancellation(t *testing.T) {
	runner := &fakeRunner{
		block:   make(chan struct{}),
		started: make(chan string, 1),
	}
	o, reg := newOrchestrator(runner, orchestrator.Config{})
	defer shutdown(t, o)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-runner.started
		cancel()
	}()

	job, err := o.RunAndWait(ctx, "p", orchestrator.SubmitOptions{}, 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RunAndWait() error = %v, want context.Canceled", err)
	}
	if job.ID == "" {
		t.Fatalf("RunAndWait() returned no snapshot")
	}

	close(runner.block)
	waitForStatus(t, reg, job.ID, domain.JobStatusCompleted)
}

func TestRunAndWaitInvalidPrompt(t *testing.T) {
	o, _ := newOrchestrator(&fakeRunner{}, orchestrator.Config{})
	defer shutdown(t, o)

	if _, err := o.RunAndWait(context.Background(), "  ", orchestrator.SubmitOptions{}, time.Second); !errors.Is(err, domain.ErrInvalidPrompt) {
		t.Fatalf("RunAndWait() error = %v, want ErrInvalidPrompt", err)
	}
}

func shutdown(t *testing.T, o *orchestrator.Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}
