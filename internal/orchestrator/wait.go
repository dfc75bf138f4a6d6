package orchestrator

import (
	"context"
	"time"

	"flowgen/internal/domain"
)

// RunAndWait submits the prompt and blocks until the job reaches a terminal
// status or the deadline elapses, whichever comes first. On deadline (or
// caller cancellation) the latest snapshot is returned together with
// domain.ErrDeadlineExceeded (or the context error); the underlying job keeps
// running and stays queryable unless the orchestrator is configured to cancel
// abandoned waits. A failed job is a normal terminal snapshot, not an error.
func (o *Orchestrator) RunAndWait(ctx context.Context, prompt string, opts SubmitOptions, deadline time.Duration) (domain.Job, error) {
	id, err := o.Submit(prompt, opts)
	if err != nil {
		return domain.Job{}, err
	}

	timer := time.NewTimer(deadline)
	defer timer.Stop()
	ticker := time.NewTicker(o.waitPoll)
	defer ticker.Stop()

	for {
		job, err := o.registry.Get(id)
		if err != nil {
			return domain.Job{}, err
		}
		if job.Status.Terminal() {
			return job, nil
		}

		select {
		case <-ctx.Done():
			o.abandon(id)
			return o.latest(id, job), ctx.Err()
		case <-timer.C:
			// Re-read once: the job may have finished right at the wire.
			if cur, cerr := o.registry.Get(id); cerr == nil {
				if cur.Status.Terminal() {
					return cur, nil
				}
				job = cur
			}
			o.abandon(id)
			return job, domain.ErrDeadlineExceeded
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) abandon(id string) {
	if o.cancelAbandoned {
		o.Cancel(id)
	}
}

func (o *Orchestrator) latest(id string, fallback domain.Job) domain.Job {
	if cur, err := o.registry.Get(id); err == nil {
		return cur
	}
	return fallback
}
