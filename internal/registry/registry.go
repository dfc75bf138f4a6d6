package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"flowgen/internal/domain"
)

// Registry is the in-memory system of record for jobs. It lives for the
// process lifetime; nothing is persisted across restarts.
type Registry struct {
	mu    sync.RWMutex
	jobs  map[string]*domain.Job
	order []string
}

func New() *Registry {
	return &Registry{jobs: make(map[string]*domain.Job)}
}

// Create registers a new pending job for the prompt and returns a snapshot.
func (r *Registry) Create(prompt string) domain.Job {
	now := time.Now().UTC()
	job := &domain.Job{
		ID:        uuid.NewString(),
		Status:    domain.JobStatusPending,
		Progress:  "waiting for an execution slot",
		Prompt:    prompt,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	r.order = append(r.order, job.ID)
	r.mu.Unlock()

	return job.Clone()
}

// Get returns a snapshot of the job or domain.ErrNotFound.
func (r *Registry) Get(id string) (domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	return job.Clone(), nil
}

// Update applies mutate to the job atomically and returns the new snapshot.
// ID, Prompt, and CreatedAt are immutable; status may only move forward, and
// terminal jobs reject any further status change with domain.ErrJobFinished.
// Mutations must be short and local: the registry lock is held while mutate
// runs.
func (r *Registry) Update(id string, mutate func(*domain.Job)) (domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}

	next := job.Clone()
	mutate(&next)
	next.ID = job.ID
	next.Prompt = job.Prompt
	next.CreatedAt = job.CreatedAt

	if next.Status != job.Status {
		if job.Status.Terminal() {
			return domain.Job{}, domain.ErrJobFinished
		}
		if statusRank(next.Status) < statusRank(job.Status) {
			return domain.Job{}, fmt.Errorf("registry: illegal transition %s -> %s", job.Status, next.Status)
		}
	}

	next.UpdatedAt = time.Now().UTC()
	*job = next
	return next.Clone(), nil
}

// List returns snapshots of every job in creation order.
func (r *Registry) List() []domain.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Job, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.jobs[id].Clone())
	}
	return out
}

// statusRank orders lifecycle states so updates can only move forward.
func statusRank(s domain.JobStatus) int {
	switch s {
	case domain.JobStatusPending:
		return 0
	case domain.JobStatusRunning:
		return 1
	default:
		return 2
	}
}
