package domain

import "time"

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status is final. Terminal jobs never change
// status again.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Stage identifies one phase of the automation pipeline. Failed jobs carry the
// stage that broke so callers can tell an expired session from a stuck render.
type Stage string

const (
	StageCredentials  Stage = "credentials"
	StageEnvironment  Stage = "environment"
	StageAuthenticate Stage = "authenticate"
	StageSubmit       Stage = "submit"
	StagePoll         Stage = "poll"
	StageHarvest      Stage = "harvest"
)

// JobError describes why a run failed.
type JobError struct {
	Stage   Stage
	Message string
}

// Job tracks one video generation run from submission to its terminal state.
// ID, Prompt, and CreatedAt are immutable after creation; everything else is
// mutated only through the registry.
type Job struct {
	ID        string
	Status    JobStatus
	Progress  string
	Prompt    string
	Results   []string
	Error     *JobError
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy that is safe to hand out after the registry lock
// is released.
func (j Job) Clone() Job {
	out := j
	if len(j.Results) > 0 {
		out.Results = make([]string, len(j.Results))
		copy(out.Results, j.Results)
	}
	if j.Error != nil {
		e := *j.Error
		out.Error = &e
	}
	return out
}
