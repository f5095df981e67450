package model

import "time"

// JobStatus captures the lifecycle of a job. Transitions are one-directional:
// queued -> running -> succeeded | failed. Terminal statuses never change.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
)

// Terminal reports whether a job with this status is done.
func (s JobStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// LogLimit caps the number of retained log lines per job. Oldest lines are
// evicted first once the cap is exceeded.
const LogLimit = 400

// Job tracks one worker-process invocation. The raw credential is never
// stored here, only its masked form.
type Job struct {
	ID          string         `json:"job_id"`
	Tool        string         `json:"tool"`
	Params      map[string]any `json:"args"`
	MaskedToken string         `json:"token_masked"`

	Status      JobStatus `json:"status"`
	Progress    int       `json:"progress"`
	Message     string    `json:"message"`
	Log         []string  `json:"log"`
	OutputFiles []string  `json:"outputs"`

	CreatedAt time.Time `json:"created_at"`
	StartedAt time.Time `json:"started_at,omitzero"`
	EndedAt   time.Time `json:"ended_at,omitzero"`

	// OutputDir is exclusively owned by this job for its entire lifetime.
	OutputDir string `json:"-"`
}

// NewJob returns a queued job. The output directory must already exist.
func NewJob(id, tool string, params map[string]any, maskedToken, outputDir string) *Job {
	return &Job{
		ID:          id,
		Tool:        tool,
		Params:      params,
		MaskedToken: maskedToken,
		Status:      StatusQueued,
		Message:     "Queued",
		CreatedAt:   time.Now().UTC(),
		OutputDir:   outputDir,
	}
}

// Clone returns a deep copy so readers never share mutable slices or maps
// with the registry.
func (j *Job) Clone() *Job {
	c := *j
	c.Log = append([]string(nil), j.Log...)
	c.OutputFiles = append([]string(nil), j.OutputFiles...)
	if j.Params != nil {
		c.Params = make(map[string]any, len(j.Params))
		for k, v := range j.Params {
			c.Params[k] = v
		}
	}
	return &c
}
