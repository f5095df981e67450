// Package registry holds the authoritative in-memory state of every job ever
// submitted to this process. It is initialized empty on start and never
// persisted; the audit log is the durable record.
//
// The store is guarded by a single coarse lock. Readers get deep-copied
// snapshots, so a status query never observes a half-applied mutation and
// never shares slices with a running supervisor. Mutating methods are meant
// to be called only by the supervisor owning the job.
package registry

import (
	"sync"
	"time"

	"github.com/gitmine/gitmine/internal/model"
)

type Registry struct {
	mx   sync.RWMutex
	jobs map[string]*model.Job
}

func New() *Registry {
	return &Registry{
		jobs: make(map[string]*model.Job),
	}
}

// Create installs a new job keyed by its id. Ids are generated from random
// tokens, so a collision means a caller bug rather than bad luck.
func (r *Registry) Create(job *model.Job) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if _, ok := r.jobs[job.ID]; ok {
		return model.ErrJobExists
	}
	r.jobs[job.ID] = job
	return nil
}

// Snapshot returns a deep copy of the job's current state.
func (r *Registry) Snapshot(id string) (*model.Job, error) {
	r.mx.RLock()
	defer r.mx.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, model.ErrJobNotFound
	}
	return job.Clone(), nil
}

// SetRunning transitions a queued job to running and stamps StartedAt. The
// initial progress of 1 makes a freshly started job distinguishable from a
// queued one in progress bars.
func (r *Registry) SetRunning(id, message string) {
	r.mx.Lock()
	defer r.mx.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status.Terminal() {
		return
	}
	job.Status = model.StatusRunning
	job.StartedAt = time.Now().UTC()
	job.Message = message
	job.Progress = 1
}

// SetProgress updates progress and message from a protocol line. The value
// is clamped to [0,100]; a negative pct or an empty message keeps the
// previous value.
func (r *Registry) SetProgress(id string, pct int, msg string) {
	r.mx.Lock()
	defer r.mx.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status.Terminal() {
		return
	}
	if pct >= 0 {
		job.Progress = min(100, pct)
	}
	if msg != "" {
		job.Message = msg
	}
}

// AppendLog records one worker output line, evicting the oldest lines once
// the cap is exceeded.
func (r *Registry) AppendLog(id, line string) {
	r.mx.Lock()
	defer r.mx.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return
	}
	job.Log = append(job.Log, line)
	if len(job.Log) > model.LogLimit {
		job.Log = job.Log[len(job.Log)-model.LogLimit:]
	}
}

// AddOutputFile records a deliverable declared by the worker.
func (r *Registry) AddOutputFile(id, name string) {
	r.mx.Lock()
	defer r.mx.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status.Terminal() {
		return
	}
	job.OutputFiles = append(job.OutputFiles, name)
}

// Finish moves the job to a terminal status and stamps EndedAt. Successful
// jobs always end at 100%. Calling Finish on an already terminal job is a
// no-op, keeping transitions monotonic.
func (r *Registry) Finish(id string, status model.JobStatus, message string) {
	r.mx.Lock()
	defer r.mx.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status.Terminal() {
		return
	}
	job.Status = status
	job.Message = message
	job.EndedAt = time.Now().UTC()
	if status == model.StatusSucceeded {
		job.Progress = 100
	}
}
