// Package download owns model download jobs: the tracker is the in-memory
// job table clients poll for progress, the orchestrator streams files from
// the hub to disk and drives the tracker.
package download

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is the lifecycle state of one download job.
type State string

const (
	StateQueued      State = "queued"
	StateDownloading State = "downloading"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
	StateCancelled   State = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// ProgressUnknown is reported while the total size is not known; the byte
// counters still advance.
const ProgressUnknown = -1

// Job is a point-in-time copy of one download job.
type Job struct {
	Name      string
	State     State
	BytesDone int64
	// BytesTotal is -1 until the remote size is known.
	BytesTotal int64
	// Message is always set when State is failed.
	Message    string
	StartedAt  time.Time
	FinishedAt time.Time

	// floor keeps the reported percentage monotonic across file restarts.
	floor int
}

// Progress returns the percent complete, or ProgressUnknown.
func (j Job) Progress() int {
	if j.State == StateCompleted {
		return 100
	}
	if j.BytesTotal <= 0 {
		if j.floor > 0 {
			return j.floor
		}
		return ProgressUnknown
	}
	pct := int(j.BytesDone * 100 / j.BytesTotal)
	if pct > 100 {
		pct = 100
	}
	if pct < j.floor {
		pct = j.floor
	}
	return pct
}

var (
	// ErrAlreadyInProgress is returned by Start when a non-terminal job for
	// the same model exists. Callers translate it into "poll for progress",
	// not a hard failure.
	ErrAlreadyInProgress = errors.New("download already in progress")
	// ErrNoJob is returned by Poll when no job (terminal or otherwise) is
	// retained for the model.
	ErrNoJob = errors.New("no download job for model")
)

// IsAlreadyInProgress reports whether err is the Start exclusion error.
func IsAlreadyInProgress(err error) bool { return errors.Is(err, ErrAlreadyInProgress) }

// Tracker is the job table. At most one non-terminal job exists per model
// name; Start is the atomic check-and-insert that enforces it. Terminal jobs
// stay pollable for the retention window, then are swept.
type Tracker struct {
	mu        sync.Mutex
	jobs      map[string]*Job
	retention time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// NewTracker builds a Tracker with the given terminal-job retention.
func NewTracker(retention time.Duration, log zerolog.Logger) *Tracker {
	return &Tracker{
		jobs:      make(map[string]*Job),
		retention: retention,
		now:       time.Now,
		log:       log,
	}
}

// Start atomically creates a queued job for name. Exactly one of N
// concurrent callers wins; the rest get ErrAlreadyInProgress. A retained
// terminal job is replaced.
func (t *Tracker) Start(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked()
	if j, ok := t.jobs[name]; ok && !j.State.Terminal() {
		return ErrAlreadyInProgress
	}
	t.jobs[name] = &Job{
		Name:       name,
		State:      StateQueued,
		BytesTotal: -1,
		StartedAt:  t.now(),
	}
	return nil
}

// Update records transfer progress and moves a queued job to downloading.
// done never regresses the reported percentage: restarts (a server that
// ignored a Range request) keep the previous percent as a floor.
func (t *Tracker) Update(name string, done, total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[name]
	if !ok || j.State.Terminal() {
		return
	}
	prev := j.Progress()
	j.State = StateDownloading
	j.BytesDone = done
	j.BytesTotal = total
	if prev > j.floor {
		j.floor = prev
	}
}

// Complete marks the job completed. Only call after the catalog commit.
func (t *Tracker) Complete(name string) {
	t.finish(name, StateCompleted, "")
}

// Fail marks the job failed with a required detail message.
func (t *Tracker) Fail(name, message string) {
	if message == "" {
		message = "download failed"
	}
	t.finish(name, StateFailed, message)
}

// Cancel marks the job cancelled.
func (t *Tracker) Cancel(name string) {
	t.finish(name, StateCancelled, "cancelled")
}

func (t *Tracker) finish(name string, state State, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[name]
	if !ok || j.State.Terminal() {
		return
	}
	j.State = state
	j.Message = message
	j.FinishedAt = t.now()
	if state == StateCompleted && j.BytesTotal > 0 {
		j.BytesDone = j.BytesTotal
	}
}

// Poll returns a copy of the job for name, or ErrNoJob.
func (t *Tracker) Poll(name string) (Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked()
	j, ok := t.jobs[name]
	if !ok {
		return Job{}, ErrNoJob
	}
	return *j, nil
}

// Active reports whether a non-terminal job exists for name.
func (t *Tracker) Active(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[name]
	return ok && !j.State.Terminal()
}

// Jobs returns a copy of every retained job.
func (t *Tracker) Jobs() []Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked()
	out := make([]Job, 0, len(t.jobs))
	for _, j := range t.jobs {
		out = append(out, *j)
	}
	return out
}

// Run sweeps expired terminal jobs until ctx is done.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			t.sweepLocked()
			t.mu.Unlock()
		}
	}
}

func (t *Tracker) sweepLocked() {
	cutoff := t.now().Add(-t.retention)
	for name, j := range t.jobs {
		if j.State.Terminal() && j.FinishedAt.Before(cutoff) {
			delete(t.jobs, name)
			t.log.Debug().Str("model", name).Str("state", string(j.State)).Msg("swept terminal download job")
		}
	}
}
