package insight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Status is the lifecycle of one study/directive insight.
type Status string

// Insight states.
const (
	StatusIdle    Status = "idle"
	StatusPending Status = "pending"
	StatusReady   Status = "ready"
	StatusFailed  Status = "failed"
)

// State is the latest known result for a study/directive pair.
type State struct {
	Directive  Directive   `json:"directive"`
	Status     Status      `json:"status"`
	Suggestion *Suggestion `json:"suggestion,omitempty"`
	Err        string      `json:"error,omitempty"`
	UpdatedAt  time.Time   `json:"updated_at,omitempty"`
}

// ErrDisabled is returned when no backend is configured.
var ErrDisabled = errors.New("insight backend not configured")

// RunnerOptions bound backend usage.
type RunnerOptions struct {
	MaxConcurrent int64
	RatePerSecond float64
	Burst         int
	Timeout       time.Duration
	Logger        *slog.Logger
}

// Runner executes insight requests off the caller's goroutine and keeps the
// latest State per study and directive. It never touches stored study data.
type Runner struct {
	completer Completer
	sem       *semaphore.Weighted
	limiter   *rate.Limiter
	timeout   time.Duration
	logger    *slog.Logger

	mu     sync.Mutex
	states map[stateKey]State
	runs   map[stateKey]uint64
	seq    uint64
	wg     sync.WaitGroup
}

type stateKey struct {
	studyID   string
	directive Directive
}

// NewRunner returns a runner over completer. A nil completer yields a runner
// whose requests fail with ErrDisabled.
func NewRunner(completer Completer, opts RunnerOptions) *Runner {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 2
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		completer: completer,
		sem:       semaphore.NewWeighted(opts.MaxConcurrent),
		limiter:   rate.NewLimiter(limit, opts.Burst),
		timeout:   opts.Timeout,
		logger:    opts.Logger,
		states:    make(map[stateKey]State),
		runs:      make(map[stateKey]uint64),
	}
}

// Enabled reports whether a backend is configured.
func (r *Runner) Enabled() bool { return r.completer != nil }

// Generate runs one directive synchronously.
func (r *Runner) Generate(ctx context.Context, d Directive, snap Snapshot) (Suggestion, error) {
	if r.completer == nil {
		return Suggestion{}, ErrDisabled
	}
	req, err := BuildRequest(d, snap)
	if err != nil {
		return Suggestion{}, err
	}
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return Suggestion{}, err
	}
	defer r.sem.Release(1)
	if err := r.limiter.Wait(ctx); err != nil {
		return Suggestion{}, fmt.Errorf("insight rate limit: %w", err)
	}
	reply, err := r.completer.Complete(ctx, req)
	if err != nil {
		return Suggestion{}, err
	}
	return Parse(d, reply), nil
}

// Start schedules a directive for a study and returns the pending state. A
// request already pending for the same pair is not duplicated.
func (r *Runner) Start(ctx context.Context, d Directive, snap Snapshot) (State, error) {
	if !d.Valid() {
		return State{}, fmt.Errorf("unknown insight directive %q", d)
	}
	if r.completer == nil {
		return State{}, ErrDisabled
	}
	key := stateKey{studyID: snap.StudyID, directive: d}
	r.mu.Lock()
	if st, ok := r.states[key]; ok && st.Status == StatusPending {
		r.mu.Unlock()
		return st, nil
	}
	pending := State{Directive: d, Status: StatusPending, UpdatedAt: time.Now().UTC()}
	r.states[key] = pending
	r.seq++
	run := r.seq
	r.runs[key] = run
	r.wg.Add(1)
	r.mu.Unlock()

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	go func() {
		defer r.wg.Done()
		defer cancel()
		suggestion, err := r.Generate(runCtx, d, snap)
		next := State{Directive: d, UpdatedAt: time.Now().UTC()}
		if err != nil {
			next.Status = StatusFailed
			next.Err = err.Error()
			r.logger.Warn("insight failed", "study_id", snap.StudyID, "directive", d, "error", err)
		} else {
			next.Status = StatusReady
			next.Suggestion = &suggestion
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		// A forgotten or restarted key no longer belongs to this run.
		if r.runs[key] != run {
			return
		}
		delete(r.runs, key)
		r.states[key] = next
	}()
	return pending, nil
}

// State returns the latest state for a study/directive pair, idle if none.
func (r *Runner) State(studyID string, d Directive) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.states[stateKey{studyID: studyID, directive: d}]; ok {
		return st
	}
	return State{Directive: d, Status: StatusIdle}
}

// States returns every directive's state for a study in Directives order.
func (r *Runner) States(studyID string) []State {
	out := make([]State, 0, len(prompts))
	for _, d := range Directives() {
		out = append(out, r.State(studyID, d))
	}
	return out
}

// Forget drops all states of a study.
func (r *Runner) Forget(studyID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.states {
		if key.studyID == studyID {
			delete(r.states, key)
			delete(r.runs, key)
		}
	}
}

// Wait blocks until every started request has finished.
func (r *Runner) Wait() { r.wg.Wait() }
