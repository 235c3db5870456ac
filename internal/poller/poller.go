// Package poller owns the lifecycle of submitted conversion jobs: it submits,
// polls status at a bounded cadence, retries transient failures with capped
// exponential backoff, and emits typed state-change events to subscribers.
//
// One goroutine owns each session. At most one status request is in flight
// per job at any instant; the next poll is scheduled only after the previous
// one resolves. Cancellation is cooperative: a cancelled session discards any
// in-flight response instead of applying it, so no event is ever delivered
// after Cancel returns.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nmalhotra/docwatch/internal/docling"
	"github.com/nmalhotra/docwatch/pkg/models"
)

// State is the lifecycle phase of a session.
type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StateActive     State = "active"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// User-facing failure messages. Raw transport error text never reaches
// subscribers; it is carried separately in Event.Err.
const (
	msgSubmissionFailed  = "submission failed"
	msgStatusUnavailable = "status unavailable"
	msgJobLost           = "job no longer exists"
)

// Policy holds the tunable cadence and retry parameters. These are policy
// knobs, not protocol constants; tests and callers override them freely.
type Policy struct {
	// Interval is the fixed poll cadence while the job is pending or
	// processing.
	Interval time.Duration
	// BackoffBase is the first retry delay after a transient failure;
	// consecutive failures double it up to BackoffMax.
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// FailureLimit is the number of consecutive transient failures after
	// which the session gives up and fails.
	FailureLimit int
}

// DefaultPolicy returns the defaults used by the CLI.
func DefaultPolicy() Policy {
	return Policy{
		Interval:     3 * time.Second,
		BackoffBase:  time.Second,
		BackoffMax:   30 * time.Second,
		FailureLimit: 4,
	}
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.Interval <= 0 {
		p.Interval = def.Interval
	}
	if p.BackoffBase <= 0 {
		p.BackoffBase = def.BackoffBase
	}
	if p.BackoffMax <= 0 {
		p.BackoffMax = def.BackoffMax
	}
	if p.FailureLimit <= 0 {
		p.FailureLimit = def.FailureLimit
	}
	return p
}

// backoff returns the delay before retry number attempt (1-based),
// doubling from BackoffBase and capped at BackoffMax.
func (p Policy) backoff(attempt int) time.Duration {
	d := p.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.BackoffMax {
			return p.BackoffMax
		}
	}
	if d > p.BackoffMax {
		return p.BackoffMax
	}
	return d
}

// Event is one state-change notification. Snapshot carries the authoritative
// status string and an optional display message; Err holds the underlying
// cause on failure, for logging only.
type Event struct {
	State    State
	Snapshot models.StatusSnapshot
	Err      error
}

// eventBuffer bounds the session's event channel. A subscriber that stops
// draining forfeits delivery of the overflow.
const eventBuffer = 64

// Session is the live polling context for exactly one job, from submission
// (or adoption of a known job id) to a terminal or cancelled state.
type Session struct {
	client  docling.Client
	policy  Policy
	onJobID func(jobID string, s *Session)

	mu        sync.Mutex
	state     State
	snapshot  models.StatusSnapshot
	cancelled bool

	// ctx and stop are set at construction and never mutated, so Cancel and
	// run may use them without holding mu.
	ctx  context.Context
	stop context.CancelFunc

	events chan Event
	done   chan struct{}
}

func newSession(ctx context.Context, client docling.Client, policy Policy, onJobID func(string, *Session)) *Session {
	runCtx, cancel := context.WithCancel(ctx)
	return &Session{
		client:  client,
		policy:  policy.withDefaults(),
		onJobID: onJobID,
		state:   StateIdle,
		ctx:     runCtx,
		stop:    cancel,
		events:  make(chan Event, eventBuffer),
		done:    make(chan struct{}),
	}
}

// Events returns the session's event stream. The channel is closed when the
// session reaches a terminal state or is cancelled.
func (s *Session) Events() <-chan Event { return s.events }

// Done is closed when the session's goroutine has finished.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the most recently applied status snapshot.
func (s *Session) Snapshot() models.StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// JobID returns the job id, or "" before submission succeeds.
func (s *Session) JobID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot.JobID
}

// Cancel stops the session. Idempotent. After Cancel returns, no further
// events are emitted, even if an in-flight poll resolves afterwards.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	if s.state != StateCompleted && s.state != StateFailed {
		s.state = StateCancelled
	}
	s.mu.Unlock()

	s.stop()
}

func (s *Session) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// emit delivers one event unless the session has been cancelled. The
// cancelled check and the send happen under the same lock, so Cancel
// returning guarantees silence.
func (s *Session) emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return
	}
	select {
	case s.events <- ev:
	default:
		slog.Debug("dropping poll event, subscriber not draining",
			"job_id", ev.Snapshot.JobID, "state", ev.State)
	}
}

// run drives the session. Exactly one of path (submit mode) or jobID
// (track mode) is set.
func (s *Session) run(path, jobID string) {
	defer close(s.done)
	defer close(s.events)
	defer s.stop()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in poll session", "error", r, "job_id", jobID)
			s.fail(jobID, msgStatusUnavailable, fmt.Errorf("panic: %v", r))
		}
	}()

	if path != "" {
		s.setState(StateSubmitting)
		s.emit(Event{State: StateSubmitting})

		receipt, err := s.client.Submit(s.ctx, path)
		if s.isCancelled() {
			return
		}
		if err != nil {
			// No job id was ever assigned; synthesize the terminal snapshot.
			s.fail("", msgSubmissionFailed, err)
			return
		}
		jobID = receipt.JobID
		if s.onJobID != nil {
			s.onJobID(jobID, s)
		}
		s.apply(models.StatusSnapshot{JobID: jobID, Status: models.StatusPending})
	}

	attempt := 0
	first := true
	for {
		var wait time.Duration
		switch {
		case first:
			first = false
		case attempt > 0:
			wait = s.policy.backoff(attempt)
		default:
			wait = s.policy.Interval
		}

		select {
		case <-s.ctx.Done():
			return
		case <-time.After(wait):
		}

		snap, err := s.client.Status(s.ctx, jobID)
		if s.isCancelled() {
			// Stale completion: discard rather than mutate session state.
			return
		}
		if err != nil {
			if errors.Is(err, docling.ErrJobNotFound) {
				s.fail(jobID, msgJobLost, err)
				return
			}
			attempt++
			slog.Warn("status poll failed", "job_id", jobID, "attempt", attempt, "error", err)
			if attempt >= s.policy.FailureLimit {
				s.fail(jobID, msgStatusUnavailable, err)
				return
			}
			continue
		}
		attempt = 0

		s.apply(*snap)
		if models.IsTerminal(snap.Status) {
			return
		}
	}
}

// apply folds one snapshot into the session and emits an event if anything
// changed. Progress never decreases: a lower progress at the same status is
// stale and dropped; a lower progress on a status change is clamped up.
func (s *Session) apply(snap models.StatusSnapshot) {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}

	prev := s.snapshot
	if snap.Progress < prev.Progress {
		if snap.Status == prev.Status {
			s.mu.Unlock()
			return
		}
		snap.Progress = prev.Progress
	}
	if snap.Status == prev.Status && snap.Progress == prev.Progress && snap.Message == prev.Message {
		s.mu.Unlock()
		return
	}

	s.snapshot = snap
	switch snap.Status {
	case models.StatusCompleted:
		s.state = StateCompleted
	case models.StatusFailed:
		s.state = StateFailed
	default:
		s.state = StateActive
	}
	state := s.state

	select {
	case s.events <- Event{State: state, Snapshot: snap}:
	default:
		slog.Debug("dropping poll event, subscriber not draining",
			"job_id", snap.JobID, "state", state)
	}
	s.mu.Unlock()
}

// fail moves the session to Failed with a user-facing message and the
// underlying cause.
func (s *Session) fail(jobID, message string, cause error) {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	snap := models.StatusSnapshot{
		JobID:    jobID,
		Status:   models.StatusFailed,
		Progress: s.snapshot.Progress,
		Error:    message,
	}
	s.snapshot = snap
	s.state = StateFailed

	select {
	case s.events <- Event{State: StateFailed, Snapshot: snap, Err: cause}:
	default:
		slog.Debug("dropping poll event, subscriber not draining",
			"job_id", jobID, "state", StateFailed)
	}
	s.mu.Unlock()
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
