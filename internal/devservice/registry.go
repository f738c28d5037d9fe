package devservice

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

type State int

const (
	Stopped State = iota
	Starting
	Running
	FailedStartup
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Starting:
		return "Starting"
	case Running:
		return "Running"
	case FailedStartup:
		return "FailedStartup"
	case Stopping:
		return "Stopping"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var transitions = map[State][]State{
	Stopped:       {Starting},
	Starting:      {Running, FailedStartup},
	FailedStartup: {Stopped},
	Running:       {Stopping},
	Stopping:      {Stopped},
}

func allowed(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// flight is one in-progress start. Callers arriving while it runs wait on
// done and observe the same outcome.
type flight struct {
	done chan struct{}
	run  *Run
	err  error
}

// Registry tracks whether a dev-service run is active. A process normally
// holds one and hands it to every Controller that must not start duplicate
// container sets.
type Registry struct {
	mu          sync.Mutex
	state       State
	current     *Run
	flight      *flight
	lastFailure error
	changedAt   time.Time
}

func NewRegistry() *Registry {
	return &Registry{changedAt: time.Now()}
}

func (r *Registry) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Current returns the running run, or nil.
func (r *Registry) Current() *Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Running {
		return nil
	}
	return r.current
}

// LastFailure is the cause of the most recent failed start, cleared by the
// next successful one.
func (r *Registry) LastFailure() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastFailure
}

func (r *Registry) ChangedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.changedAt
}

// swap is the only place state changes. Callers hold mu.
func (r *Registry) swap(old, new State) error {
	if r.state != old {
		return fmt.Errorf("state is %s, not %s", r.state, old)
	}
	if !allowed(old, new) {
		return fmt.Errorf("illegal transition %s -> %s", old, new)
	}
	r.state = new
	r.changedAt = time.Now()
	return nil
}

// acquire claims the right to start. The caller that moved the registry
// from Stopped to Starting gets lead=true and must settle the flight with
// succeed or fail. Everyone else gets a flight to wait on; a running
// registry hands back an already settled one.
func (r *Registry) acquire() (f *flight, lead bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case Stopped:
		if err := r.swap(Stopped, Starting); err != nil {
			return nil, false, err
		}
		r.flight = &flight{done: make(chan struct{})}
		return r.flight, true, nil
	case Starting:
		return r.flight, false, nil
	case Running:
		f := &flight{done: make(chan struct{}), run: r.current}
		close(f.done)
		return f, false, nil
	default:
		return nil, false, fmt.Errorf("%w: state %s", ErrBusy, r.state)
	}
}

func (r *Registry) succeed(f *flight, run *Run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.swap(Starting, Running); err != nil {
		panic(err)
	}
	r.current = run
	r.lastFailure = nil
	r.flight = nil
	f.run = run
	close(f.done)
}

// failed records the cause. The run's resources are still being rolled
// back, Start is refused until stopped is called.
func (r *Registry) failed(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.swap(Starting, FailedStartup); err != nil {
		panic(err)
	}
	r.lastFailure = err
}

// stopped ends a failed start once rollback finished and releases the
// waiting callers. The registry accepts a new Start right away.
func (r *Registry) stopped(f *flight, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.swap(FailedStartup, Stopped); e != nil {
		panic(e)
	}
	r.flight = nil
	f.err = err
	close(f.done)
}

// beginStop claims shutdown of run. It reports false when run is not the
// current one, e.g. because it was already closed.
func (r *Registry) beginStop(run *Run) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Running || r.current != run {
		return false
	}
	return r.swap(Running, Stopping) == nil
}

func (r *Registry) endStop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.swap(Stopping, Stopped); err != nil {
		panic(err)
	}
	r.current = nil
}
