// Package emis implements expectation-maximization with an
// importance-sampling E-step for learning conjugate (Beta and Dirichlet)
// parameters embedded in a network of dependent random variables.
//
// The posterior over a parameter given observations of indirect descendants
// has no closed form, so each iteration estimates the expected sufficient
// statistics of every parameter by importance sampling over whole-network
// realizations supplied by an external Evaluator, then applies the exact
// conjugate update. Proposal values are drawn from each parameter's current
// posterior, which concentrates samples where the model is informative as
// learning progresses; the density-ratio correction in the sample weight
// accounts for not proposing from the prior.
package emis

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/floats"

	"github.com/Arijit-hydrated/figaro/conjugate"
)

var (
	// ErrIncompatibleContext is returned when the parameters handed to one
	// driver belong to different network scopes.
	ErrIncompatibleContext = errors.New("emis: parameters belong to different network scopes")
	// ErrAlreadyTerminated is returned by Start on a driver that already
	// reached a terminal state.
	ErrAlreadyTerminated = errors.New("emis: driver already terminated")
)

// State is the lifecycle state of a Driver.
type State int32

const (
	StateIdle State = iota
	StateRunning
	// StateConverged means the termination policy reported convergence.
	StateConverged
	// StateExhausted means the iteration budget ran out.
	StateExhausted
	// StateKilled means Kill was observed, or an E-step failed and the
	// driver terminated itself without further parameter mutation.
	StateKilled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateConverged:
		return "converged"
	case StateExhausted:
		return "exhausted"
	case StateKilled:
		return "killed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Driver orchestrates the EM iteration over a fixed set of parameters:
// E-step, M-step, termination check, until the policy stops it or Kill is
// observed. The driver owns exclusive mutation rights over its parameters
// while running; callers may read parameter state between iterations but
// must not mutate it.
type Driver struct {
	eval     Evaluator
	criteria TerminationCriteria
	batch    int
	params   []*conjugate.Parameter
	index    map[string]int

	workers int
	seed    int64

	state       atomic.Int32
	killed      atomic.Bool
	iterations  atomic.Int64
	seedCounter atomic.Int64
	mstepMu     sync.Mutex // guards parameter mutation against Kill

	prev [][]float64 // previous iteration's statistics, for the delta norm
}

// Option configures optional Driver settings.
type Option func(*Driver)

// WithWorkers sets the number of goroutines evaluating samples within an
// E-step. Defaults to GOMAXPROCS. One worker with WithSeed gives fully
// reproducible runs.
func WithWorkers(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithSeed fixes the random seed so repeated runs with the same worker
// count produce identical results. Zero (the default) seeds from the clock.
func WithSeed(seed int64) Option {
	return func(d *Driver) {
		d.seed = seed
	}
}

// New creates a driver that learns params jointly against eval, drawing
// batchSize weighted network realizations per E-step and stopping when
// criteria says so.
func New(eval Evaluator, criteria TerminationCriteria, batchSize int, params []*conjugate.Parameter, options ...Option) (*Driver, error) {
	if eval == nil {
		return nil, errors.New("emis: nil evaluator")
	}
	if criteria == nil {
		return nil, errors.New("emis: nil termination criteria")
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("emis: batch size must be at least 1, got %d", batchSize)
	}
	if len(params) == 0 {
		return nil, errors.New("emis: at least one parameter required")
	}
	d := &Driver{
		eval:     eval,
		criteria: criteria,
		batch:    batchSize,
		params:   append([]*conjugate.Parameter(nil), params...),
		index:    make(map[string]int, len(params)),
		workers:  runtime.GOMAXPROCS(0),
		prev:     make([][]float64, len(params)),
	}
	var scope string
	for i, p := range d.params {
		if p == nil {
			return nil, fmt.Errorf("emis: parameter %d is nil", i)
		}
		if i == 0 {
			scope = p.Scope()
		}
		if p.Scope() != scope {
			return nil, fmt.Errorf("%w: %q is in scope %q, %q is in scope %q",
				ErrIncompatibleContext, params[0].Name(), scope, p.Name(), p.Scope())
		}
		if _, dup := d.index[p.Name()]; dup {
			return nil, fmt.Errorf("emis: duplicate parameter name %q", p.Name())
		}
		d.index[p.Name()] = i
		d.prev[i] = make([]float64, p.Outcomes())
	}
	for _, opt := range options {
		opt(d)
	}
	return d, nil
}

// NewFixed is a convenience constructor wrapping maxIterations in a
// FixedIterations policy.
func NewFixed(eval Evaluator, maxIterations, batchSize int, params []*conjugate.Parameter, options ...Option) (*Driver, error) {
	if maxIterations < 1 {
		return nil, fmt.Errorf("emis: max iterations must be at least 1, got %d", maxIterations)
	}
	return New(eval, FixedIterations{N: maxIterations}, batchSize, params, options...)
}

// State reports the driver's lifecycle state.
func (d *Driver) State() State {
	return State(d.state.Load())
}

// Iterations reports the number of completed E-step/M-step pairs.
func (d *Driver) Iterations() int {
	return int(d.iterations.Load())
}

// Parameters returns the parameters this driver learns, in construction
// order.
func (d *Driver) Parameters() []*conjugate.Parameter {
	return append([]*conjugate.Parameter(nil), d.params...)
}

// Start runs the EM loop to completion. It is a no-op returning nil if the
// driver is already running, and returns ErrAlreadyTerminated once a
// terminal state was reached. After Start returns, each parameter's MAP
// value is the learned estimate as of the last completed M-step.
func (d *Driver) Start() error {
	if !d.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		if d.State() == StateRunning {
			return nil
		}
		return fmt.Errorf("%w: state %s", ErrAlreadyTerminated, d.State())
	}
	return d.run()
}

// Kill signals cooperative termination. It is safe to call at any time and
// from any goroutine; once it returns, no further parameter mutation will
// occur. Parameters keep their state as of the last completed M-step. The
// driver transitions to StateKilled at the next safe point.
func (d *Driver) Kill() {
	d.killed.Store(true)
	// Taking the M-step lock waits out any in-flight update, so the
	// no-further-mutation guarantee holds when Kill returns.
	d.mstepMu.Lock()
	defer d.mstepMu.Unlock()
	d.state.CompareAndSwap(int32(StateIdle), int32(StateKilled))
}

func (d *Driver) run() error {
	for iter := 1; ; iter++ {
		if d.killed.Load() {
			d.state.Store(int32(StateKilled))
			return nil
		}

		stats, weightSum, err := d.estep(iter)
		if err != nil {
			d.state.Store(int32(StateKilled))
			return err
		}

		d.mstepMu.Lock()
		if d.killed.Load() {
			d.mstepMu.Unlock()
			d.state.Store(int32(StateKilled))
			return nil
		}
		err = d.mstep(stats, weightSum)
		d.mstepMu.Unlock()
		if err != nil {
			d.state.Store(int32(StateKilled))
			return err
		}
		d.iterations.Store(int64(iter))

		delta := 0.0
		for i := range stats {
			delta += floats.Distance(stats[i], d.prev[i], 2)
			d.prev[i] = stats[i]
		}
		switch d.criteria.Evaluate(TerminationState{Iteration: iter, StatisticsDelta: delta}) {
		case Converged:
			d.state.Store(int32(StateConverged))
			return nil
		case Exhausted:
			d.state.Store(int32(StateExhausted))
			return nil
		}
	}
}

// mstep writes the batch's normalized statistics into each parameter and
// applies the conjugate posterior update. A zero-weight batch carried no
// evidence: the accumulators are left at zero and the posteriors keep their
// previous values rather than collapsing back to the prior.
func (d *Driver) mstep(stats [][]float64, weightSum float64) error {
	for i, p := range d.params {
		p.Reset()
		if weightSum == 0 {
			continue
		}
		for outcome, value := range stats[i] {
			if value == 0 {
				continue
			}
			if err := p.Accumulate(outcome, value); err != nil {
				return err
			}
		}
		p.ApplyUpdate()
	}
	return nil
}
