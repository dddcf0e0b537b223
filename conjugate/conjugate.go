// Package conjugate provides the learnable parameter types for EM-based
// parameter estimation: Beta and Dirichlet distributions represented by
// their concentration vectors, with sufficient-statistic accumulation and
// the exact conjugate posterior update.
package conjugate

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	// ErrInvalidConcentration is returned when a parameter is constructed
	// with a non-positive concentration entry or too few entries.
	ErrInvalidConcentration = errors.New("conjugate: invalid concentration")
	// ErrIndexOutOfRange is returned when an outcome index falls outside
	// the parameter's declared outcome count.
	ErrIndexOutOfRange = errors.New("conjugate: outcome index out of range")
	// ErrNegativeWeight is returned when a negative weight is accumulated.
	ErrNegativeWeight = errors.New("conjugate: negative accumulation weight")
)

// Kind identifies the conjugate family of a Parameter. The set of supported
// families is closed: Beta for two outcomes, Dirichlet for two or more.
type Kind int

const (
	Beta Kind = iota
	Dirichlet
)

func (k Kind) String() string {
	switch k {
	case Beta:
		return "beta"
	case Dirichlet:
		return "dirichlet"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Draw is one proposal sample of a parameter value. Value is a probability
// vector over the parameter's outcomes (length 2 for Beta). LogWeight is the
// importance correction log p_prior(Value) - log p_proposal(Value), where the
// proposal is the distribution under the current posterior concentration.
type Draw struct {
	Value     []float64
	LogWeight float64
}

// Parameter is a unit of learnable state: a Beta or Dirichlet distribution
// over the probabilities of a fixed set of outcomes. It holds an immutable
// prior concentration, a working sufficient-statistics accumulator, and the
// posterior concentration produced by the most recent conjugate update.
//
// All state-touching methods are safe for concurrent use; during an E-step
// the posterior is only read, so proposal draws across workers never block
// one another.
type Parameter struct {
	name  string
	kind  Kind
	scope string

	mu        sync.RWMutex
	prior     []float64
	working   []float64
	posterior []float64
}

// Option configures optional Parameter settings.
type Option func(*Parameter)

// WithScope tags the parameter with the network context it belongs to.
// A driver refuses to learn parameters from different scopes together.
func WithScope(scope string) Option {
	return func(p *Parameter) {
		p.scope = scope
	}
}

// NewBeta creates a Beta parameter with prior concentrations alpha and beta.
// Outcome 0 is the alpha (success) outcome, outcome 1 the beta outcome.
func NewBeta(name string, alpha, beta float64, options ...Option) (*Parameter, error) {
	return newParameter(name, Beta, []float64{alpha, beta}, options)
}

// NewDirichlet creates a Dirichlet parameter with the given prior
// concentration vector. At least two entries are required; outcome indices
// run 0..len(concentration)-1.
func NewDirichlet(name string, concentration []float64, options ...Option) (*Parameter, error) {
	if len(concentration) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 entries, got %d",
			ErrInvalidConcentration, len(concentration))
	}
	return newParameter(name, Dirichlet, concentration, options)
}

func newParameter(name string, kind Kind, concentration []float64, options []Option) (*Parameter, error) {
	for i, c := range concentration {
		if c <= 0 {
			return nil, fmt.Errorf("%w: entry %d is %g, must be positive",
				ErrInvalidConcentration, i, c)
		}
	}
	p := &Parameter{
		name:      name,
		kind:      kind,
		prior:     append([]float64(nil), concentration...),
		working:   make([]float64, len(concentration)),
		posterior: append([]float64(nil), concentration...),
	}
	for _, opt := range options {
		opt(p)
	}
	return p, nil
}

// Name returns the parameter's identifier, the key under which a network
// evaluator reports child outcomes for it.
func (p *Parameter) Name() string { return p.name }

// Kind returns the conjugate family of the parameter.
func (p *Parameter) Kind() Kind { return p.kind }

// Scope returns the network context tag set via WithScope, or "".
func (p *Parameter) Scope() string { return p.scope }

// Outcomes returns the number of outcome categories.
func (p *Parameter) Outcomes() int { return len(p.prior) }

// Reset zeroes the working statistics accumulator. Called at the start of
// every E-step.
func (p *Parameter) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.working {
		p.working[i] = 0
	}
}

// Accumulate adds weight to the working statistic of the given outcome.
func (p *Parameter) Accumulate(outcome int, weight float64) error {
	if outcome < 0 || outcome >= len(p.prior) {
		return fmt.Errorf("%w: outcome %d of parameter %q (have %d outcomes)",
			ErrIndexOutOfRange, outcome, p.name, len(p.prior))
	}
	if weight < 0 {
		return fmt.Errorf("%w: %g for outcome %d of parameter %q",
			ErrNegativeWeight, weight, outcome, p.name)
	}
	p.mu.Lock()
	p.working[outcome] += weight
	p.mu.Unlock()
	return nil
}

// ApplyUpdate performs the conjugate M-step update,
// posterior = prior + working statistics, elementwise.
func (p *Parameter) ApplyUpdate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	copy(p.posterior, p.prior)
	floats.Add(p.posterior, p.working)
}

// MAP returns the posterior mode as a probability vector over outcomes.
// When the posterior mode is degenerate (an entry below 1, or concentration
// mass summing to the outcome count or less) it falls back to the prior's
// mode, and when that is degenerate too (a flat prior such as Beta(1,1)) to
// the uniform vector.
func (p *Parameter) MAP() []float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if m, ok := mapVector(p.posterior); ok {
		return m
	}
	if m, ok := mapVector(p.prior); ok {
		return m
	}
	uniform := make([]float64, len(p.prior))
	for i := range uniform {
		uniform[i] = 1 / float64(len(uniform))
	}
	return uniform
}

func mapVector(conc []float64) ([]float64, bool) {
	denom := floats.Sum(conc) - float64(len(conc))
	if denom <= 0 {
		return nil, false
	}
	m := make([]float64, len(conc))
	for i, c := range conc {
		if c < 1 {
			return nil, false
		}
		m[i] = (c - 1) / denom
	}
	return m, true
}

// Sample draws a parameter value from the current posterior concentration,
// the importance-sampling proposal. The returned Draw carries the density
// ratio correcting for proposing from the posterior instead of the prior.
func (p *Parameter) Sample(src rand.Source) Draw {
	p.mu.RLock()
	defer p.mu.RUnlock()
	switch p.kind {
	case Beta:
		proposal := distuv.Beta{Alpha: p.posterior[0], Beta: p.posterior[1], Src: src}
		prior := distuv.Beta{Alpha: p.prior[0], Beta: p.prior[1]}
		x := proposal.Rand()
		return Draw{
			Value:     []float64{x, 1 - x},
			LogWeight: prior.LogProb(x) - proposal.LogProb(x),
		}
	default:
		proposal := distmv.NewDirichlet(p.posterior, src)
		prior := distmv.NewDirichlet(p.prior, nil)
		x := proposal.Rand(nil)
		return Draw{
			Value:     x,
			LogWeight: prior.LogProb(x) - proposal.LogProb(x),
		}
	}
}

// PriorConcentration returns a copy of the prior concentration vector.
func (p *Parameter) PriorConcentration() []float64 {
	return append([]float64(nil), p.prior...)
}

// PosteriorConcentration returns a copy of the posterior concentration
// vector as of the most recent conjugate update.
func (p *Parameter) PosteriorConcentration() []float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]float64(nil), p.posterior...)
}

// Statistics returns a copy of the working sufficient-statistics vector.
func (p *Parameter) Statistics() []float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]float64(nil), p.working...)
}
