package emis

import "math/rand/v2"

// Assignment maps parameter names to the probability vectors drawn for one
// proposal sample. Beta parameters receive a length-2 vector with the
// success probability at index 0.
type Assignment map[string][]float64

// Outcome records that Count independent direct stochastic children of a
// parameter realized the outcome category Index. Count is usually 1; it is
// larger when one parameter feeds many repeated trials in a single
// realization of the network.
type Outcome struct {
	Index int
	Count float64
}

// Outcomes maps parameter names to the child outcomes realized in one
// network evaluation. Names that no driver parameter carries are ignored,
// so one evaluator may serve a wider network than a single driver learns.
type Outcomes map[string][]Outcome

// Evaluator is the network boundary: given a parameter assignment it runs
// one forward realization of the dependent-variable network consistent with
// all observations and reports
//
//   - the likelihood weight of the realization: the product of the
//     constraint likelihoods attached to observed variables, evaluated at
//     the realized values. Zero for a realization inconsistent with a hard
//     observation. Must be non-negative.
//   - per parameter, the outcome categories its direct stochastic children
//     took in the realization.
//
// Evaluate must be deterministic given rng and safe to call concurrently
// with distinct rng instances.
type Evaluator interface {
	Evaluate(assignment Assignment, rng *rand.Rand) (weight float64, outcomes Outcomes, err error)
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(assignment Assignment, rng *rand.Rand) (float64, Outcomes, error)

// Evaluate calls f.
func (f EvaluatorFunc) Evaluate(assignment Assignment, rng *rand.Rand) (float64, Outcomes, error) {
	return f(assignment, rng)
}
