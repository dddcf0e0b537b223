package emis

// Decision is a termination policy's verdict after a completed iteration.
type Decision int

const (
	// Continue runs another E-step/M-step iteration.
	Continue Decision = iota
	// Converged stops because the learning signal fell below threshold.
	Converged
	// Exhausted stops because the iteration budget ran out.
	Exhausted
)

// TerminationState is the information a policy sees after each M-step.
type TerminationState struct {
	// Iteration is the number of completed E-step/M-step pairs.
	Iteration int
	// StatisticsDelta is the sum, over all learned parameters, of the
	// Euclidean norm of the change in that parameter's sufficient
	// statistics relative to the previous iteration.
	StatisticsDelta float64
}

// TerminationCriteria decides after each M-step whether learning should
// stop. Policies must eventually return a non-Continue decision.
type TerminationCriteria interface {
	Evaluate(state TerminationState) Decision
}

// FixedIterations stops after exactly N completed iterations.
type FixedIterations struct {
	N int
}

// Evaluate implements TerminationCriteria.
func (c FixedIterations) Evaluate(state TerminationState) Decision {
	if state.Iteration >= c.N {
		return Exhausted
	}
	return Continue
}

// DefaultMaxIterations bounds SufficientStatisticsMagnitude when no explicit
// MaxIterations is set.
const DefaultMaxIterations = 1000

// SufficientStatisticsMagnitude stops once the total change in accumulated
// statistics across an iteration drops to Threshold or below, allowing early
// exit when further batches produce negligible new evidence. MaxIterations
// is a hard upper bound guaranteeing termination; zero or negative means
// DefaultMaxIterations.
type SufficientStatisticsMagnitude struct {
	Threshold     float64
	MaxIterations int
}

// Evaluate implements TerminationCriteria.
func (c SufficientStatisticsMagnitude) Evaluate(state TerminationState) Decision {
	if state.StatisticsDelta <= c.Threshold {
		return Converged
	}
	max := c.MaxIterations
	if max <= 0 {
		max = DefaultMaxIterations
	}
	if state.Iteration >= max {
		return Exhausted
	}
	return Continue
}
