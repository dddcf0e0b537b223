package conjugate

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
)

func TestNewBetaValidation(t *testing.T) {
	if _, err := NewBeta("p", 2, 2); err != nil {
		t.Fatalf("NewBeta(2,2) failed: %v", err)
	}
	for _, tc := range []struct{ alpha, beta float64 }{
		{0, 1},
		{1, 0},
		{-1, 2},
		{2, -0.5},
		{math.Inf(-1), 1},
	} {
		if _, err := NewBeta("p", tc.alpha, tc.beta); !errors.Is(err, ErrInvalidConcentration) {
			t.Errorf("NewBeta(%g,%g): got %v, want ErrInvalidConcentration", tc.alpha, tc.beta, err)
		}
	}
}

func TestNewDirichletValidation(t *testing.T) {
	if _, err := NewDirichlet("d", []float64{1, 2, 3}); err != nil {
		t.Fatalf("NewDirichlet failed: %v", err)
	}
	if _, err := NewDirichlet("d", []float64{2}); !errors.Is(err, ErrInvalidConcentration) {
		t.Errorf("single-entry Dirichlet: got %v, want ErrInvalidConcentration", err)
	}
	if _, err := NewDirichlet("d", []float64{1, 0, 1}); !errors.Is(err, ErrInvalidConcentration) {
		t.Errorf("zero concentration: got %v, want ErrInvalidConcentration", err)
	}
}

func TestAccumulateAndApplyUpdate(t *testing.T) {
	const tol = 1e-12

	p, err := NewBeta("coin", 2, 2)
	if err != nil {
		t.Fatalf("NewBeta failed: %v", err)
	}
	if err := p.Accumulate(0, 7); err != nil {
		t.Fatalf("Accumulate(0,7) failed: %v", err)
	}
	if err := p.Accumulate(1, 3); err != nil {
		t.Fatalf("Accumulate(1,3) failed: %v", err)
	}

	stats := p.Statistics()
	if math.Abs(stats[0]-7) > tol || math.Abs(stats[1]-3) > tol {
		t.Errorf("Statistics = %v, want [7 3]", stats)
	}

	p.ApplyUpdate()
	post := p.PosteriorConcentration()
	if math.Abs(post[0]-9) > tol || math.Abs(post[1]-5) > tol {
		t.Errorf("Posterior = %v, want [9 5]", post)
	}

	p.Reset()
	for i, v := range p.Statistics() {
		if v != 0 {
			t.Errorf("Statistics[%d] = %g after Reset, want 0", i, v)
		}
	}
	// Reset clears the accumulator, not the posterior.
	post = p.PosteriorConcentration()
	if math.Abs(post[0]-9) > tol || math.Abs(post[1]-5) > tol {
		t.Errorf("Posterior after Reset = %v, want [9 5]", post)
	}
}

func TestAccumulateErrors(t *testing.T) {
	p, err := NewBeta("coin", 2, 2)
	if err != nil {
		t.Fatalf("NewBeta failed: %v", err)
	}
	if err := p.Accumulate(2, 1); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("Accumulate(2,1): got %v, want ErrIndexOutOfRange", err)
	}
	if err := p.Accumulate(-1, 1); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("Accumulate(-1,1): got %v, want ErrIndexOutOfRange", err)
	}
	if err := p.Accumulate(0, -0.5); !errors.Is(err, ErrNegativeWeight) {
		t.Errorf("Accumulate(0,-0.5): got %v, want ErrNegativeWeight", err)
	}
}

func TestMAPBeta(t *testing.T) {
	const tol = 1e-12

	p, err := NewBeta("coin", 2, 2)
	if err != nil {
		t.Fatalf("NewBeta failed: %v", err)
	}
	if err := p.Accumulate(0, 7); err != nil {
		t.Fatal(err)
	}
	if err := p.Accumulate(1, 3); err != nil {
		t.Fatal(err)
	}
	p.ApplyUpdate()

	m := p.MAP()
	want := []float64{8.0 / 12.0, 4.0 / 12.0}
	for i := range want {
		if math.Abs(m[i]-want[i]) > tol {
			t.Errorf("MAP[%d] = %g, want %g", i, m[i], want[i])
		}
	}
}

func TestMAPDirichlet(t *testing.T) {
	const tol = 1e-12

	p, err := NewDirichlet("die", []float64{2, 2, 2})
	if err != nil {
		t.Fatalf("NewDirichlet failed: %v", err)
	}
	for i, c := range []float64{8, 6, 2} {
		if err := p.Accumulate(i, c); err != nil {
			t.Fatal(err)
		}
	}
	p.ApplyUpdate()

	m := p.MAP()
	want := []float64{9.0 / 19.0, 7.0 / 19.0, 3.0 / 19.0}
	for i := range want {
		if math.Abs(m[i]-want[i]) > tol {
			t.Errorf("MAP[%d] = %g, want %g", i, m[i], want[i])
		}
	}
}

func TestMAPDegenerateFallsBackToUniform(t *testing.T) {
	const tol = 1e-12

	// A flat posterior has no unique mode; the uniform vector stands in.
	p, err := NewBeta("coin", 1, 1)
	if err != nil {
		t.Fatalf("NewBeta failed: %v", err)
	}
	m := p.MAP()
	if math.Abs(m[0]-0.5) > tol || math.Abs(m[1]-0.5) > tol {
		t.Errorf("MAP of Beta(1,1) = %v, want [0.5 0.5]", m)
	}

	d, err := NewDirichlet("die", []float64{1, 1, 1})
	if err != nil {
		t.Fatalf("NewDirichlet failed: %v", err)
	}
	for i, v := range d.MAP() {
		if math.Abs(v-1.0/3.0) > tol {
			t.Errorf("MAP[%d] of Dirichlet(1,1,1) = %g, want 1/3", i, v)
		}
	}
}

func TestSampleBeta(t *testing.T) {
	const (
		draws = 100
		tol   = 1e-12
	)

	p, err := NewBeta("coin", 2, 2)
	if err != nil {
		t.Fatalf("NewBeta failed: %v", err)
	}
	src := rand.NewPCG(42, 0)
	for i := 0; i < draws; i++ {
		d := p.Sample(src)
		if len(d.Value) != 2 {
			t.Fatalf("Beta draw has %d entries, want 2", len(d.Value))
		}
		if d.Value[0] < 0 || d.Value[0] > 1 {
			t.Errorf("Beta draw %g outside [0,1]", d.Value[0])
		}
		if math.Abs(d.Value[0]+d.Value[1]-1) > tol {
			t.Errorf("Beta draw %v does not sum to 1", d.Value)
		}
		// Proposal and prior coincide before any update, so the
		// importance correction must vanish.
		if d.LogWeight != 0 {
			t.Errorf("LogWeight = %g with posterior == prior, want 0", d.LogWeight)
		}
	}
}

func TestSampleDirichlet(t *testing.T) {
	const (
		draws = 100
		tol   = 1e-9
	)

	p, err := NewDirichlet("die", []float64{2, 3, 4})
	if err != nil {
		t.Fatalf("NewDirichlet failed: %v", err)
	}
	src := rand.NewPCG(42, 0)
	for i := 0; i < draws; i++ {
		d := p.Sample(src)
		if len(d.Value) != 3 {
			t.Fatalf("Dirichlet draw has %d entries, want 3", len(d.Value))
		}
		sum := 0.0
		for _, v := range d.Value {
			if v < 0 {
				t.Errorf("negative simplex entry %g", v)
			}
			sum += v
		}
		if math.Abs(sum-1) > tol {
			t.Errorf("Dirichlet draw sums to %g, want 1", sum)
		}
		if d.LogWeight != 0 {
			t.Errorf("LogWeight = %g with posterior == prior, want 0", d.LogWeight)
		}
	}
}

func TestSampleCorrectionAfterUpdate(t *testing.T) {
	p, err := NewBeta("coin", 2, 2)
	if err != nil {
		t.Fatalf("NewBeta failed: %v", err)
	}
	if err := p.Accumulate(0, 7); err != nil {
		t.Fatal(err)
	}
	if err := p.Accumulate(1, 3); err != nil {
		t.Fatal(err)
	}
	p.ApplyUpdate()

	src := rand.NewPCG(1, 2)
	sawNonzero := false
	for i := 0; i < 50; i++ {
		d := p.Sample(src)
		if math.IsNaN(d.LogWeight) || math.IsInf(d.LogWeight, 0) {
			t.Fatalf("LogWeight = %g, want finite", d.LogWeight)
		}
		if d.LogWeight != 0 {
			sawNonzero = true
		}
	}
	if !sawNonzero {
		t.Error("LogWeight stayed zero with posterior != prior")
	}
}

func TestSampleDirichletCorrectionAfterUpdate(t *testing.T) {
	p, err := NewDirichlet("die", []float64{2, 2, 2})
	if err != nil {
		t.Fatalf("NewDirichlet failed: %v", err)
	}
	for i, c := range []float64{8, 6, 2} {
		if err := p.Accumulate(i, c); err != nil {
			t.Fatal(err)
		}
	}
	p.ApplyUpdate()

	src := rand.NewPCG(3, 4)
	sawNonzero := false
	for i := 0; i < 50; i++ {
		d := p.Sample(src)
		if len(d.Value) != 3 {
			t.Fatalf("Dirichlet draw has %d entries, want 3", len(d.Value))
		}
		if math.IsNaN(d.LogWeight) || math.IsInf(d.LogWeight, 0) {
			t.Fatalf("LogWeight = %g, want finite", d.LogWeight)
		}
		if d.LogWeight != 0 {
			sawNonzero = true
		}
	}
	if !sawNonzero {
		t.Error("LogWeight stayed zero with posterior != prior")
	}
}

func TestAccessors(t *testing.T) {
	p, err := NewBeta("coin", 2, 3, WithScope("net"))
	if err != nil {
		t.Fatalf("NewBeta failed: %v", err)
	}
	if p.Name() != "coin" || p.Kind() != Beta || p.Scope() != "net" || p.Outcomes() != 2 {
		t.Errorf("accessors = (%q, %v, %q, %d)", p.Name(), p.Kind(), p.Scope(), p.Outcomes())
	}

	// Returned vectors are copies; mutating them must not touch the parameter.
	prior := p.PriorConcentration()
	prior[0] = 99
	if p.PriorConcentration()[0] != 2 {
		t.Error("PriorConcentration returned shared backing storage")
	}
}
