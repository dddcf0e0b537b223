package emis

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/Arijit-hydrated/figaro/conjugate"
)

// estep draws one batch of weighted network realizations and returns the
// self-normalized expected sufficient statistics per parameter, in driver
// parameter order, together with the raw batch weight sum.
//
// The batch is split into static chunks across workers; each worker owns a
// random source and local accumulators, and the partial sums are merged in
// worker order. With WithSeed set the result is therefore reproducible for
// a given worker count. Samples inconsistent with a hard observation get
// weight zero and contribute nothing, but still count toward the batch
// size: an all-zero batch yields zero statistics, never an error.
func (d *Driver) estep(iter int) ([][]float64, float64, error) {
	workers := d.workers
	if workers > d.batch {
		workers = d.batch
	}

	partials := make([]chunkResult, workers)
	var failed atomic.Bool
	var wg sync.WaitGroup
	chunk := d.batch / workers
	extra := d.batch % workers
	for w := 0; w < workers; w++ {
		count := chunk
		if w < extra {
			count++
		}
		wg.Add(1)
		go func(w, count int) {
			defer wg.Done()
			partials[w] = d.sampleChunk(iter, w, count, &failed)
		}(w, count)
	}
	wg.Wait()

	stats := make([][]float64, len(d.params))
	for i, p := range d.params {
		stats[i] = make([]float64, p.Outcomes())
	}
	weightSum := 0.0
	for _, r := range partials {
		if r.err != nil {
			return nil, 0, r.err
		}
		weightSum += r.weight
		for i := range stats {
			floats.Add(stats[i], r.stats[i])
		}
	}
	if weightSum > 0 {
		for i := range stats {
			floats.Scale(1/weightSum, stats[i])
		}
	}
	return stats, weightSum, nil
}

type chunkResult struct {
	stats  [][]float64
	weight float64
	err    error
}

// sampleChunk evaluates count samples on one worker. failed lets workers
// bail out early once any of them hits an evaluator contract violation.
func (d *Driver) sampleChunk(iter, worker, count int, failed *atomic.Bool) chunkResult {
	src := d.workerSource(iter, worker)
	rng := rand.New(src)

	res := chunkResult{stats: make([][]float64, len(d.params))}
	for i, p := range d.params {
		res.stats[i] = make([]float64, p.Outcomes())
	}

	for s := 0; s < count; s++ {
		if failed.Load() {
			return res
		}

		// Proposal: draw every learnable parameter from its current
		// posterior. The posteriors are frozen for the whole E-step, so
		// samples are independent of one another.
		assignment := make(Assignment, len(d.params))
		logCorrection := 0.0
		for _, p := range d.params {
			draw := p.Sample(src)
			assignment[p.Name()] = draw.Value
			logCorrection += draw.LogWeight
		}

		likelihood, outcomes, err := d.eval.Evaluate(assignment, rng)
		if err != nil {
			failed.Store(true)
			res.err = fmt.Errorf("emis: evaluator: %w", err)
			return res
		}
		if likelihood < 0 || math.IsNaN(likelihood) {
			failed.Store(true)
			res.err = fmt.Errorf("emis: evaluator returned invalid weight %g", likelihood)
			return res
		}

		weight := likelihood * math.Exp(logCorrection)
		if weight == 0 {
			// Inconsistent with a hard observation. Not resampled.
			continue
		}
		res.weight += weight

		for name, outs := range outcomes {
			i, ok := d.index[name]
			if !ok {
				continue
			}
			bins := res.stats[i]
			for _, o := range outs {
				if o.Index < 0 || o.Index >= len(bins) {
					failed.Store(true)
					res.err = fmt.Errorf("emis: parameter %q: %w: outcome %d with %d outcomes",
						name, conjugate.ErrIndexOutOfRange, o.Index, len(bins))
					return res
				}
				if o.Count < 0 {
					failed.Store(true)
					res.err = fmt.Errorf("emis: parameter %q: negative outcome count %g", name, o.Count)
					return res
				}
				bins[o.Index] += weight * o.Count
			}
		}
	}
	return res
}

// workerSource builds the random source for one worker of one E-step. With
// an explicit seed the stream is a pure function of (seed, iteration,
// worker); otherwise seeds mix an atomic counter with the clock so
// concurrent unseeded drivers never share streams.
func (d *Driver) workerSource(iter, worker int) *rand.PCG {
	if d.seed != 0 {
		return rand.NewPCG(uint64(d.seed), uint64(iter)<<20|uint64(worker))
	}
	next := uint64(d.seedCounter.Add(1))
	return rand.NewPCG(next^uint64(time.Now().UnixNano()), uint64(worker))
}
