// Package fuzzy implements fuzzy c-means partitioning: every event gets a
// membership vector over k clusters instead of a single label.
//
// Each iteration alternates two steps. Memberships follow an inverse-distance
// power law with exponent 2/(m-1), normalized per event. Centers move to the
// means of all events weighted by membership^m, unless the move would raise
// that cluster's dispersion under the chosen metric; then the previous center
// stays. Neither step can raise the objective, so it never increases. The
// loop stops when no membership moves by more than the tolerance, or at the
// iteration cap.
package fuzzy

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/distance"
	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/model"
)

// Partitioner holds fit parameters. It is immutable after New and safe for
// concurrent Fit calls; each call derives its own random stream from the seed.
type Partitioner struct {
	fuzziness float64
	maxIter   int
	tolerance float64
	metric    distance.Metric
	seed      int64
	strict    bool
	init      Init
}

// New creates a Partitioner with configuration options.
func New(opts ...Option) (*Partitioner, error) {
	p := &Partitioner{
		fuzziness: DefaultFuzziness,
		maxIter:   DefaultMaxIter,
		tolerance: DefaultTolerance,
		metric:    distance.Default,
		seed:      DefaultSeed,
	}

	for _, opt := range opts {
		opt(p)
	}

	switch {
	case !(p.fuzziness > 1) || math.IsInf(p.fuzziness, 0):
		return nil, fmt.Errorf("%w: fuzziness must be a finite value > 1, got %v", model.ErrInvalidInput, p.fuzziness)
	case p.maxIter < 1:
		return nil, fmt.Errorf("%w: max_iter must be >= 1, got %d", model.ErrInvalidInput, p.maxIter)
	case !(p.tolerance > 0):
		return nil, fmt.Errorf("%w: tolerance must be > 0, got %v", model.ErrInvalidInput, p.tolerance)
	}
	if err := p.metric.Validate(); err != nil {
		return nil, err
	}
	if p.init < InitFarthest || p.init > InitPlusPlus {
		return nil, fmt.Errorf("%w: unknown init %d", model.ErrInvalidInput, int(p.init))
	}
	return p, nil
}

// Metric returns the distance metric of the partitioner.
func (p *Partitioner) Metric() distance.Metric { return p.metric }

// Fuzziness returns the fuzziness exponent.
func (p *Partitioner) Fuzziness() float64 { return p.fuzziness }

// Init returns the center initialization strategy.
func (p *Partitioner) Init() Init { return p.init }

// Seed returns the initialization seed.
func (p *Partitioner) Seed() int64 { return p.seed }

// Fit partitions the rows of fm into k fuzzy clusters.
func (p *Partitioner) Fit(fm *model.FeatureMatrix, k int) (*Result, error) {
	if fm == nil {
		return nil, fmt.Errorf("%w: feature matrix is nil", model.ErrInvalidInput)
	}
	if k < 2 {
		return nil, fmt.Errorf("%w: k must be >= 2, got %d", model.ErrInvalidInput, k)
	}
	seeds := fm.DistinctRows()
	if k > len(seeds) {
		return nil, fmt.Errorf("%w: k=%d exceeds the %d distinct events", model.ErrInvalidInput, k, len(seeds))
	}

	n, d := fm.Rows(), fm.Cols()
	x := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		x.SetRow(i, fm.Row(i))
	}

	rng := rand.New(rand.NewSource(p.seed)) //nolint:gosec // reproducibility, not secrecy
	v := mat.NewDense(k, d, nil)
	for j, i := range p.init.pick(rng, fm, seeds, k, p.metric) {
		v.SetRow(j, fm.Row(i))
	}

	u := mat.NewDense(n, k, nil)
	next := mat.NewDense(n, k, nil)
	dist := make([]float64, k)

	res := &Result{
		K:         k,
		Fuzziness: p.fuzziness,
		Metric:    p.metric,
		Seed:      p.seed,
	}
	for iter := 1; iter <= p.maxIter; iter++ {
		for i := 0; i < n; i++ {
			p.memberships(x.RawRowView(i), v, dist, next.RawRowView(i))
		}
		delta := math.Inf(1)
		if iter > 1 {
			delta = maxAbsDiff(u, next)
		}
		u, next = next, u

		p.centers(x, u, v)
		res.History = append(res.History, p.objective(x, u, v))
		res.Iterations = iter

		if delta < p.tolerance {
			res.Converged = true
			break
		}
	}

	res.Centers = rows(v)
	res.Membership = rows(u)
	res.Labels = HardLabels(res.Membership)
	res.Objective = res.History[len(res.History)-1]
	res.Diagnostics = diagnose(res)

	if !res.Converged && p.strict {
		return nil, fmt.Errorf("%w: k=%d after %d iterations", ErrNotConverged, k, res.Iterations)
	}
	return res, nil
}

// memberships writes the membership row of one event into out. An event
// sitting exactly on a center belongs to it entirely; ties on distance 0 go
// to the lowest cluster index.
func (p *Partitioner) memberships(xi []float64, v *mat.Dense, dist, out []float64) {
	k, _ := v.Dims()
	minD := math.Inf(1)
	for j := 0; j < k; j++ {
		dist[j] = p.metric.Distance(xi, v.RawRowView(j))
		minD = math.Min(minD, dist[j])
	}
	if minD == 0 {
		for j := range out {
			out[j] = 0
		}
		for j := 0; j < k; j++ {
			if dist[j] == 0 {
				out[j] = 1
				return
			}
		}
	}

	// Ratios against the nearest center keep every weight in (0,1].
	power := 2 / (p.fuzziness - 1)
	for j := 0; j < k; j++ {
		out[j] = math.Pow(dist[j]/minD, -power)
	}
	floats.Scale(1/floats.Sum(out), out)
}

// centers recomputes v in place. A cluster with zero total weight keeps its
// previous center, and so does one whose weighted mean scores worse than the
// previous center. The mean minimizes squared Euclidean dispersion only.
func (p *Partitioner) centers(x, u, v *mat.Dense) {
	n, d := x.Dims()
	_, k := u.Dims()
	acc := make([]float64, d)
	for j := 0; j < k; j++ {
		for c := range acc {
			acc[c] = 0
		}
		total := 0.0
		for i := 0; i < n; i++ {
			w := math.Pow(u.At(i, j), p.fuzziness)
			if w == 0 {
				continue
			}
			floats.AddScaled(acc, w, x.RawRowView(i))
			total += w
		}
		if total == 0 {
			continue
		}
		floats.Scale(1/total, acc)
		if p.dispersion(x, u, j, acc) <= p.dispersion(x, u, j, v.RawRowView(j)) {
			v.SetRow(j, acc)
		}
	}
}

// dispersion is sum_i u_ij^m * d(x_i, center)^2 for cluster j.
func (p *Partitioner) dispersion(x, u *mat.Dense, j int, center []float64) float64 {
	n, _ := x.Dims()
	var out float64
	for i := 0; i < n; i++ {
		w := math.Pow(u.At(i, j), p.fuzziness)
		if w == 0 {
			continue
		}
		dd := p.metric.Distance(x.RawRowView(i), center)
		out += w * dd * dd
	}
	return out
}

// objective is the sum of every cluster's dispersion.
func (p *Partitioner) objective(x, u, v *mat.Dense) float64 {
	_, k := u.Dims()
	var j float64
	for c := 0; c < k; c++ {
		j += p.dispersion(x, u, c, v.RawRowView(c))
	}
	return j
}

func maxAbsDiff(a, b *mat.Dense) float64 {
	var diff mat.Dense
	diff.Sub(a, b)
	r, _ := diff.Dims()
	out := 0.0
	for i := 0; i < r; i++ {
		for _, x := range diff.RawRowView(i) {
			out = math.Max(out, math.Abs(x))
		}
	}
	return out
}

func rows(m *mat.Dense) [][]float64 {
	r, _ := m.Dims()
	out := make([][]float64, r)
	for i := 0; i < r; i++ {
		out[i] = append([]float64(nil), m.RawRowView(i)...)
	}
	return out
}
