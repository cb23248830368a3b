// Package selection scans candidate cluster counts and scores each fuzzy
// partition with a silhouette computed under the partitioner's own metric.
// The result is advisory: callers may fit any k they like afterwards.
package selection

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/distance"
	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/fuzzy"
	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/model"
)

// collapsedScore is assigned to a partition whose hard labels use fewer
// than two clusters. It is the silhouette lower bound.
const collapsedScore = -1

// KRange is an inclusive, contiguous range of cluster counts.
type KRange struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

// Validate checks the range against the number of events.
func (r KRange) Validate(rows int) error {
	switch {
	case r.Min < 2:
		return fmt.Errorf("%w: k range starts at %d, must be >= 2", model.ErrInvalidInput, r.Min)
	case r.Max < r.Min:
		return fmt.Errorf("%w: k range [%d,%d] is empty", model.ErrInvalidInput, r.Min, r.Max)
	case rows < 2*r.Max:
		return fmt.Errorf("%w: %d events cannot support k up to %d (need %d)", model.ErrInvalidInput, rows, r.Max, 2*r.Max)
	}
	return nil
}

// Score is the validity of one candidate k.
type Score struct {
	K           int               `json:"k" yaml:"k"`
	Score       float64           `json:"score" yaml:"score"`
	Objective   float64           `json:"objective" yaml:"objective"`
	Iterations  int               `json:"iterations" yaml:"iterations"`
	Converged   bool              `json:"converged" yaml:"converged"`
	Diagnostics fuzzy.Diagnostics `json:"diagnostics" yaml:"diagnostics"`
}

// Curve is the score of every candidate k, in ascending k order.
type Curve struct {
	Metric    distance.Metric `json:"metric" yaml:"metric"`
	Scores    []Score         `json:"scores" yaml:"scores"`
	BestK     int             `json:"best_k" yaml:"best_k"`
	BestScore float64         `json:"best_score" yaml:"best_score"`
}

// ScoreFor returns the score of k.
func (c *Curve) ScoreFor(k int) (float64, bool) {
	for _, s := range c.Scores {
		if s.K == k {
			return s.Score, true
		}
	}
	return 0, false
}

// ByK returns the curve as a k -> score map.
func (c *Curve) ByK() map[int]float64 {
	out := make(map[int]float64, len(c.Scores))
	for _, s := range c.Scores {
		out[s.K] = s.Score
	}
	return out
}

// Option applies a configuration option to SelectK.
type Option func(*selector)

type selector struct {
	parallelism int
}

// WithParallelism bounds the number of concurrent fits. Values below 1
// mean runtime.NumCPU().
func WithParallelism(n int) Option {
	return func(s *selector) {
		if n > 0 {
			s.parallelism = n
		}
	}
}

// SelectK fits p at every k in ks and returns the silhouette curve. Ties on
// the best score go to the smallest k.
func SelectK(ctx context.Context, fm *model.FeatureMatrix, ks KRange, p *fuzzy.Partitioner, opts ...Option) (*Curve, error) {
	if fm == nil || p == nil {
		return nil, fmt.Errorf("%w: feature matrix and partitioner are required", model.ErrInvalidInput)
	}
	if err := ks.Validate(fm.Rows()); err != nil {
		return nil, err
	}
	s := &selector{parallelism: runtime.NumCPU()}
	for _, opt := range opts {
		opt(s)
	}

	dist := pairwise(fm, p.Metric())
	scores := make([]Score, ks.Max-ks.Min+1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for k := ks.Min; k <= ks.Max; k++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := p.Fit(fm, k)
			if err != nil {
				return fmt.Errorf("fit k=%d: %w", k, err)
			}
			scores[k-ks.Min] = Score{
				K:           k,
				Score:       silhouette(dist, res.Labels),
				Objective:   res.Objective,
				Iterations:  res.Iterations,
				Converged:   res.Converged,
				Diagnostics: res.Diagnostics,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	c := &Curve{Metric: p.Metric(), Scores: scores, BestK: scores[0].K, BestScore: scores[0].Score}
	for _, sc := range scores[1:] {
		if sc.Score > c.BestScore {
			c.BestK, c.BestScore = sc.K, sc.Score
		}
	}
	return c, nil
}

// Silhouette scores a hard labeling of fm under metric.
func Silhouette(fm *model.FeatureMatrix, labels []int, metric distance.Metric) (float64, error) {
	if fm == nil || len(labels) != fm.Rows() {
		return 0, fmt.Errorf("%w: need one label per event", model.ErrInvalidInput)
	}
	if err := metric.Validate(); err != nil {
		return 0, err
	}
	for i, l := range labels {
		if l < 0 {
			return 0, fmt.Errorf("%w: label %d of row %d is negative", model.ErrInvalidInput, l, i)
		}
	}
	return silhouette(pairwise(fm, metric), labels), nil
}

func pairwise(fm *model.FeatureMatrix, metric distance.Metric) *mat.SymDense {
	n := fm.Rows()
	d := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d.SetSym(i, j, metric.Distance(fm.Row(i), fm.Row(j)))
		}
	}
	return d
}

// silhouette averages (b-a)/max(a,b) over events, where a is the mean
// distance to the event's own cluster and b the mean distance to the nearest
// other cluster. Members of singleton clusters contribute 0.
func silhouette(d mat.Symmetric, labels []int) float64 {
	k := 0
	for _, l := range labels {
		k = max(k, l+1)
	}
	sizes := make([]int, k)
	for _, l := range labels {
		sizes[l]++
	}
	used := 0
	for _, n := range sizes {
		if n > 0 {
			used++
		}
	}
	if used < 2 {
		return collapsedScore
	}

	sums := make([]float64, k)
	total := 0.0
	for i, li := range labels {
		if sizes[li] == 1 {
			continue
		}
		for c := range sums {
			sums[c] = 0
		}
		for j, lj := range labels {
			if i != j {
				sums[lj] += d.At(i, j)
			}
		}
		a := sums[li] / float64(sizes[li]-1)
		b := -1.0
		for c, n := range sizes {
			if c == li || n == 0 {
				continue
			}
			if m := sums[c] / float64(n); b < 0 || m < b {
				b = m
			}
		}
		if den := max(a, b); den > 0 {
			total += (b - a) / den
		}
	}
	return total / float64(len(labels))
}
