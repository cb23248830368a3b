package fuzzy

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/distance"
	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/model"
)

// Result is the immutable outcome of one fit. All fields are plain data so
// the value can be serialized by the caller.
type Result struct {
	K          int             `json:"k" yaml:"k"`
	Fuzziness  float64         `json:"fuzziness" yaml:"fuzziness"`
	Metric     distance.Metric `json:"metric" yaml:"metric"`
	Seed       int64           `json:"seed" yaml:"seed"`
	Centers    [][]float64     `json:"centers" yaml:"centers"`
	Membership [][]float64     `json:"membership" yaml:"membership"`
	Labels     []int           `json:"hard_labels" yaml:"hard_labels"`
	Objective  float64         `json:"objective" yaml:"objective"`
	// History holds the objective after every iteration.
	History     []float64   `json:"objective_history" yaml:"objective_history"`
	Iterations  int         `json:"iterations" yaml:"iterations"`
	Converged   bool        `json:"converged" yaml:"converged"`
	Diagnostics Diagnostics `json:"diagnostics" yaml:"diagnostics"`
}

// Diagnostics lists non-fatal conditions of a fit.
type Diagnostics struct {
	// EmptyClusters own no event under hard labeling.
	EmptyClusters []int `json:"empty_clusters,omitempty" yaml:"empty_clusters,omitempty"`
	// SingletonClusters own exactly one event under hard labeling.
	SingletonClusters []int    `json:"singleton_clusters,omitempty" yaml:"singleton_clusters,omitempty"`
	Warnings          []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// Degenerate reports whether any cluster ended empty or singleton.
func (d Diagnostics) Degenerate() bool {
	return len(d.EmptyClusters) > 0 || len(d.SingletonClusters) > 0
}

// HardLabels projects memberships onto the most likely cluster of each row.
// Ties go to the lowest cluster index.
func HardLabels(membership [][]float64) []int {
	labels := make([]int, len(membership))
	for i, row := range membership {
		labels[i] = floats.MaxIdx(row)
	}
	return labels
}

// ClusterSizes counts events per hard label.
func (r *Result) ClusterSizes() []int {
	sizes := make([]int, r.K)
	for _, c := range r.Labels {
		sizes[c]++
	}
	return sizes
}

// Predict returns the memberships of an unseen observation against the
// fitted centers.
func (r *Result) Predict(x []float64) ([]float64, error) {
	if len(r.Centers) == 0 {
		return nil, fmt.Errorf("%w: result has no centers", model.ErrInvalidInput)
	}
	if len(x) != len(r.Centers[0]) {
		return nil, fmt.Errorf("%w: observation has %d values, centers have %d",
			model.ErrInvalidInput, len(x), len(r.Centers[0]))
	}
	p := &Partitioner{fuzziness: r.Fuzziness, metric: r.Metric}
	v := mat.NewDense(len(r.Centers), len(r.Centers[0]), nil)
	for j, c := range r.Centers {
		v.SetRow(j, c)
	}
	out := make([]float64, r.K)
	p.memberships(x, v, make([]float64, r.K), out)
	return out, nil
}

func diagnose(r *Result) Diagnostics {
	var d Diagnostics
	for c, size := range r.ClusterSizes() {
		switch size {
		case 0:
			d.EmptyClusters = append(d.EmptyClusters, c)
		case 1:
			d.SingletonClusters = append(d.SingletonClusters, c)
		}
	}
	if !r.Converged {
		d.Warnings = append(d.Warnings, fmt.Sprintf("not converged after %d iterations", r.Iterations))
	}
	if len(d.EmptyClusters) > 0 {
		d.Warnings = append(d.Warnings, fmt.Sprintf("degenerate cluster: %v empty", d.EmptyClusters))
	}
	if len(d.SingletonClusters) > 0 {
		d.Warnings = append(d.Warnings, fmt.Sprintf("degenerate cluster: %v singleton", d.SingletonClusters))
	}
	return d
}

// RowSumError returns the largest deviation of a membership row sum from 1.
func RowSumError(membership [][]float64) float64 {
	worst := 0.0
	for _, row := range membership {
		worst = math.Max(worst, math.Abs(floats.Sum(row)-1))
	}
	return worst
}
