// Package profile turns a fuzzy partition into per-cluster elemental source
// profiles.
//
// A cluster's profile is built from the events whose hard label is that
// cluster. Each member's concentrations are scaled by its membership in the
// cluster and averaged. Every element is then min-max scaled across the
// clusters that have members, and the scaled values of one cluster are
// divided by their sum to give contribution fractions.
package profile

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/fuzzy"
	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/model"
)

// RowSumTolerance bounds how far a membership row may stray from 1.
const RowSumTolerance = 1e-6

// Share is one element of a cluster profile.
type Share struct {
	Element      string  `json:"element" yaml:"element"`
	WeightedMean float64 `json:"weighted_mean" yaml:"weighted_mean"`
	Contribution float64 `json:"contribution" yaml:"contribution"`
}

// Cluster is the profile of one cluster, with shares in element order.
type Cluster struct {
	ID      int     `json:"id" yaml:"id"`
	Members int     `json:"members" yaml:"members"`
	Shares  []Share `json:"shares" yaml:"shares"`
}

// Diagnostics lists clusters that needed a special case.
type Diagnostics struct {
	EmptyClusters     []int `json:"empty_clusters,omitempty" yaml:"empty_clusters,omitempty"`
	SingletonClusters []int `json:"singleton_clusters,omitempty" yaml:"singleton_clusters,omitempty"`
	// RawShareClusters had no element above the cross-cluster minimum, so
	// their contributions are shares of the unscaled weighted means.
	RawShareClusters []int `json:"raw_share_clusters,omitempty" yaml:"raw_share_clusters,omitempty"`
	// ZeroMassClusters have members but no positive weighted mean at all.
	ZeroMassClusters []int    `json:"zero_mass_clusters,omitempty" yaml:"zero_mass_clusters,omitempty"`
	Warnings         []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// Table is the profile of every cluster of one partition.
type Table struct {
	K           int         `json:"k" yaml:"k"`
	Elements    []string    `json:"elements" yaml:"elements"`
	Clusters    []Cluster   `json:"clusters" yaml:"clusters"`
	Diagnostics Diagnostics `json:"diagnostics" yaml:"diagnostics"`
}

// Contribution returns the contribution fraction of element in cluster c.
func (t *Table) Contribution(c int, element string) (float64, bool) {
	if c < 0 || c >= len(t.Clusters) {
		return 0, false
	}
	for _, s := range t.Clusters[c].Shares {
		if s.Element == element {
			return s.Contribution, true
		}
	}
	return 0, false
}

// Contributions returns the contribution fractions of cluster c in element
// order.
func (t *Table) Contributions(c int) []float64 {
	out := make([]float64, len(t.Clusters[c].Shares))
	for j, s := range t.Clusters[c].Shares {
		out[j] = s.Contribution
	}
	return out
}

// Build profiles the raw values of fm under a k-cluster partition. The
// result depends only on its arguments.
func Build(fm *model.FeatureMatrix, membership [][]float64, labels []int, k int) (*Table, error) {
	if err := validate(fm, membership, labels, k); err != nil {
		return nil, err
	}
	n, d := fm.Rows(), fm.Cols()

	sizes := make([]int, k)
	means := make([][]float64, k)
	for c := range means {
		means[c] = make([]float64, d)
	}
	for i := 0; i < n; i++ {
		c := labels[i]
		sizes[c]++
		floats.AddScaled(means[c], membership[i][c], fm.RawRow(i))
	}
	for c, size := range sizes {
		if size > 0 {
			floats.Scale(1/float64(size), means[c])
		}
	}

	scaled := minMax(means, sizes)

	t := &Table{K: k, Elements: fm.Elements(), Clusters: make([]Cluster, k)}
	for c := 0; c < k; c++ {
		contrib := make([]float64, d)
		switch {
		case sizes[c] == 0:
			t.Diagnostics.EmptyClusters = append(t.Diagnostics.EmptyClusters, c)
		case shares(scaled[c], contrib):
		case shares(positive(means[c]), contrib):
			t.Diagnostics.RawShareClusters = append(t.Diagnostics.RawShareClusters, c)
		default:
			t.Diagnostics.ZeroMassClusters = append(t.Diagnostics.ZeroMassClusters, c)
		}
		if sizes[c] == 1 {
			t.Diagnostics.SingletonClusters = append(t.Diagnostics.SingletonClusters, c)
		}

		cl := Cluster{ID: c, Members: sizes[c], Shares: make([]Share, d)}
		for j, e := range t.Elements {
			cl.Shares[j] = Share{Element: e, WeightedMean: means[c][j], Contribution: contrib[j]}
		}
		t.Clusters[c] = cl
	}
	t.Diagnostics.Warnings = warnings(t.Diagnostics)
	return t, nil
}

// minMax scales each column of means to [0,1] across the non-empty clusters.
// Columns without spread, and empty clusters, scale to 0.
func minMax(means [][]float64, sizes []int) [][]float64 {
	k, d := len(means), len(means[0])
	out := make([][]float64, k)
	for c := range out {
		out[c] = make([]float64, d)
	}
	for j := 0; j < d; j++ {
		lo, hi := math.Inf(1), math.Inf(-1)
		for c := 0; c < k; c++ {
			if sizes[c] == 0 {
				continue
			}
			lo = math.Min(lo, means[c][j])
			hi = math.Max(hi, means[c][j])
		}
		if !(hi > lo) {
			continue
		}
		for c := 0; c < k; c++ {
			if sizes[c] > 0 {
				out[c][j] = (means[c][j] - lo) / (hi - lo)
			}
		}
	}
	return out
}

// shares writes v/sum(v) into dst and reports whether sum(v) was positive.
func shares(v, dst []float64) bool {
	total := floats.Sum(v)
	if !(total > 0) {
		return false
	}
	floats.ScaleTo(dst, 1/total, v)
	return true
}

func positive(v []float64) []float64 {
	out := make([]float64, len(v))
	for j, x := range v {
		out[j] = math.Max(x, 0)
	}
	return out
}

func validate(fm *model.FeatureMatrix, membership [][]float64, labels []int, k int) error {
	if fm == nil {
		return fmt.Errorf("%w: feature matrix is nil", model.ErrInvalidInput)
	}
	if k < 1 {
		return fmt.Errorf("%w: k must be >= 1, got %d", model.ErrInvalidInput, k)
	}
	n := fm.Rows()
	if len(membership) != n || len(labels) != n {
		return fmt.Errorf("%w: %d events but %d membership rows and %d labels", model.ErrInvalidInput, n, len(membership), len(labels))
	}
	for i, row := range membership {
		if len(row) != k {
			return fmt.Errorf("%w: membership row %d has %d columns, want %d", model.ErrInvalidInput, i, len(row), k)
		}
		for c, u := range row {
			if !(u >= 0) || math.IsInf(u, 0) {
				return fmt.Errorf("%w: membership row %d column %d is %v", model.ErrInvalidInput, i, c, u)
			}
		}
		if l := labels[i]; l < 0 || l >= k {
			return fmt.Errorf("%w: label %d of row %d outside [0,%d)", model.ErrInvalidInput, l, i, k)
		}
	}
	if e := fuzzy.RowSumError(membership); e > RowSumTolerance {
		return fmt.Errorf("%w: membership rows deviate from 1 by up to %g", model.ErrInvalidInput, e)
	}
	return nil
}

func warnings(d Diagnostics) []string {
	var out []string
	if len(d.EmptyClusters) > 0 {
		out = append(out, fmt.Sprintf("degenerate cluster: %v have no members", d.EmptyClusters))
	}
	if len(d.SingletonClusters) > 0 {
		out = append(out, fmt.Sprintf("degenerate cluster: %v have a single member", d.SingletonClusters))
	}
	if len(d.RawShareClusters) > 0 {
		out = append(out, fmt.Sprintf("clusters %v are at the minimum of every element; contributions use unscaled means", d.RawShareClusters))
	}
	if len(d.ZeroMassClusters) > 0 {
		out = append(out, fmt.Sprintf("clusters %v have no positive mass; contributions are zero", d.ZeroMassClusters))
	}
	return out
}
