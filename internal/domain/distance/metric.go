// Package distance defines the metrics shared by the partitioner and the
// validity score. A single Metric value must drive both, otherwise the
// score does not describe the partition it is scoring.
package distance

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/model"
)

// Metric names a distance function over equal-length vectors.
type Metric string

const (
	// Manhattan is the sum of absolute per-element differences.
	Manhattan Metric = "manhattan"
	// Euclidean is the L2 norm of the difference.
	Euclidean Metric = "euclidean"

	// Default is used when no metric is configured.
	Default = Manhattan
)

// Parse resolves a metric name, case-insensitively. Empty means Default.
// "cityblock" is accepted as an alias of manhattan.
func Parse(name string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return Default, nil
	case "manhattan", "cityblock", "l1":
		return Manhattan, nil
	case "euclidean", "l2":
		return Euclidean, nil
	default:
		return "", fmt.Errorf("%w: unknown distance metric %q", model.ErrInvalidInput, name)
	}
}

// Validate reports whether m is a known metric.
func (m Metric) Validate() error {
	switch m {
	case Manhattan, Euclidean:
		return nil
	default:
		return fmt.Errorf("%w: unknown distance metric %q", model.ErrInvalidInput, string(m))
	}
}

// Distance between a and b. Panics on length mismatch, which the feature
// matrix rules out.
func (m Metric) Distance(a, b []float64) float64 {
	switch m {
	case Euclidean:
		return floats.Distance(a, b, 2)
	default:
		return floats.Distance(a, b, 1)
	}
}

func (m Metric) String() string { return string(m) }
