package fuzzy

import (
	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/distance"
)

// Default partitioner configuration constants.
const (
	DefaultFuzziness = 2.0
	DefaultMaxIter   = 1000
	DefaultTolerance = 1e-5
	DefaultSeed      = 42
)

// Option applies a configuration option to the Partitioner.
type Option func(*Partitioner)

// WithFuzziness sets the fuzziness exponent m. Values must exceed 1.
func WithFuzziness(m float64) Option {
	return func(p *Partitioner) {
		p.fuzziness = m
	}
}

// WithMaxIter caps the number of alternating-optimization iterations.
func WithMaxIter(n int) Option {
	return func(p *Partitioner) {
		p.maxIter = n
	}
}

// WithTolerance sets the membership-change threshold that stops the loop.
func WithTolerance(tol float64) Option {
	return func(p *Partitioner) {
		p.tolerance = tol
	}
}

// WithMetric sets the distance metric used for memberships and the objective.
func WithMetric(m distance.Metric) Option {
	return func(p *Partitioner) {
		if m != "" {
			p.metric = m
		}
	}
}

// WithSeed sets the seed of the center initialization.
func WithSeed(seed int64) Option {
	return func(p *Partitioner) {
		p.seed = seed
	}
}

// WithStrict turns hitting the iteration cap into ErrNotConverged instead
// of a warning on the result.
func WithStrict(strict bool) Option {
	return func(p *Partitioner) {
		p.strict = strict
	}
}

// WithInit sets the center initialization strategy.
func WithInit(in Init) Option {
	return func(p *Partitioner) {
		p.init = in
	}
}
