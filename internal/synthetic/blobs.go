// Package synthetic generates reproducible event sets with known cluster
// structure, used by tests and by the generate command.
package synthetic

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/model"
)

// Default generator constants.
const (
	defaultPerBlob  = 20
	defaultSpread   = 0.5
	defaultSeed     = 7
	defaultInterval = time.Hour
)

// Option applies a configuration option to the generator.
type Option func(*generator)

type generator struct {
	perBlob  int
	spread   float64
	seed     int64
	start    time.Time
	interval time.Duration
	elements []string
}

// WithPerBlob sets the number of events drawn around each center.
func WithPerBlob(n int) Option {
	return func(g *generator) {
		if n > 0 {
			g.perBlob = n
		}
	}
}

// WithSpread sets the standard deviation of every coordinate.
func WithSpread(s float64) Option {
	return func(g *generator) {
		if s >= 0 {
			g.spread = s
		}
	}
}

// WithSeed sets the random seed.
func WithSeed(seed int64) Option {
	return func(g *generator) {
		g.seed = seed
	}
}

// WithElements names the generated columns. Defaults to E0, E1, ...
func WithElements(names ...string) Option {
	return func(g *generator) {
		g.elements = names
	}
}

// WithStart sets the timestamp of the first event.
func WithStart(t time.Time) Option {
	return func(g *generator) {
		g.start = t
	}
}

// Blobs draws Gaussian-like blobs around the given centers. Events are
// interleaved across blobs and stamped at a fixed interval; the returned
// truth slice holds the blob index of every event.
func Blobs(centers [][]float64, opts ...Option) (elements []string, events []model.Event, truth []int, err error) {
	if len(centers) == 0 {
		return nil, nil, nil, fmt.Errorf("%w: no blob centers", model.ErrInvalidInput)
	}
	g := &generator{
		perBlob:  defaultPerBlob,
		spread:   defaultSpread,
		seed:     defaultSeed,
		start:    time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		interval: defaultInterval,
	}
	for _, opt := range opts {
		opt(g)
	}

	dim := len(centers[0])
	for b, c := range centers {
		if len(c) != dim {
			return nil, nil, nil, fmt.Errorf("%w: center %d has %d coordinates, want %d", model.ErrInvalidInput, b, len(c), dim)
		}
	}
	elements = g.elements
	if len(elements) == 0 {
		elements = make([]string, dim)
		for j := range elements {
			elements[j] = fmt.Sprintf("E%d", j)
		}
	}
	if len(elements) != dim {
		return nil, nil, nil, fmt.Errorf("%w: %d element names for %d coordinates", model.ErrInvalidInput, len(elements), dim)
	}

	rng := rand.New(rand.NewSource(g.seed)) //nolint:gosec // deterministic test data
	total := g.perBlob * len(centers)
	events = make([]model.Event, 0, total)
	truth = make([]int, 0, total)
	for i := 0; i < total; i++ {
		b := i % len(centers)
		v := make([]float64, dim)
		for j := range v {
			v[j] = centers[b][j] + rng.NormFloat64()*g.spread
		}
		events = append(events, model.Event{
			Timestamp: g.start.Add(time.Duration(i) * g.interval),
			Values:    v,
		})
		truth = append(truth, b)
	}
	return elements, events, truth, nil
}
