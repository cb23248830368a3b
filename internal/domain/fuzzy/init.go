package fuzzy

import (
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/distance"
	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/model"
)

// Init selects the starting centers among distinct events.
type Init int

const (
	// InitFarthest draws the first center at random and then repeatedly takes
	// the distinct event farthest from every chosen center.
	InitFarthest Init = iota
	// InitRandom draws k distinct events uniformly.
	InitRandom
	// InitPlusPlus draws each next center with probability proportional to
	// its squared distance from the nearest chosen center.
	InitPlusPlus
)

// ParseInit resolves an initialization name. Empty means InitFarthest.
func ParseInit(name string) (Init, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "farthest", "maximin":
		return InitFarthest, nil
	case "random":
		return InitRandom, nil
	case "plusplus", "kmeans++", "++":
		return InitPlusPlus, nil
	default:
		return 0, fmt.Errorf("%w: unknown init %q", model.ErrInvalidInput, name)
	}
}

func (in Init) String() string {
	switch in {
	case InitRandom:
		return "random"
	case InitPlusPlus:
		return "plusplus"
	default:
		return "farthest"
	}
}

// pick returns k row indices taken from candidates. All randomness comes
// from rng.
func (in Init) pick(rng *rand.Rand, fm *model.FeatureMatrix, candidates []int, k int, metric distance.Metric) []int {
	if in == InitRandom {
		perm := rng.Perm(len(candidates))
		out := make([]int, k)
		for j := range out {
			out[j] = candidates[perm[j]]
		}
		return out
	}

	out := []int{candidates[rng.Intn(len(candidates))]}
	nearest := make([]float64, len(candidates))
	for c, i := range candidates {
		nearest[c] = metric.Distance(fm.Row(i), fm.Row(out[0]))
	}
	for len(out) < k {
		next := -1
		if in == InitPlusPlus {
			next = weightedDraw(rng, nearest)
		}
		if next < 0 {
			best := -1.0
			for c, d := range nearest {
				if d > best {
					best, next = d, c
				}
			}
		}
		out = append(out, candidates[next])
		for c, i := range candidates {
			nearest[c] = math.Min(nearest[c], metric.Distance(fm.Row(i), fm.Row(candidates[next])))
		}
	}
	return out
}

// weightedDraw samples an index with probability proportional to d^2.
// It returns -1 when every weight is zero.
func weightedDraw(rng *rand.Rand, d []float64) int {
	total := 0.0
	for _, x := range d {
		total += x * x
	}
	if total == 0 {
		return -1
	}
	r := rng.Float64() * total
	for c, x := range d {
		r -= x * x
		if r < 0 && x > 0 {
			return c
		}
	}
	for c := len(d) - 1; c >= 0; c-- {
		if d[c] > 0 {
			return c
		}
	}
	return -1
}
