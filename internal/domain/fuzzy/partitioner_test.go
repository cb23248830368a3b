package fuzzy_test

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/distance"
	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/fuzzy"
	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/model"
	"github.com/t0270293/uk-source-attribution-fcm/internal/synthetic"
	. "github.com/smartystreets/goconvey/convey"
)

func matrix(rows [][]float64) *model.FeatureMatrix {
	events := make([]model.Event, len(rows))
	base := time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, r := range rows {
		events[i] = model.Event{Timestamp: base.Add(time.Duration(i) * time.Hour), Values: r}
	}
	elements := make([]string, len(rows[0]))
	for j := range elements {
		elements[j] = string(rune('A' + j))
	}
	m, err := model.NewFeatureMatrix(elements, events)
	if err != nil {
		panic(err)
	}
	return m
}

func twoBlobs() *model.FeatureMatrix {
	return matrix([][]float64{{0, 0}, {0, 1}, {1, 0}, {10, 10}, {10, 11}, {11, 10}})
}

func uniform(seed int64, n, d int) *model.FeatureMatrix {
	rng := rand.New(rand.NewSource(seed))
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, d)
		for j := range rows[i] {
			rows[i][j] = rng.Float64()
		}
	}
	return matrix(rows)
}

func TestFitTwoBlobs(t *testing.T) {
	Convey("Given six events in two tight groups", t, func() {
		p, err := fuzzy.New(
			fuzzy.WithFuzziness(2),
			fuzzy.WithMetric(distance.Manhattan),
			fuzzy.WithSeed(1),
		)
		So(err, ShouldBeNil)

		Convey("When fitting two clusters", func() {
			res, err := p.Fit(twoBlobs(), 2)
			So(err, ShouldBeNil)

			Convey("Then it converges within 50 iterations", func() {
				So(res.Converged, ShouldBeTrue)
				So(res.Iterations, ShouldBeLessThanOrEqualTo, 50)
				So(res.Diagnostics.Warnings, ShouldBeEmpty)
			})

			Convey("And each center stays inside its group", func() {
				centers := sortedCenters(res)
				for _, x := range centers[0] {
					So(x, ShouldBeBetweenOrEqual, -0.01, 1.01)
				}
				for _, x := range centers[1] {
					So(x, ShouldBeBetweenOrEqual, 9.99, 11.01)
				}
			})

			Convey("And the first three events are labeled apart from the last three", func() {
				l := res.Labels
				So(l[1], ShouldEqual, l[0])
				So(l[2], ShouldEqual, l[0])
				So(l[4], ShouldEqual, l[3])
				So(l[5], ShouldEqual, l[3])
				So(l[3], ShouldNotEqual, l[0])
				So(res.ClusterSizes(), ShouldResemble, []int{3, 3})
			})

			Convey("And memberships are a partition of unity", func() {
				So(fuzzy.RowSumError(res.Membership), ShouldBeLessThan, 1e-9)
				for _, row := range res.Membership {
					for _, u := range row {
						So(u, ShouldBeGreaterThanOrEqualTo, 0)
					}
				}
			})

			Convey("And predicting a center returns full membership in it", func() {
				u, err := res.Predict(res.Centers[1])
				So(err, ShouldBeNil)
				So(u, ShouldResemble, []float64{0, 1})
			})
		})
	})
}

func sortedCenters(res *fuzzy.Result) [][]float64 {
	centers := append([][]float64(nil), res.Centers...)
	sort.Slice(centers, func(a, b int) bool { return centers[a][0] < centers[b][0] })
	return centers
}

func TestFitTwoBlobsEuclidean(t *testing.T) {
	Convey("Given the two groups under Euclidean distance", t, func() {
		for _, seed := range []int64{1, 2, 3, 4} {
			p, err := fuzzy.New(fuzzy.WithMetric(distance.Euclidean), fuzzy.WithSeed(seed))
			So(err, ShouldBeNil)
			res, err := p.Fit(twoBlobs(), 2)
			So(err, ShouldBeNil)

			Convey(fmt.Sprintf("The centers sit on each group's mean (seed %d)", seed), func() {
				So(res.Converged, ShouldBeTrue)
				centers := sortedCenters(res)
				for _, x := range centers[0] {
					So(x, ShouldAlmostEqual, 1.0/3, 0.05)
				}
				for _, x := range centers[1] {
					So(x, ShouldAlmostEqual, 31.0/3, 0.05)
				}
			})
		}
	})
}

func nonIncreasing(history []float64) bool {
	for i := 1; i < len(history); i++ {
		prev := history[i-1]
		if history[i] > prev+1e-9*math.Max(1, prev) {
			return false
		}
	}
	return true
}

func TestFitProperties(t *testing.T) {
	Convey("Given random and clustered inputs", t, func() {
		_, events, _, err := synthetic.Blobs([][]float64{{0, 0, 0}, {5, 5, 0}, {0, 5, 5}}, synthetic.WithSeed(11))
		So(err, ShouldBeNil)
		blobs, err := model.NewFeatureMatrix([]string{"Fe", "Zn", "Cu"}, events)
		So(err, ShouldBeNil)
		inputs := map[string]*model.FeatureMatrix{
			"blobs":   blobs,
			"uniform": uniform(5, 40, 4),
		}

		for name, fm := range inputs {
			for _, metric := range []distance.Metric{distance.Manhattan, distance.Euclidean} {
				for _, seed := range []int64{1, 2, 3} {
					p, err := fuzzy.New(fuzzy.WithMetric(metric), fuzzy.WithSeed(seed), fuzzy.WithTolerance(1e-7))
					So(err, ShouldBeNil)
					res, err := p.Fit(fm, 3)
					So(err, ShouldBeNil)
					tag := fmt.Sprintf("%s, %s, seed %d", name, metric, seed)

					Convey("The objective never increases ("+tag+")", func() {
						So(nonIncreasing(res.History), ShouldBeTrue)
						So(res.Objective, ShouldEqual, res.History[len(res.History)-1])
					})

					Convey("Rows sum to one ("+tag+")", func() {
						So(fuzzy.RowSumError(res.Membership), ShouldBeLessThan, 1e-9)
					})

					Convey("The same seed reproduces the fit ("+tag+")", func() {
						again, err := p.Fit(fm, 3)
						So(err, ShouldBeNil)
						So(again.Centers, ShouldResemble, res.Centers)
						So(again.Membership, ShouldResemble, res.Membership)
						So(again.History, ShouldResemble, res.History)
					})
				}
			}
		}

		Convey("Manhattan objectives never increase across seeds and cluster counts", func() {
			var rising []string
			for seed := int64(0); seed < 60; seed++ {
				fm := uniform(seed, 40, 4)
				for k := 2; k <= 4; k++ {
					for _, in := range []fuzzy.Init{fuzzy.InitFarthest, fuzzy.InitRandom, fuzzy.InitPlusPlus} {
						p, err := fuzzy.New(fuzzy.WithSeed(seed), fuzzy.WithInit(in))
						So(err, ShouldBeNil)
						res, err := p.Fit(fm, k)
						So(err, ShouldBeNil)
						if !nonIncreasing(res.History) {
							rising = append(rising, fmt.Sprintf("seed %d k %d init %s", seed, k, in))
						}
					}
				}
			}
			So(rising, ShouldBeEmpty)
		})

		Convey("Manhattan fits also keep rows normalized", func() {
			p, err := fuzzy.New(fuzzy.WithSeed(9))
			So(err, ShouldBeNil)
			res, err := p.Fit(uniform(8, 30, 5), 4)
			So(err, ShouldBeNil)
			So(res.Metric, ShouldEqual, distance.Manhattan)
			So(fuzzy.RowSumError(res.Membership), ShouldBeLessThan, 1e-9)
		})
	})
}

func TestFitEdgeCases(t *testing.T) {
	Convey("Given the two-group matrix", t, func() {
		fm := twoBlobs()

		Convey("When the iteration cap is hit without strict mode", func() {
			p, err := fuzzy.New(fuzzy.WithMaxIter(1))
			So(err, ShouldBeNil)
			res, err := p.Fit(fm, 2)

			Convey("Then a usable result carries a warning", func() {
				So(err, ShouldBeNil)
				So(res.Converged, ShouldBeFalse)
				So(res.Iterations, ShouldEqual, 1)
				So(res.Diagnostics.Warnings, ShouldNotBeEmpty)
			})

			Convey("And events coincident with an initial center belong to it entirely", func() {
				oneHot := 0
				for _, row := range res.Membership {
					for _, u := range row {
						if u == 1 {
							oneHot++
						}
					}
				}
				So(oneHot, ShouldBeGreaterThanOrEqualTo, 2)
			})
		})

		Convey("When the iteration cap is hit in strict mode", func() {
			p, err := fuzzy.New(fuzzy.WithMaxIter(1), fuzzy.WithStrict(true))
			So(err, ShouldBeNil)
			_, err = p.Fit(fm, 2)
			So(errors.Is(err, fuzzy.ErrNotConverged), ShouldBeTrue)
		})

		Convey("When k exceeds the distinct events", func() {
			p, _ := fuzzy.New()
			dup := matrix([][]float64{{1, 1}, {1, 1}, {2, 2}})
			_, err := p.Fit(dup, 3)
			So(errors.Is(err, model.ErrInvalidInput), ShouldBeTrue)
		})

		Convey("When k is below two", func() {
			p, _ := fuzzy.New()
			_, err := p.Fit(fm, 1)
			So(errors.Is(err, model.ErrInvalidInput), ShouldBeTrue)
		})

		Convey("When the matrix is nil", func() {
			p, _ := fuzzy.New()
			_, err := p.Fit(nil, 2)
			So(errors.Is(err, model.ErrInvalidInput), ShouldBeTrue)
		})

		Convey("When parameters are out of range", func() {
			for _, opt := range []fuzzy.Option{
				fuzzy.WithFuzziness(1),
				fuzzy.WithFuzziness(math.NaN()),
				fuzzy.WithMaxIter(0),
				fuzzy.WithTolerance(0),
				fuzzy.WithMetric("cosine"),
			} {
				_, err := fuzzy.New(opt)
				So(errors.Is(err, model.ErrInvalidInput), ShouldBeTrue)
			}
		})
	})
}

func TestHardLabels(t *testing.T) {
	Convey("Given membership rows with ties", t, func() {
		labels := fuzzy.HardLabels([][]float64{
			{0.5, 0.5},
			{0.2, 0.8},
			{0.4, 0.3, 0.3},
			{0.3, 0.35, 0.35},
		})

		Convey("Then the lowest index wins each tie", func() {
			So(labels, ShouldResemble, []int{0, 1, 0, 1})
		})
	})

	Convey("Given diagnostics", t, func() {
		So(fuzzy.Diagnostics{}.Degenerate(), ShouldBeFalse)
		So(fuzzy.Diagnostics{SingletonClusters: []int{2}}.Degenerate(), ShouldBeTrue)
	})
}

func TestInit(t *testing.T) {
	Convey("Given every initialization strategy", t, func() {
		for _, name := range []string{"farthest", "random", "plusplus"} {
			in, err := fuzzy.ParseInit(name)
			So(err, ShouldBeNil)
			So(in.String(), ShouldEqual, name)

			p, err := fuzzy.New(fuzzy.WithInit(in), fuzzy.WithSeed(4))
			So(err, ShouldBeNil)
			res, err := p.Fit(uniform(12, 25, 3), 3)
			So(err, ShouldBeNil)
			So(fuzzy.RowSumError(res.Membership), ShouldBeLessThan, 1e-9)
		}

		Convey("Farthest-first keeps separated groups apart for any seed", func() {
			for seed := int64(0); seed < 10; seed++ {
				p, err := fuzzy.New(fuzzy.WithSeed(seed))
				So(err, ShouldBeNil)
				res, err := p.Fit(twoBlobs(), 2)
				So(err, ShouldBeNil)
				So(res.Labels[0], ShouldNotEqual, res.Labels[3])
			}
		})

		Convey("Unknown names are rejected", func() {
			_, err := fuzzy.ParseInit("spectral")
			So(errors.Is(err, model.ErrInvalidInput), ShouldBeTrue)
			_, err = fuzzy.New(fuzzy.WithInit(fuzzy.Init(9)))
			So(errors.Is(err, model.ErrInvalidInput), ShouldBeTrue)
		})
	})
}
