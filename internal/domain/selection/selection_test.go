package selection_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/distance"
	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/fuzzy"
	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/model"
	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/selection"
	"github.com/t0270293/uk-source-attribution-fcm/internal/synthetic"
	. "github.com/smartystreets/goconvey/convey"
)

func threeBlobs() *model.FeatureMatrix {
	elements, events, _, err := synthetic.Blobs([][]float64{{0, 0}, {10, 10}, {0, 10}}, synthetic.WithSeed(3))
	if err != nil {
		panic(err)
	}
	fm, err := model.NewFeatureMatrix(elements, events)
	if err != nil {
		panic(err)
	}
	return fm
}

func line(xs ...float64) *model.FeatureMatrix {
	events := make([]model.Event, len(xs))
	base := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, x := range xs {
		events[i] = model.Event{Timestamp: base.Add(time.Duration(i) * time.Minute), Values: []float64{x}}
	}
	fm, err := model.NewFeatureMatrix([]string{"Pb"}, events)
	if err != nil {
		panic(err)
	}
	return fm
}

func TestSelectK(t *testing.T) {
	Convey("Given three well-separated blobs", t, func() {
		fm := threeBlobs()
		p, err := fuzzy.New(fuzzy.WithSeed(42))
		So(err, ShouldBeNil)

		Convey("When scanning k from 2 to 6", func() {
			curve, err := selection.SelectK(context.Background(), fm, selection.KRange{Min: 2, Max: 6}, p)
			So(err, ShouldBeNil)

			Convey("Then three clusters score best", func() {
				So(curve.BestK, ShouldEqual, 3)
				So(curve.Metric, ShouldEqual, distance.Manhattan)
			})

			Convey("And every candidate is scored in order", func() {
				So(len(curve.Scores), ShouldEqual, 5)
				for i, s := range curve.Scores {
					So(s.K, ShouldEqual, i+2)
					So(s.Score, ShouldBeBetweenOrEqual, -1, 1)
					So(s.Score, ShouldBeLessThanOrEqualTo, curve.BestScore)
				}
				best, ok := curve.ScoreFor(3)
				So(ok, ShouldBeTrue)
				So(best, ShouldEqual, curve.BestScore)
				_, ok = curve.ScoreFor(7)
				So(ok, ShouldBeFalse)
				So(curve.ByK(), ShouldHaveLength, 5)
			})

			Convey("And the scan does not depend on parallelism", func() {
				serial, err := selection.SelectK(context.Background(), fm, selection.KRange{Min: 2, Max: 6}, p, selection.WithParallelism(1))
				So(err, ShouldBeNil)
				So(serial.Scores, ShouldResemble, curve.Scores)
			})
		})

		Convey("When the range exceeds what the events support", func() {
			_, err := selection.SelectK(context.Background(), line(1, 2, 3, 4, 5, 6), selection.KRange{Min: 2, Max: 4}, p)
			So(errors.Is(err, model.ErrInvalidInput), ShouldBeTrue)
		})

		Convey("When the range is malformed", func() {
			for _, r := range []selection.KRange{{Min: 1, Max: 3}, {Min: 4, Max: 3}} {
				_, err := selection.SelectK(context.Background(), fm, r, p)
				So(errors.Is(err, model.ErrInvalidInput), ShouldBeTrue)
			}
		})

		Convey("When the context is already cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_, err := selection.SelectK(ctx, fm, selection.KRange{Min: 2, Max: 4}, p)
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
		})
	})
}

func TestSilhouette(t *testing.T) {
	Convey("Given points on a line", t, func() {
		fm := line(0, 1, 10)

		Convey("A singleton cluster member scores zero", func() {
			s, err := selection.Silhouette(fm, []int{0, 0, 1}, distance.Manhattan)
			So(err, ShouldBeNil)
			So(s, ShouldAlmostEqual, (0.9+8.0/9)/3, 1e-12)
		})

		Convey("A partition using one cluster gets the lower bound", func() {
			s, err := selection.Silhouette(fm, []int{1, 1, 1}, distance.Manhattan)
			So(err, ShouldBeNil)
			So(s, ShouldEqual, -1)
		})

		Convey("Identical points within a cluster score zero instead of NaN", func() {
			s, err := selection.Silhouette(line(5, 5, 5, 5), []int{0, 0, 1, 1}, distance.Euclidean)
			So(err, ShouldBeNil)
			So(s, ShouldEqual, 0)
		})

		Convey("Mismatched labels are rejected", func() {
			_, err := selection.Silhouette(fm, []int{0, 1}, distance.Manhattan)
			So(errors.Is(err, model.ErrInvalidInput), ShouldBeTrue)
			_, err = selection.Silhouette(fm, []int{0, -1, 1}, distance.Manhattan)
			So(errors.Is(err, model.ErrInvalidInput), ShouldBeTrue)
		})
	})
}
