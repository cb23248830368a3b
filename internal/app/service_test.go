package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	service "github.com/t0270293/uk-source-attribution-fcm/internal/app"
	"github.com/t0270293/uk-source-attribution-fcm/internal/adapters/repository"
	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/analysis"
	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/model"
	"github.com/t0270293/uk-source-attribution-fcm/internal/synthetic"
	"github.com/t0270293/uk-source-attribution-fcm/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func blobRequest(id string) analysis.Request {
	elements, events, _, err := synthetic.Blobs(
		[][]float64{{9, 1, 1}, {1, 9, 1}, {1, 1, 9}},
		synthetic.WithSeed(5),
		synthetic.WithElements("Cl", "Fe", "Zn"),
	)
	if err != nil {
		panic(err)
	}
	return analysis.Request{ID: id, Elements: elements, Events: events, Params: analysis.Params{KMax: 5}}
}

func TestPipeline_Analyze(t *testing.T) {
	Convey("Given a pipeline", t, func() {
		p := service.NewPipeline(nil)
		ctx := context.Background()

		Convey("When no run id is given", func() {
			rep, err := p.Analyze(ctx, "", blobRequest("req"))
			So(err, ShouldBeNil)

			Convey("Then a uuid and a timestamp are stamped", func() {
				_, perr := uuid.Parse(rep.RunID)
				So(perr, ShouldBeNil)
				So(rep.CreatedAt.IsZero(), ShouldBeFalse)
				So(rep.CreatedAt.Location(), ShouldEqual, time.UTC)
				So(rep.ChosenK, ShouldEqual, 3)
			})
		})

		Convey("When a run id is given", func() {
			rep, err := p.Analyze(ctx, "run-7", blobRequest("req"))
			So(err, ShouldBeNil)
			So(rep.RunID, ShouldEqual, "run-7")
		})

		Convey("When the request is invalid", func() {
			req := blobRequest("req")
			req.Params.Metric = "chebyshev"
			_, err := p.Analyze(ctx, "", req)
			So(errors.Is(err, model.ErrInvalidInput), ShouldBeTrue)
		})

		Convey("When the context is already cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := p.Analyze(cctx, "", blobRequest("req"))
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
		})
	})
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := service.New(
			service.WithWorkerCount(2),
			service.WithQueueSize(16),
			service.WithDedupeSize(100),
			service.WithStoreSize(100),
		)
		defer svc.Stop()
		ctx := context.Background()

		Convey("When it is not started", func() {
			_, _, err := svc.Submit(ctx, blobRequest("a"))
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			_, err = svc.Report(ctx, "x")
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			So(svc.GetStats()["started"], ShouldEqual, false)
		})

		Convey("When it is started twice", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)

			stats := svc.GetStats()
			So(stats["started"], ShouldEqual, true)
			So(stats["workerCount"], ShouldEqual, 2)
			So(stats["queueLength"], ShouldEqual, 0)
		})

		Convey("When stopped twice", func() {
			So(svc.Start(ctx), ShouldBeNil)
			svc.Stop()
			svc.Stop()
			So(svc.GetStats()["started"], ShouldEqual, false)
		})
	})
}

func TestService_Submit(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc := service.New(service.WithWorkerCount(1))
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When the request is malformed", func() {
			req := blobRequest("bad")
			req.Elements = []string{"Cl"}
			_, _, err := svc.Submit(ctx, req)

			Convey("Then it is rejected before queueing", func() {
				So(errors.Is(err, model.ErrInvalidInput), ShouldBeTrue)
				So(svc.GetStats()["records"], ShouldEqual, 0)
			})

			Convey("And the id stays free", func() {
				_, dup, err := svc.Submit(ctx, blobRequest("bad"))
				So(err, ShouldBeNil)
				So(dup, ShouldBeFalse)
			})
		})

		Convey("When the same request id is submitted twice", func() {
			first, dup1, err1 := svc.Submit(ctx, blobRequest("same"))
			second, dup2, err2 := svc.Submit(ctx, blobRequest("same"))

			Convey("Then the second maps to the first run", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(dup1, ShouldBeFalse)
				So(dup2, ShouldBeTrue)
				So(second, ShouldEqual, first)
			})
		})

		Convey("When requests carry no id", func() {
			a, _, err := svc.Submit(ctx, blobRequest(""))
			So(err, ShouldBeNil)
			b, dup, err := svc.Submit(ctx, blobRequest(""))
			So(err, ShouldBeNil)
			So(dup, ShouldBeFalse)
			So(a, ShouldNotEqual, b)
		})

		Convey("When a run is unknown", func() {
			_, err := svc.Report(ctx, "nope")
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestService_Backpressure(t *testing.T) {
	Convey("Given a service with one worker and one queue slot", t, func() {
		svc := service.New(service.WithWorkerCount(1), service.WithQueueSize(1))
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When requests arrive faster than they run", func() {
			var rejected []string
			accepted := 0
			for i := 0; i < 50; i++ {
				id := fmt.Sprintf("burst-%d", i)
				_, _, err := svc.Submit(ctx, blobRequest(id))
				switch {
				case err == nil:
					accepted++
				case errors.Is(err, service.ErrBackpressure):
					rejected = append(rejected, id)
				default:
					So(err, ShouldBeNil)
				}
			}

			Convey("Then some are rejected and their ids released", func() {
				So(rejected, ShouldNotBeEmpty)
				So(svc.GetStats()["requestIDs"], ShouldEqual, int64(accepted))
			})
		})
	})
}
