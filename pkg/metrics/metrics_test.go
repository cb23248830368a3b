package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	. "github.com/smartystreets/goconvey/convey"
)

// counterValue sums every series of the named family on reg.
func counterValue(reg *prometheus.Registry, name string) float64 {
	families, err := reg.Gather()
	if err != nil {
		panic(err)
	}
	total := 0.0
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				total += float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return total
}

func TestManager(t *testing.T) {
	Convey("Given a manager on its own registry", t, func() {
		reg := prometheus.NewRegistry()
		m := NewManager(
			WithRegistry(reg),
			WithNamespace("test"),
			WithSubsystem("unit"),
			WithLatencyBuckets([]float64{1, 10, 100}),
			WithIterationCap(200),
			WithConstLabels(map[string]string{"site": "marylebone", "": "dropped"}),
		)

		Convey("When fits are recorded", func() {
			m.RecordFit(true, 12, 3*time.Millisecond)
			m.RecordFit(false, 1000, 40*time.Millisecond)
			m.RecordFitError()

			Convey("Then outcomes, iterations and durations are counted", func() {
				So(counterValue(reg, "test_unit_fits_total"), ShouldEqual, 3)
				So(counterValue(reg, "test_unit_fit_iterations"), ShouldEqual, 2)
				So(counterValue(reg, "test_unit_fit_duration_milliseconds"), ShouldEqual, 2)
			})
		})

		Convey("When a fit is recorded under an iteration cap", func() {
			m.RecordFit(true, 12, time.Millisecond)
			families, err := reg.Gather()
			So(err, ShouldBeNil)

			var hist *dto.Metric
			for _, mf := range families {
				if mf.GetName() == "test_unit_fit_iterations" {
					hist = mf.GetMetric()[0]
				}
			}
			So(hist, ShouldNotBeNil)

			Convey("Then buckets stop at the cap", func() {
				buckets := hist.GetHistogram().GetBucket()
				So(buckets, ShouldHaveLength, 10)
				So(buckets[len(buckets)-1].GetUpperBound(), ShouldAlmostEqual, 200, 1e-9)
			})

			Convey("And only the named label is attached", func() {
				So(hist.GetLabel(), ShouldHaveLength, 1)
				So(hist.GetLabel()[0].GetName(), ShouldEqual, "site")
				So(hist.GetLabel()[0].GetValue(), ShouldEqual, "marylebone")
			})
		})

		Convey("When a scan is recorded", func() {
			m.RecordSelection(map[int]float64{2: 0.4, 3: 0.8}, time.Second)
			m.RecordDegenerate("fit", 2)
			m.RecordDegenerate("profile", 0)

			Convey("Then one gauge per k holds its score", func() {
				So(counterValue(reg, "test_unit_selection_scans_total"), ShouldEqual, 1)
				So(counterValue(reg, "test_unit_validity_score"), ShouldAlmostEqual, 1.2, 1e-12)
				So(counterValue(reg, "test_unit_degenerate_clusters_total"), ShouldEqual, 2)
			})
		})
	})

	Convey("Given a disabled manager", t, func() {
		reg := prometheus.NewRegistry()
		m := NewManager(WithRegistry(reg), WithMetricsEnabled(false))
		m.RecordFit(true, 3, time.Millisecond)
		m.RecordSelection(map[int]float64{2: 1}, time.Millisecond)

		Convey("Nothing is observed", func() {
			So(counterValue(reg, "pmsource_fcm_fits_total"), ShouldEqual, 0)
			So(counterValue(reg, "pmsource_fcm_selection_scans_total"), ShouldEqual, 0)
		})
	})
}

func TestGlobalHelpers(t *testing.T) {
	Convey("Given the global registry", t, func() {
		reg := GetRegistry()
		So(reg, ShouldNotBeNil)

		Convey("Queue and worker helpers move their series", func() {
			before := counterValue(reg, "pmsource_fcm_queue_enqueue_total")
			RecordQueueEnqueue()
			RecordQueueEnqueue()
			So(counterValue(reg, "pmsource_fcm_queue_enqueue_total"), ShouldEqual, before+2)

			UpdateQueueCapacity(64)
			So(counterValue(reg, "pmsource_fcm_queue_capacity"), ShouldEqual, 64)
			UpdateQueueSize(5)
			So(counterValue(reg, "pmsource_fcm_queue_size"), ShouldEqual, 5)
			UpdateWorkerCount(4)
			So(counterValue(reg, "pmsource_fcm_worker_count"), ShouldEqual, 4)
		})

		Convey("System sampling fills its gauges", func() {
			UpdateSystemMetrics()
			So(counterValue(reg, "pmsource_system_goroutines"), ShouldBeGreaterThan, 0)
			So(counterValue(reg, "pmsource_system_memory_bytes"), ShouldBeGreaterThan, 0)
		})

		Convey("The remaining helpers do not panic", func() {
			So(func() {
				RecordFit(true, 5, time.Millisecond)
				RecordFitError()
				RecordDegenerate("profile", 1)
				RecordSelection(map[int]float64{2: 0.5}, time.Millisecond)
				UpdateChosenK(3)
				RecordAnalysis("done")
				RecordAnalysisDuplicate()
				UpdateStoreRecords(10)
				RecordQueueDequeue()
				RecordQueueEnqueueError()
				AddWorkerActive(1)
				AddWorkerActive(-1)
				RecordWorkerProcessingLatency(12)
				RecordWorkerError()
				RecordHTTPRequest("/analyses", "POST", "202")
				RecordHTTPRequestDuration("/analyses", "POST", "202", 3.5)
				RecordErrorByComponent("worker", "invalid_input")
			}, ShouldNotPanic)
		})
	})
}
