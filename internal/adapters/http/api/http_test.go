package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/t0270293/uk-source-attribution-fcm/internal/adapters/http/api"
	"github.com/t0270293/uk-source-attribution-fcm/internal/adapters/mq/queue"
	"github.com/t0270293/uk-source-attribution-fcm/internal/adapters/repository"
	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/analysis"
	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

type mockDeps struct {
	mu        sync.Mutex
	submitted []analysis.Request
	seen      map[string]string
	submitErr error
	records   map[string]repository.Record
}

func newMockDeps() *mockDeps {
	return &mockDeps{seen: map[string]string{}, records: map[string]repository.Record{}}
}

func (m *mockDeps) Submit(_ context.Context, req analysis.Request) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.submitErr != nil {
		return "", false, m.submitErr
	}
	if prev, ok := m.seen[req.ID]; ok {
		return prev, true, nil
	}
	runID := fmt.Sprintf("run-%d", len(m.submitted)+1)
	m.seen[req.ID] = runID
	m.submitted = append(m.submitted, req)
	return runID, false, nil
}

func (m *mockDeps) Report(_ context.Context, runID string) (repository.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[runID]
	if !ok {
		return repository.Record{}, fmt.Errorf("%w: %s", repository.ErrNotFound, runID)
	}
	return rec, nil
}

type mockStats struct{}

func (mockStats) GetStats() map[string]interface{} {
	return map[string]interface{}{"started": true, "queueLength": 2}
}

const jsonBody = `{
  "id": "req-1",
  "elements": ["Cl", "Fe"],
  "events": [
    {"timestamp": "2024-01-01T00:00:00Z", "values": [1, 2]},
    {"timestamp": "2024-01-01T01:00:00Z", "values": [3, 4]}
  ],
  "params": {"clusters": 2, "metric": "euclidean"}
}`

func serve(deps *mockDeps, method, target, contentType, body string) *httptest.ResponseRecorder {
	h := api.NewServer(deps, mockStats{}).Handler()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(rec *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return out
}

func TestSubmitAnalysis(t *testing.T) {
	Convey("Given the API with mock dependencies", t, func() {
		deps := newMockDeps()

		Convey("When a valid JSON request is posted", func() {
			rec := serve(deps, http.MethodPost, "/analyses", "application/json", jsonBody)

			Convey("Then it is accepted with a run id", func() {
				So(rec.Code, ShouldEqual, http.StatusAccepted)
				body := decode(rec)
				So(body["run_id"], ShouldEqual, "run-1")
				So(body["status"], ShouldEqual, "accepted")
				So(body["duplicate"], ShouldEqual, false)
			})

			Convey("And the request reaches the service intact", func() {
				So(deps.submitted, ShouldHaveLength, 1)
				got := deps.submitted[0]
				So(got.ID, ShouldEqual, "req-1")
				So(got.Elements, ShouldResemble, []string{"Cl", "Fe"})
				So(got.Events, ShouldHaveLength, 2)
				So(got.Events[1].Values, ShouldResemble, []float64{3, 4})
				So(got.Params.Clusters, ShouldEqual, 2)
				So(got.Params.Metric, ShouldEqual, "euclidean")
			})

			Convey("And a repeat returns 200 with the same run", func() {
				again := serve(deps, http.MethodPost, "/analyses", "application/json", jsonBody)
				So(again.Code, ShouldEqual, http.StatusOK)
				body := decode(again)
				So(body["run_id"], ShouldEqual, "run-1")
				So(body["duplicate"], ShouldEqual, true)
			})
		})

		Convey("When a CSV body is posted", func() {
			csv := "timestamp,Cl,Fe,Zn\n2024-01-01T00:00:00Z,1,2,3\n2024-01-01T01:00:00Z,4,5,6\n"
			rec := serve(deps, http.MethodPost, "/analyses?id=csv-1&elements=Fe,Zn&clusters=2&seed=9&fuzziness=1.5", "text/csv", csv)

			So(rec.Code, ShouldEqual, http.StatusAccepted)
			got := deps.submitted[0]
			So(got.ID, ShouldEqual, "csv-1")
			So(got.Elements, ShouldResemble, []string{"Fe", "Zn"})
			So(got.Events[0].Values, ShouldResemble, []float64{2, 3})
			So(got.Params.Clusters, ShouldEqual, 2)
			So(got.Params.Seed, ShouldEqual, 9)
			So(got.Params.Fuzziness, ShouldEqual, 1.5)
		})

		Convey("When a CSV body sets convergence and scaling in the query", func() {
			csv := "timestamp,Cl\n2024-01-01T00:00:00Z,1\n2024-01-01T01:00:00Z,4\n"
			rec := serve(deps, http.MethodPost, "/analyses?tolerance=1e-3&strict=true&skip_normalize=1&k_max=3&max_iter=20", "text/csv", csv)

			So(rec.Code, ShouldEqual, http.StatusAccepted)
			p := deps.submitted[0].Params
			So(p.Tolerance, ShouldEqual, 1e-3)
			So(p.Strict, ShouldBeTrue)
			So(p.SkipNormalize, ShouldBeTrue)
			So(p.KMax, ShouldEqual, 3)
			So(p.MaxIter, ShouldEqual, 20)
		})

		Convey("When the body cannot be decoded", func() {
			cases := map[string][2]string{
				"broken json":    {"application/json", `{"id":`},
				"unknown field":  {"application/json", `{"id":"x","colour":"red"}`},
				"bad csv value":  {"text/csv", "timestamp,Cl\n2024-01-01T00:00:00Z,abc\n"},
				"bad csv header": {"text/csv", "when,Cl\n2024-01-01T00:00:00Z,1\n"},
			}
			for name, c := range cases {
				Convey("Then "+name+" is a bad request", func() {
					rec := serve(deps, http.MethodPost, "/analyses", c[0], c[1])
					So(rec.Code, ShouldEqual, http.StatusBadRequest)
					So(decode(rec)["code"], ShouldEqual, "bad_request")
					So(deps.submitted, ShouldBeEmpty)
				})
			}
		})

		Convey("When a CSV query parameter is malformed", func() {
			for _, query := range []string{"clusters=two", "tolerance=tiny", "strict=maybe", "skip_normalize=2", "seed=x"} {
				rec := serve(deps, http.MethodPost, "/analyses?"+query, "text/csv", "timestamp,Cl\n2024-01-01T00:00:00Z,1\n")
				So(rec.Code, ShouldEqual, http.StatusBadRequest)
			}
			So(deps.submitted, ShouldBeEmpty)
		})

		Convey("When the service rejects the input", func() {
			deps.submitErr = fmt.Errorf("%w: too few events", model.ErrInvalidInput)
			rec := serve(deps, http.MethodPost, "/analyses", "application/json", jsonBody)
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
			So(decode(rec)["message"], ShouldContainSubstring, "too few events")
		})

		Convey("When the queue is full", func() {
			deps.submitErr = fmt.Errorf("busy: %w", queue.ErrFull)
			rec := serve(deps, http.MethodPost, "/analyses", "application/json", jsonBody)
			So(rec.Code, ShouldEqual, http.StatusTooManyRequests)
			So(decode(rec)["code"], ShouldEqual, "backpressure")
		})

		Convey("When the service is unavailable", func() {
			deps.submitErr = errors.New("service not started")
			rec := serve(deps, http.MethodPost, "/analyses", "application/json", jsonBody)
			So(rec.Code, ShouldEqual, http.StatusServiceUnavailable)
		})

		Convey("When the method is wrong", func() {
			rec := serve(deps, http.MethodPut, "/analyses", "application/json", jsonBody)
			So(rec.Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

func TestGetAnalysis(t *testing.T) {
	Convey("Given a stored analysis", t, func() {
		deps := newMockDeps()
		deps.records["run-9"] = repository.Record{
			RunID:  "run-9",
			Status: repository.StatusDone,
			Report: &analysis.Report{RunID: "run-9", ChosenK: 3, KSource: analysis.KSourceSelected},
		}

		Convey("When it is fetched", func() {
			rec := serve(deps, http.MethodGet, "/analyses/run-9", "", "")

			Convey("Then the record is returned", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(rec.Header().Get("Content-Type"), ShouldStartWith, "application/json")
				var got repository.Record
				So(json.Unmarshal(rec.Body.Bytes(), &got), ShouldBeNil)
				So(got.Status, ShouldEqual, repository.StatusDone)
				So(got.Report.ChosenK, ShouldEqual, 3)
			})
		})

		Convey("When an unknown run is fetched", func() {
			rec := serve(deps, http.MethodGet, "/analyses/nope", "", "")
			So(rec.Code, ShouldEqual, http.StatusNotFound)
			So(decode(rec)["code"], ShouldEqual, "not_found")
		})
	})
}

func TestStatsAndHealth(t *testing.T) {
	Convey("Given the API", t, func() {
		deps := newMockDeps()

		Convey("When stats are requested", func() {
			rec := serve(deps, http.MethodGet, "/stats", "", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			body := decode(rec)
			So(body["queueLength"], ShouldEqual, 2)
			So(body["uptimeSeconds"], ShouldBeGreaterThanOrEqualTo, 0)
		})

		Convey("When health is requested after some traffic", func() {
			_ = serve(deps, http.MethodGet, "/analyses/nope", "", "")
			rec := serve(deps, http.MethodGet, "/healthz", "", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldContainSubstring, "http_requests_total")

			Convey("Then the failed lookup is counted under its error code", func() {
				So(rec.Body.String(), ShouldContainSubstring, `errors_by_component_total{component="http_analysis",error_type="not_found"}`)
			})
		})
	})
}

func TestKindErrors(t *testing.T) {
	Convey("Given a wrapped kind error", t, func() {
		cause := errors.New("boom")
		err := api.WrapKind("op", api.ErrBadRequest, cause)

		So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
		So(errors.Is(err, cause), ShouldBeTrue)
		So(err.Error(), ShouldEqual, "op: bad request: boom")

		bare := api.NewKind("op", api.ErrNotFound)
		So(errors.Is(bare, api.ErrNotFound), ShouldBeTrue)
		So(bare.Error(), ShouldEqual, "op: not found")
	})
}
