package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/t0270293/uk-source-attribution-fcm/internal/adapters/csvsource"
	"github.com/t0270293/uk-source-attribution-fcm/internal/adapters/mq/queue"
	"github.com/t0270293/uk-source-attribution-fcm/internal/adapters/repository"
	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/analysis"
	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/model"
)

const maxBodyBytes = 32 << 20

type submitResponse struct {
	RunID     string `json:"run_id"`
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

// AnalysesHandler serves analysis submission and lookup.
type AnalysesHandler struct {
	deps Dependencies
}

// NewAnalysesHandler creates a new analyses handler.
func NewAnalysesHandler(deps Dependencies) *AnalysesHandler {
	return &AnalysesHandler{deps: deps}
}

// HandleSubmit handles POST /analyses. The body is either a JSON request
// or, with Content-Type text/csv, a CSV table whose id and parameters come
// from the query string.
func (h *AnalysesHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	const op = "api.submit_analysis"

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	req, err := decodeRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, WrapKind(op, ErrBadRequest, err))
		return
	}

	runID, duplicate, err := h.deps.Submit(r.Context(), req)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, codeBadRequest, WrapKind(op, ErrBadRequest, err))
		return
	case errors.Is(err, queue.ErrFull), errors.Is(err, queue.ErrClosed):
		writeError(w, http.StatusTooManyRequests, codeBackpressure, WrapKind(op, ErrBackpressure, err))
		return
	default:
		writeError(w, http.StatusServiceUnavailable, codeUnavailable, WrapKind(op, ErrUnavailable, err))
		return
	}

	if duplicate {
		writeJSON(w, http.StatusOK, submitResponse{RunID: runID, Status: "duplicate", Duplicate: true})
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{RunID: runID, Status: "accepted"})
}

// HandleGet handles GET /analyses/{id}.
func (h *AnalysesHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_analysis"

	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, NewKind(op, ErrBadRequest))
		return
	}
	rec, err := h.deps.Report(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, rec)
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, WrapKind(op, ErrNotFound, err))
	default:
		writeError(w, http.StatusServiceUnavailable, codeUnavailable, WrapKind(op, ErrUnavailable, err))
	}
}

func decodeRequest(r *http.Request) (analysis.Request, error) {
	var req analysis.Request
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "text/csv" {
		return decodeCSV(r)
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

func decodeCSV(r *http.Request) (analysis.Request, error) {
	q := r.URL.Query()
	var opts []csvsource.Option
	if els := q.Get("elements"); els != "" {
		opts = append(opts, csvsource.WithElements(strings.Split(els, ",")...))
	}
	elements, events, err := csvsource.Read(r.Body, opts...)
	if err != nil {
		return analysis.Request{}, err
	}

	req := analysis.Request{ID: q.Get("id"), Elements: elements, Events: events}
	intParams := map[string]*int{
		"clusters": &req.Params.Clusters,
		"k_min":    &req.Params.KMin,
		"k_max":    &req.Params.KMax,
		"max_iter": &req.Params.MaxIter,
	}
	for key, dst := range intParams {
		if v := q.Get(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return req, fmt.Errorf("query %s: %w", key, err)
			}
			*dst = n
		}
	}
	floatParams := map[string]*float64{
		"fuzziness": &req.Params.Fuzziness,
		"tolerance": &req.Params.Tolerance,
	}
	for key, dst := range floatParams {
		if v := q.Get(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return req, fmt.Errorf("query %s: %w", key, err)
			}
			*dst = f
		}
	}
	boolParams := map[string]*bool{
		"strict":         &req.Params.Strict,
		"skip_normalize": &req.Params.SkipNormalize,
	}
	for key, dst := range boolParams {
		if v := q.Get(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return req, fmt.Errorf("query %s: %w", key, err)
			}
			*dst = b
		}
	}
	if v := q.Get("seed"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return req, fmt.Errorf("query seed: %w", err)
		}
		req.Params.Seed = n
	}
	req.Params.Metric = q.Get("metric")
	req.Params.Init = q.Get("init")
	return req, nil
}
