package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/analysis"
	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/fuzzy"
	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/model"
	"github.com/t0270293/uk-source-attribution-fcm/pkg/logger"
	"github.com/t0270293/uk-source-attribution-fcm/pkg/metrics"
)

// Pipeline runs analyses synchronously. It stamps run ids, logs each stage
// and records metrics around analysis.Run.
type Pipeline struct {
	logger logger.Logger
	now    func() time.Time
}

// NewPipeline creates a pipeline. A nil logger uses the global one.
func NewPipeline(l logger.Logger) *Pipeline {
	if l == nil {
		l = logger.Get().Named("pipeline")
	}
	return &Pipeline{logger: l, now: time.Now}
}

// Analyze runs req to completion. An empty runID gets a fresh uuid.
func (p *Pipeline) Analyze(ctx context.Context, runID string, req analysis.Request) (*analysis.Report, error) { //nolint:gocritic // hugeParam: requests are immutable values
	if runID == "" {
		runID = uuid.NewString()
	}
	log := p.logger.With(logger.String("run_id", runID), logger.String("request_id", req.ID))
	log.Debug(ctx, "analysis started",
		logger.Int("events", len(req.Events)),
		logger.Strings("elements", req.Elements),
	)

	rep, err := analysis.Run(ctx, req)
	if err != nil {
		metrics.RecordErrorByComponent("pipeline", errorType(err))
		if errors.Is(err, fuzzy.ErrNotConverged) {
			metrics.RecordFitError()
		}
		log.Warn(ctx, "analysis failed", logger.Error(err))
		return nil, err
	}
	rep.RunID = runID
	rep.CreatedAt = p.now().UTC()

	if rep.Selection != nil {
		metrics.RecordSelection(rep.Selection.ByK(), rep.Timings.Selection)
	}
	metrics.RecordFit(rep.Fit.Converged, rep.Fit.Iterations, rep.Timings.Fit)
	metrics.UpdateChosenK(rep.ChosenK)
	metrics.RecordDegenerate("fit", len(rep.Fit.Diagnostics.EmptyClusters)+len(rep.Fit.Diagnostics.SingletonClusters))
	metrics.RecordDegenerate("profile", len(rep.Profile.Diagnostics.RawShareClusters)+len(rep.Profile.Diagnostics.ZeroMassClusters))

	for _, w := range rep.Warnings {
		log.Warn(ctx, w, logger.Int("k", rep.ChosenK))
	}
	log.Info(ctx, "analysis finished",
		logger.Int("k", rep.ChosenK),
		logger.String("k_source", rep.KSource),
		logger.Int("iterations", rep.Fit.Iterations),
		logger.Bool("converged", rep.Fit.Converged),
		logger.Float64("objective", rep.Fit.Objective),
		logger.Duration("elapsed", rep.Timings.Selection+rep.Timings.Fit+rep.Timings.Profile),
	)
	return rep, nil
}

func errorType(err error) string {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, fuzzy.ErrNotConverged):
		return "not_converged"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}
