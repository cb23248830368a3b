// Package analysis chains the clustering stages into one run: build the
// feature matrix, scan cluster counts, fit the final partition and profile
// it. Every stage hands plain values to the next.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/distance"
	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/fuzzy"
	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/model"
	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/profile"
	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/selection"
)

// Where the final cluster count came from.
const (
	KSourceSelected = "selected"
	KSourceOverride = "override"
)

const defaultKMax = 10

// Params configures one run. Zero values take the defaults noted per field.
type Params struct {
	KMin int `json:"k_min" yaml:"k_min"` // 2
	KMax int `json:"k_max" yaml:"k_max"` // min(10, events/2)
	// Clusters fixes the final k. Zero follows the scan.
	Clusters  int     `json:"clusters,omitempty" yaml:"clusters,omitempty"`
	Fuzziness float64 `json:"fuzziness" yaml:"fuzziness"` // 2
	MaxIter   int     `json:"max_iter" yaml:"max_iter"`   // 1000
	Tolerance float64 `json:"tolerance" yaml:"tolerance"` // 1e-5
	Metric    string  `json:"metric" yaml:"metric"`       // manhattan
	Init      string  `json:"init,omitempty" yaml:"init,omitempty"`
	Seed      int64   `json:"seed" yaml:"seed"`
	Strict    bool    `json:"strict,omitempty" yaml:"strict,omitempty"`
	// SkipNormalize fits raw concentrations instead of min-max scaled ones.
	SkipNormalize   bool `json:"skip_normalize,omitempty" yaml:"skip_normalize,omitempty"`
	ScanParallelism int  `json:"-" yaml:"-"`
}

// Request is one analysis to run.
type Request struct {
	ID       string        `json:"id" yaml:"id"`
	Elements []string      `json:"elements" yaml:"elements"`
	Events   []model.Event `json:"events" yaml:"events"`
	Params   Params        `json:"params" yaml:"params"`
}

// Timings records wall time per stage.
type Timings struct {
	Selection time.Duration `json:"selection" yaml:"selection"`
	Fit       time.Duration `json:"fit" yaml:"fit"`
	Profile   time.Duration `json:"profile" yaml:"profile"`
}

// Report is the outcome of a run.
type Report struct {
	RunID     string           `json:"run_id" yaml:"run_id"`
	RequestID string           `json:"request_id,omitempty" yaml:"request_id,omitempty"`
	CreatedAt time.Time        `json:"created_at" yaml:"created_at"`
	Elements  []string         `json:"elements" yaml:"elements"`
	Events    int              `json:"events" yaml:"events"`
	Params    Params           `json:"params" yaml:"params"`
	Selection *selection.Curve `json:"selection,omitempty" yaml:"selection,omitempty"`
	ChosenK   int              `json:"chosen_k" yaml:"chosen_k"`
	KSource   string           `json:"k_source" yaml:"k_source"`
	Fit       *fuzzy.Result    `json:"fit" yaml:"fit"`
	Profile   *profile.Table   `json:"profile" yaml:"profile"`
	Warnings  []string         `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Timings   Timings          `json:"timings" yaml:"timings"`
}

// WithDefaults fills zero fields for a run over n events.
func (p Params) WithDefaults(n int) Params {
	if p.KMin == 0 {
		p.KMin = 2
	}
	if p.KMax == 0 {
		p.KMax = max(p.KMin, min(defaultKMax, n/2))
	}
	if p.Fuzziness == 0 {
		p.Fuzziness = fuzzy.DefaultFuzziness
	}
	if p.MaxIter == 0 {
		p.MaxIter = fuzzy.DefaultMaxIter
	}
	if p.Tolerance == 0 {
		p.Tolerance = fuzzy.DefaultTolerance
	}
	if p.Metric == "" {
		p.Metric = string(distance.Default)
	}
	return p
}

// Partitioner builds the partitioner the params describe.
func (p Params) Partitioner() (*fuzzy.Partitioner, error) {
	metric, err := distance.Parse(p.Metric)
	if err != nil {
		return nil, err
	}
	in, err := fuzzy.ParseInit(p.Init)
	if err != nil {
		return nil, err
	}
	if p.Clusters != 0 && p.Clusters < 2 {
		return nil, fmt.Errorf("%w: clusters must be 0 or >= 2, got %d", model.ErrInvalidInput, p.Clusters)
	}
	return fuzzy.New(
		fuzzy.WithFuzziness(p.Fuzziness),
		fuzzy.WithMaxIter(p.MaxIter),
		fuzzy.WithTolerance(p.Tolerance),
		fuzzy.WithMetric(metric),
		fuzzy.WithSeed(p.Seed),
		fuzzy.WithStrict(p.Strict),
		fuzzy.WithInit(in),
	)
}

// Validate checks req without fitting anything.
func (r Request) Validate() error {
	fm, err := model.NewFeatureMatrix(r.Elements, r.Events)
	if err != nil {
		return err
	}
	p := r.Params.WithDefaults(fm.Rows())
	if _, err := p.Partitioner(); err != nil {
		return err
	}
	if p.Clusters == 0 {
		return selection.KRange{Min: p.KMin, Max: p.KMax}.Validate(fm.Rows())
	}
	if p.Clusters > fm.Rows() {
		return fmt.Errorf("%w: %d clusters for %d events", model.ErrInvalidInput, p.Clusters, fm.Rows())
	}
	return nil
}

// Run executes every stage of req. RunID and CreatedAt are left for the
// caller to stamp.
func Run(ctx context.Context, req Request) (*Report, error) {
	raw, err := model.NewFeatureMatrix(req.Elements, req.Events)
	if err != nil {
		return nil, err
	}
	params := req.Params.WithDefaults(raw.Rows())
	part, err := params.Partitioner()
	if err != nil {
		return nil, err
	}
	fm := raw
	if !params.SkipNormalize {
		fm = raw.Normalize()
	}

	rep := &Report{
		RequestID: req.ID,
		Elements:  raw.Elements(),
		Events:    raw.Rows(),
		Params:    params,
	}

	start := time.Now()
	curve, err := selection.SelectK(ctx, fm, selection.KRange{Min: params.KMin, Max: params.KMax}, part,
		selection.WithParallelism(params.ScanParallelism))
	rep.Timings.Selection = time.Since(start)
	switch {
	case err == nil:
		rep.Selection = curve
		rep.Warnings = append(rep.Warnings, scanWarnings(curve)...)
	case params.Clusters != 0 && errors.Is(err, model.ErrInvalidInput):
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("cluster-count scan skipped: %v", err))
	default:
		return nil, fmt.Errorf("select k: %w", err)
	}

	rep.ChosenK, rep.KSource = params.Clusters, KSourceOverride
	if params.Clusters == 0 {
		rep.ChosenK, rep.KSource = curve.BestK, KSourceSelected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start = time.Now()
	res, err := part.Fit(fm, rep.ChosenK)
	rep.Timings.Fit = time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("fit k=%d: %w", rep.ChosenK, err)
	}
	rep.Fit = res
	rep.Warnings = append(rep.Warnings, res.Diagnostics.Warnings...)

	start = time.Now()
	tbl, err := profile.Build(raw, res.Membership, res.Labels, res.K)
	rep.Timings.Profile = time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	rep.Profile = tbl
	for _, w := range tbl.Diagnostics.Warnings {
		rep.Warnings = append(rep.Warnings, "profile: "+w)
	}
	return rep, nil
}

func scanWarnings(c *selection.Curve) []string {
	var out []string
	for _, s := range c.Scores {
		if !s.Converged {
			out = append(out, fmt.Sprintf("scan k=%d: not converged after %d iterations", s.K, s.Iterations))
		}
	}
	return out
}
