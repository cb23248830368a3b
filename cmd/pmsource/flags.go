package main

import (
	"github.com/spf13/pflag"

	"github.com/t0270293/uk-source-attribution-fcm/internal/config"
)

// paramFlags mirrors the analysis settings of config.Config on the command
// line. Only flags the user set override the loaded config.
type paramFlags struct {
	kMin, kMax, clusters, maxIter int
	fuzziness, tolerance          float64
	metric, init                  string
	seed                          int64
	strict                        bool
	parallelism                   int
}

func (p *paramFlags) register(fs *pflag.FlagSet) {
	fs.IntVar(&p.kMin, "k-min", 2, "smallest cluster count scanned")
	fs.IntVar(&p.kMax, "k-max", 0, "largest cluster count scanned (0: min(10, events/2))")
	fs.IntVarP(&p.clusters, "clusters", "k", 0, "fix the final cluster count (0: follow the scan)")
	fs.IntVar(&p.maxIter, "max-iter", 1000, "iteration cap per fit")
	fs.Float64VarP(&p.fuzziness, "fuzziness", "m", 2, "fuzziness exponent, > 1")
	fs.Float64Var(&p.tolerance, "tolerance", 1e-5, "convergence threshold on membership change")
	fs.StringVar(&p.metric, "metric", "manhattan", "distance metric: manhattan or euclidean")
	fs.StringVar(&p.init, "init", "farthest", "center seeding: farthest, random or plusplus")
	fs.Int64Var(&p.seed, "seed", 42, "random seed")
	fs.BoolVar(&p.strict, "strict", false, "fail when a fit does not converge")
	fs.IntVar(&p.parallelism, "parallelism", 0, "concurrent fits during the scan (0: one per CPU)")
}

func (p *paramFlags) apply(fs *pflag.FlagSet, cfg *config.Config) error {
	if fs.Changed("k-min") {
		cfg.KMin = p.kMin
	}
	if fs.Changed("k-max") {
		cfg.KMax = p.kMax
	}
	if fs.Changed("clusters") {
		cfg.Clusters = p.clusters
	}
	if fs.Changed("max-iter") {
		cfg.MaxIter = p.maxIter
	}
	if fs.Changed("fuzziness") {
		cfg.Fuzziness = p.fuzziness
	}
	if fs.Changed("tolerance") {
		cfg.Tolerance = p.tolerance
	}
	if fs.Changed("metric") {
		cfg.Metric = p.metric
	}
	if fs.Changed("init") {
		cfg.Init = p.init
	}
	if fs.Changed("seed") {
		cfg.Seed = p.seed
	}
	if fs.Changed("strict") {
		cfg.Strict = p.strict
	}
	if fs.Changed("parallelism") {
		cfg.ScanParallelism = p.parallelism
	}
	return cfg.Validate()
}
