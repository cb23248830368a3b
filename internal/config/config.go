// Package config defines process configuration and its loading.
//
// Conventions:
// - New returns a Config holding every default.
// - Load layers a YAML file and PMSOURCE_ environment variables on top.
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/analysis"
	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/distance"
	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/fuzzy"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// WorkerCount sets the number of analysis workers.
	WorkerCount int `koanf:"worker_count"`

	// QueueSize bounds the in-memory analysis queue.
	QueueSize int `koanf:"queue_size"`

	// DedupeSize sets how many request ids are remembered for idempotency.
	DedupeSize int `koanf:"dedupe_size"`

	// StoreSize bounds the number of analysis records kept in memory.
	StoreSize int `koanf:"store_size"`

	// KMin and KMax bound the cluster-count scan. KMax zero means
	// min(10, events/2) per analysis.
	KMin int `koanf:"k_min"`
	KMax int `koanf:"k_max"`

	// Clusters fixes the final cluster count. Zero follows the scan.
	Clusters int `koanf:"clusters"`

	Fuzziness float64 `koanf:"fuzziness"`
	MaxIter   int     `koanf:"max_iter"`
	Tolerance float64 `koanf:"tolerance"`

	// Metric is manhattan or euclidean.
	Metric string `koanf:"metric"`

	// Init is farthest, random or plusplus.
	Init string `koanf:"init"`

	Seed int64 `koanf:"seed"`

	// Strict turns non-convergence into an error.
	Strict bool `koanf:"strict"`

	// ScanParallelism bounds concurrent fits during the scan. Zero means
	// one per CPU.
	ScanParallelism int `koanf:"scan_parallelism"`

	// Elements restricts CSV ingestion to these columns, in order.
	Elements []string `koanf:"elements"`

	// OutputFormat is json or yaml.
	OutputFormat string `koanf:"output_format"`
}

// New creates a Config holding the defaults.
func New() *Config {
	return &Config{
		LogLevel:     "info",
		Addr:         ":9080",
		WorkerCount:  runtime.NumCPU(),
		QueueSize:    64,
		DedupeSize:   10_000,
		StoreSize:    1_000,
		KMin:         2,
		Fuzziness:    2,
		MaxIter:      1000,
		Tolerance:    1e-5,
		Metric:       "manhattan",
		Init:         "farthest",
		Seed:         42,
		OutputFormat: "json",
	}
}

// Validate checks value ranges. It does not know the data, so the
// events-per-k bound is left to the analysis.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.KMin < 2:
		return fmt.Errorf("%w: k_min must be >= 2, got %d", ErrInvalidConfig, c.KMin)
	case c.KMax != 0 && c.KMax < c.KMin:
		return fmt.Errorf("%w: k_max (%d) must be >= k_min (%d)", ErrInvalidConfig, c.KMax, c.KMin)
	case c.Clusters != 0 && c.Clusters < 2:
		return fmt.Errorf("%w: clusters must be 0 or >= 2, got %d", ErrInvalidConfig, c.Clusters)
	case !(c.Fuzziness > 1):
		return fmt.Errorf("%w: fuzziness must be > 1, got %v", ErrInvalidConfig, c.Fuzziness)
	case c.MaxIter < 1:
		return fmt.Errorf("%w: max_iter must be >= 1, got %d", ErrInvalidConfig, c.MaxIter)
	case !(c.Tolerance > 0):
		return fmt.Errorf("%w: tolerance must be > 0, got %v", ErrInvalidConfig, c.Tolerance)
	case c.ScanParallelism < 0:
		return fmt.Errorf("%w: scan_parallelism must be >= 0, got %d", ErrInvalidConfig, c.ScanParallelism)
	}
	if _, err := distance.Parse(c.Metric); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := fuzzy.ParseInit(c.Init); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	switch strings.ToLower(c.OutputFormat) {
	case "json", "yaml":
	default:
		return fmt.Errorf("%w: output_format must be json or yaml, got %q", ErrInvalidConfig, c.OutputFormat)
	}
	return nil
}

// AnalysisParams returns the analysis defaults this config describes.
func (c *Config) AnalysisParams() analysis.Params {
	return analysis.Params{
		KMin:            c.KMin,
		KMax:            c.KMax,
		Clusters:        c.Clusters,
		Fuzziness:       c.Fuzziness,
		MaxIter:         c.MaxIter,
		Tolerance:       c.Tolerance,
		Metric:          c.Metric,
		Init:            c.Init,
		Seed:            c.Seed,
		Strict:          c.Strict,
		ScanParallelism: c.ScanParallelism,
	}
}
