package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/t0270293/uk-source-attribution-fcm/internal/adapters/csvsource"
	"github.com/t0270293/uk-source-attribution-fcm/internal/adapters/repository"
	"github.com/t0270293/uk-source-attribution-fcm/internal/client"
	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/analysis"
	"github.com/t0270293/uk-source-attribution-fcm/pkg/logger"
)

func newSubmitCmd(a *app) *cobra.Command {
	var (
		baseURL     string
		format      string
		wait        bool
		concurrency int
		timeout     time.Duration
		clusters    int
	)

	cmd := &cobra.Command{
		Use:   "submit FILE.csv...",
		Short: "Send CSV files to a running service",
		Long: `Submit each CSV file as one analysis. The file name without its extension
becomes the request id, so resubmitting a file maps to the run it started.
With --wait the command polls until every run finishes and prints the
records.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("format") {
				a.cfg.OutputFormat = format
			}
			reqs := make([]analysis.Request, 0, len(args))
			for _, path := range args {
				req, err := readRequest(path, a.cfg.Elements)
				if err != nil {
					return err
				}
				req.Params.Clusters = clusters
				reqs = append(reqs, req)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			c := client.New(baseURL)
			if err := c.Health(ctx); err != nil {
				return fmt.Errorf("service at %s is not healthy: %w", baseURL, err)
			}
			results, err := c.SubmitAll(ctx, reqs, concurrency)
			if err != nil {
				return err
			}
			for i, r := range results {
				a.log.Info(ctx, "submitted",
					logger.String("file", args[i]),
					logger.String("run_id", r.RunID),
					logger.Bool("duplicate", r.Duplicate),
				)
			}
			if !wait {
				return writeOutput(a.out, a.cfg.OutputFormat, results)
			}

			records := make([]repository.Record, len(results))
			for i, r := range results {
				rec, err := c.Wait(ctx, r.RunID)
				if err != nil {
					return fmt.Errorf("wait for %s: %w", r.RunID, err)
				}
				records[i] = rec
			}
			return writeOutput(a.out, a.cfg.OutputFormat, records)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&baseURL, "url", "http://localhost:9080", "base URL of the service")
	fs.StringVarP(&format, "format", "f", "json", "output format: json or yaml")
	fs.BoolVarP(&wait, "wait", "w", false, "wait for the runs to finish and print their records")
	fs.IntVar(&concurrency, "concurrency", 4, "submissions in flight")
	fs.DurationVar(&timeout, "timeout", 10*time.Minute, "overall deadline")
	fs.IntVarP(&clusters, "clusters", "k", 0, "fix the final cluster count (0: follow the scan)")
	return cmd
}

func readRequest(path string, elements []string) (analysis.Request, error) {
	f, err := os.Open(path)
	if err != nil {
		return analysis.Request{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var opts []csvsource.Option
	if len(elements) > 0 {
		opts = append(opts, csvsource.WithElements(elements...))
	}
	names, events, err := csvsource.Read(f, opts...)
	if err != nil {
		return analysis.Request{}, fmt.Errorf("read %s: %w", path, err)
	}
	id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return analysis.Request{ID: id, Elements: names, Events: events}, nil
}
