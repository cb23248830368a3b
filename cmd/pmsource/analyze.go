package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/t0270293/uk-source-attribution-fcm/internal/adapters/csvsource"
	service "github.com/t0270293/uk-source-attribution-fcm/internal/app"
	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/analysis"
)

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		input     string
		output    string
		format    string
		elements  string
		requestID string
		raw       bool
		params    paramFlags
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run one analysis on a CSV file and print the report",
		Example: `  pmsource analyze --input samples.csv
  pmsource analyze --input samples.csv --clusters 4 --format yaml
  cat samples.csv | pmsource analyze --elements Cl,Ca,Fe,Zn`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := params.apply(cmd.Flags(), a.cfg); err != nil {
				return err
			}
			if cmd.Flags().Changed("format") {
				a.cfg.OutputFormat = format
			}
			if cmd.Flags().Changed("elements") {
				a.cfg.Elements = splitList(elements)
			}

			in := a.in
			if input != "" && input != "-" {
				f, err := os.Open(input)
				if err != nil {
					return fmt.Errorf("open input: %w", err)
				}
				defer f.Close()
				in = f
			}

			var opts []csvsource.Option
			if len(a.cfg.Elements) > 0 {
				opts = append(opts, csvsource.WithElements(a.cfg.Elements...))
			}
			names, events, err := csvsource.Read(in, opts...)
			if err != nil {
				return fmt.Errorf("read %s: %w", inputName(input), err)
			}

			p := a.cfg.AnalysisParams()
			p.SkipNormalize = raw
			rep, err := service.NewPipeline(a.log).Analyze(cmd.Context(), "", analysis.Request{
				ID:       requestID,
				Elements: names,
				Events:   events,
				Params:   p,
			})
			if err != nil {
				return err
			}

			var out io.Writer = a.out
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer f.Close()
				out = f
			}
			return writeOutput(out, a.cfg.OutputFormat, rep)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&input, "input", "i", "-", "CSV file with a timestamp column and one column per element (- for stdin)")
	fs.StringVarP(&output, "output", "o", "-", "report file (- for stdout)")
	fs.StringVarP(&format, "format", "f", "json", "report format: json or yaml")
	fs.StringVar(&elements, "elements", "", "comma separated element columns to use (default all)")
	fs.StringVar(&requestID, "id", "", "request id recorded in the report")
	fs.BoolVar(&raw, "raw", false, "cluster raw concentrations instead of min-max scaled ones")
	params.register(fs)
	return cmd
}

func inputName(path string) string {
	if path == "" || path == "-" {
		return "stdin"
	}
	return path
}
