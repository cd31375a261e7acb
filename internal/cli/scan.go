package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/xab-mack/anchorscan/internal/engine"
	"github.com/xab-mack/anchorscan/internal/metrics"
	"github.com/xab-mack/anchorscan/internal/plugins"
	"github.com/xab-mack/anchorscan/internal/poc"
	"github.com/xab-mack/anchorscan/internal/report"
	"github.com/xab-mack/anchorscan/internal/source"
	"github.com/xab-mack/anchorscan/internal/tui"
)

func newScanCmd(g *globalOptions) *cobra.Command {
	var (
		sel           selectionFlags
		format        string
		output        string
		failOn        string
		generatePOC   bool
		pocOut        string
		metricsOut    string
		baseline      string
		writeBaseline string
		useTUI        bool
		timeout       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "scan [path]",
		Short: "Scan an Anchor workspace for vulnerabilities",
		Long: "Scan the Rust sources under path (a directory, a single file or a .txtar archive).\n" +
			"Findings below --severity are dropped; --fail-on exits with status 2 when a finding meets it.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "."
			if len(args) > 0 {
				target = args[0]
			}
			cfg, cfgPath, err := g.config(target)
			if err != nil {
				return err
			}
			sel.apply(cmd, &cfg)
			if cmd.Flags().Changed("baseline") {
				cfg.Baseline = baseline
			}
			if cmd.Flags().Changed("poc-out") {
				cfg.Poc.OutDir = pocOut
			}
			log := g.logger(cfg)
			if cfgPath != "" {
				log.Debug("loaded config", "path", cfgPath)
			}

			outFormat, err := report.ParseFormat(format)
			if err != nil {
				return err
			}
			threshold, err := parseFailOn(failOn)
			if err != nil {
				return err
			}
			opts, err := engine.FromConfig(cfg)
			if err != nil {
				return err
			}
			m := metrics.New()
			opts.Logger = log
			opts.Metrics = m

			files, err := source.Load(target)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			res, err := engine.Scan(ctx, files, opts)
			if err != nil {
				return err
			}

			if writeBaseline != "" {
				if err := engine.WriteBaseline(writeBaseline, res.Findings, time.Now()); err != nil {
					return err
				}
				log.Info("baseline written", "path", writeBaseline, "fingerprints", len(res.Findings))
			}

			if useTUI {
				if err := tui.Run(res.Findings); err != nil {
					return err
				}
			} else {
				err := withOutput(cmd, output, func(w io.Writer) error {
					return report.Render(w, outFormat, res.ScanResult, plugins.Catalog())
				})
				if err != nil {
					return err
				}
			}

			if generatePOC {
				arts, err := poc.SynthesizeAll(ctx, res.Findings, res.Model)
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logSynthesis(log, err)
				paths, err := poc.WriteAll(cfg.Poc.OutDir, arts)
				if err != nil {
					return err
				}
				m.Artifacts(len(paths))
				log.Info("exploit tests written", "dir", cfg.Poc.OutDir, "count", len(paths))
			}

			if metricsOut != "" {
				if err := m.WriteTextfile(metricsOut); err != nil {
					return fmt.Errorf("write metrics: %w", err)
				}
			}

			if threshold != "" {
				if hits := engine.Exceeding(res.Findings, threshold); len(hits) > 0 {
					return &ExitError{Code: 2, Err: fmt.Errorf("%d finding(s) at or above %s", len(hits), threshold)}
				}
			}
			return nil
		},
	}
	sel.register(cmd)
	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format: table|json|markdown|sarif|github")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the report to a file instead of stdout")
	cmd.Flags().StringVar(&failOn, "fail-on", "", "Exit with status 2 if a finding has this severity or higher")
	cmd.Flags().BoolVar(&generatePOC, "generate-poc", false, "Write an exploit test for every supported finding")
	cmd.Flags().StringVar(&pocOut, "poc-out", "", "Directory for exploit tests (default from config, poc)")
	cmd.Flags().StringVar(&metricsOut, "metrics-out", "", "Write prometheus metrics in textfile format")
	cmd.Flags().StringVar(&baseline, "baseline", "", "Drop findings whose fingerprints are in this baseline file")
	cmd.Flags().StringVar(&writeBaseline, "write-baseline", "", "Write the fingerprints of the reported findings to a baseline file")
	cmd.Flags().BoolVar(&useTUI, "tui", false, "Browse findings interactively")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Abort the scan after this long (0 means no limit)")
	return cmd
}
