package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xab-mack/anchorscan/internal/engine"
	"github.com/xab-mack/anchorscan/internal/model"
	"github.com/xab-mack/anchorscan/internal/poc"
	"github.com/xab-mack/anchorscan/internal/source"
)

func newPocCmd(g *globalOptions) *cobra.Command {
	var (
		sel          selectionFlags
		out          string
		fingerprints []string
	)
	cmd := &cobra.Command{
		Use:   "poc [path]",
		Short: "Scan and write exploit tests for the findings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "."
			if len(args) > 0 {
				target = args[0]
			}
			cfg, _, err := g.config(target)
			if err != nil {
				return err
			}
			sel.apply(cmd, &cfg)
			if cmd.Flags().Changed("out") {
				cfg.Poc.OutDir = out
			}
			log := g.logger(cfg)
			opts, err := engine.FromConfig(cfg)
			if err != nil {
				return err
			}
			opts.Logger = log

			files, err := source.Load(target)
			if err != nil {
				return err
			}
			res, err := engine.Scan(cmd.Context(), files, opts)
			if err != nil {
				return err
			}
			findings := byFingerprint(res.Findings, fingerprints)
			arts, err := poc.SynthesizeAll(cmd.Context(), findings, res.Model)
			if cmd.Context().Err() != nil {
				return cmd.Context().Err()
			}
			logSynthesis(log, err)
			paths, err := poc.WriteAll(cfg.Poc.OutDir, arts)
			if err != nil {
				return err
			}
			for i, p := range paths {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", arts[i].DetectorID, p)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d exploit test(s) for %d finding(s)\n", len(paths), len(findings))
			return nil
		},
	}
	sel.register(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output directory (default from config, poc)")
	cmd.Flags().StringSliceVar(&fingerprints, "fingerprint", nil, "Only these findings (fingerprint prefixes)")
	return cmd
}

func byFingerprint(fs []model.Finding, prefixes []string) []model.Finding {
	if len(prefixes) == 0 {
		return fs
	}
	var out []model.Finding
	for _, f := range fs {
		for _, p := range prefixes {
			if p != "" && strings.HasPrefix(f.Fingerprint, strings.ToLower(p)) {
				out = append(out, f)
				break
			}
		}
	}
	return out
}
