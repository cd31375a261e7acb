package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/xab-mack/anchorscan/internal/diff"
	"github.com/xab-mack/anchorscan/internal/engine"
	"github.com/xab-mack/anchorscan/internal/report"
	"github.com/xab-mack/anchorscan/internal/source"
)

func newDiffCmd(g *globalOptions) *cobra.Command {
	var (
		sel    selectionFlags
		useGit bool
		sub    string
		format string
		output string
		failOn string
	)
	cmd := &cobra.Command{
		Use:   "diff <old> <new> | diff --git <repo> <old-rev> <new-rev>",
		Short: "Compare the findings of two snapshots",
		Long: "Compare two directories, or two revisions of one git repository, by finding fingerprint.\n" +
			"Findings match across snapshots even when their line numbers moved.",
		Args: func(cmd *cobra.Command, args []string) error {
			want := 2
			if useGit {
				want = 3
			}
			if len(args) != want {
				return fmt.Errorf("expected %d arguments, got %d", want, len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgRoot := args[1]
			if useGit {
				cfgRoot = args[0]
			}
			cfg, _, err := g.config(cfgRoot)
			if err != nil {
				return err
			}
			sel.apply(cmd, &cfg)
			cfg.Baseline = ""
			log := g.logger(cfg)

			outFormat, err := report.ParseFormat(format)
			if err != nil {
				return err
			}
			if outFormat == report.FormatSARIF || outFormat == report.FormatGitHub {
				return errors.New("diff supports table, json and markdown output")
			}
			threshold, err := parseFailOn(failOn)
			if err != nil {
				return err
			}

			var oldFiles, newFiles []source.File
			if useGit {
				if oldFiles, err = source.LoadRevision(args[0], args[1], sub); err != nil {
					return err
				}
				if newFiles, err = source.LoadRevision(args[0], args[2], sub); err != nil {
					return err
				}
			} else {
				if oldFiles, err = source.Load(args[0]); err != nil {
					return err
				}
				if newFiles, err = source.Load(args[1]); err != nil {
					return err
				}
			}

			opts, err := engine.FromConfig(cfg)
			if err != nil {
				return err
			}
			opts.Logger = log
			eng := engine.New(opts)
			before, err := eng.Scan(cmd.Context(), oldFiles)
			if err != nil {
				return fmt.Errorf("scan old snapshot: %w", err)
			}
			after, err := eng.Scan(cmd.Context(), newFiles)
			if err != nil {
				return fmt.Errorf("scan new snapshot: %w", err)
			}

			r := diff.Compare(before.Findings, after.Findings)
			log.Info("diff computed", "new", len(r.New), "fixed", len(r.Fixed), "persisted", len(r.Persisted))
			err = withOutput(cmd, output, func(w io.Writer) error {
				return diff.Render(w, outFormat, r)
			})
			if err != nil {
				return err
			}
			if threshold != "" && r.Regressed(threshold) {
				return &ExitError{Code: 2, Err: fmt.Errorf("new finding(s) at or above %s", threshold)}
			}
			return nil
		},
	}
	sel.register(cmd)
	cmd.Flags().BoolVar(&useGit, "git", false, "Compare two revisions of a git repository")
	cmd.Flags().StringVar(&sub, "sub", "", "With --git, only scan this directory of the repository")
	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format: table|json|markdown")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the report to a file instead of stdout")
	cmd.Flags().StringVar(&failOn, "fail-on", "", "Exit with status 2 if a new finding has this severity or higher")
	return cmd
}
