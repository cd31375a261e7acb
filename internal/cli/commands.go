package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/xab-mack/anchorscan/internal/config"
	"github.com/xab-mack/anchorscan/internal/logger"
	"github.com/xab-mack/anchorscan/internal/model"
	"github.com/xab-mack/anchorscan/internal/poc"
)

// Set with -ldflags "-X github.com/xab-mack/anchorscan/internal/cli.Version=...".
var (
	Version = "dev"
	Commit  = "none"
)

// ExitError carries a process exit status. Code 2 means a --fail-on
// threshold was met.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// globalOptions are the persistent flags of the root command.
type globalOptions struct {
	configPath string
	logLevel   string
	logJSON    bool
}

func AddCommands(root *cobra.Command) {
	g := &globalOptions{}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Config file (default: .anchorscan.yaml searched upward from the target)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level: trace|debug|info|warn|error")
	root.PersistentFlags().BoolVar(&g.logJSON, "log-json", false, "Write logs as JSON")

	root.AddCommand(newScanCmd(g))
	root.AddCommand(newDiffCmd(g))
	root.AddCommand(newPocCmd(g))
	root.AddCommand(newInitCmd())
	root.AddCommand(newRulesCmd())
	root.AddCommand(newVersionCmd())
}

// config loads the explicit config file or searches upward from target.
func (g *globalOptions) config(target string) (config.Config, string, error) {
	var (
		cfg  config.Config
		path string
		err  error
	)
	if g.configPath != "" {
		path = g.configPath
		cfg, err = config.Read(path)
	} else {
		cfg, path, err = config.Load(target)
	}
	if err != nil {
		return cfg, path, err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logJSON {
		cfg.Log.JSON = true
	}
	cfg.Normalize()
	return cfg, path, nil
}

func (g *globalOptions) logger(cfg config.Config) hclog.Logger {
	return logger.New(cfg.Log, "anchorscan")
}

// selectionFlags are shared by every command that runs detectors.
type selectionFlags struct {
	only     []string
	exclude  []string
	severity string
	workers  int
}

func (s *selectionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&s.only, "only", nil, "Run only these detectors (comma separated IDs)")
	cmd.Flags().StringSliceVarP(&s.exclude, "exclude", "x", nil, "Skip these detectors (comma separated IDs)")
	cmd.Flags().StringVarP(&s.severity, "severity", "s", "", "Lowest severity to report: low|medium|high|critical")
	cmd.Flags().IntVar(&s.workers, "workers", 0, "Parallel file parsers (0 uses every CPU)")
}

// apply overrides the config with flags the user actually set.
func (s *selectionFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("only") {
		cfg.Only = s.only
	}
	if cmd.Flags().Changed("exclude") {
		cfg.Exclude = s.exclude
	}
	if cmd.Flags().Changed("severity") {
		cfg.SeverityThreshold = s.severity
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers = s.workers
	}
	cfg.Normalize()
}

func parseFailOn(s string) (model.Severity, error) {
	if s == "" {
		return "", nil
	}
	sev, err := model.ParseSeverity(s)
	if err != nil {
		return "", fmt.Errorf("--fail-on: %w", err)
	}
	return sev, nil
}

// withOutput runs fn against the output file, or stdout when path is empty.
func withOutput(cmd *cobra.Command, path string, fn func(io.Writer) error) error {
	if path == "" {
		return fn(cmd.OutOrStdout())
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// logSynthesis logs per-finding synthesis failures. Findings without a
// template are expected and only logged at debug.
func logSynthesis(log hclog.Logger, err error) {
	if err == nil {
		return
	}
	errs := []error{err}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	}
	var unsupported []string
	for _, e := range errs {
		var ue *poc.UnsupportedVulnerabilityError
		if errors.As(e, &ue) {
			unsupported = append(unsupported, ue.DetectorID)
			continue
		}
		log.Warn("exploit synthesis failed", "error", e)
	}
	if len(unsupported) > 0 {
		log.Debug("findings without exploit templates", "detectors", strings.Join(unsupported, ","))
	}
}
