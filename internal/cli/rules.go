package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xab-mack/anchorscan/internal/plugins"
	"github.com/xab-mack/anchorscan/internal/poc"
	"github.com/xab-mack/anchorscan/internal/report"
)

func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "rules", Short: "Inspect the detector catalog"}
	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List built-in detectors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog := plugins.Catalog()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(catalog)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSEVERITY\tCWE\tPOC\tTITLE")
			for _, m := range catalog {
				exploit := "-"
				if poc.Supported(m.ID) {
					exploit = "yes"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", m.ID, report.Paint(m.Severity), m.Code, exploit, m.Title)
			}
			return tw.Flush()
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "Print the catalog as JSON")
	cmd.AddCommand(list)
	return cmd
}
