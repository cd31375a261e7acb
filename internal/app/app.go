package app

import (
	"github.com/spf13/cobra"

	"github.com/xab-mack/anchorscan/internal/cli"
)

func BuildRoot() *cobra.Command {
	root := &cobra.Command{
		Use:          "anchorscan",
		Short:        "Static vulnerability scanner for Anchor (Solana) programs",
		SilenceUsage: true,
		Version:      cli.Version,
	}
	cli.AddCommands(root)
	return root
}
