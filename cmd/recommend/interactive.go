package main

import (
	"github.com/spf13/cobra"

	"github.com/actuallystonmai/purchase-recommender/internal/console"
)

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Read user IDs from stdin and print their recommendations",
	Args:  cobra.NoArgs,
	RunE:  runInteractive,
}

func runInteractive(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	a, _, err := session(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	return console.New(cmd.InOrStdin(), cmd.OutOrStdout(), a.Service).Run(ctx)
}

func init() {
	rootCmd.AddCommand(interactiveCmd)
}
