package main

import (
	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

var recommendCmd = &cobra.Command{
	Use:   "user <user-id>...",
	Short: "Print recommendations for the given users as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		a, _, err := session(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		resp, err := a.Service.GetBatchRecommendations(ctx, args)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	},
}

func init() {
	rootCmd.AddCommand(recommendCmd)
}
