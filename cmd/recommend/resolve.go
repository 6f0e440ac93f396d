package main

import (
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/actuallystonmai/purchase-recommender/internal/domain"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Find the endpoint by display name, training and deploying it if missing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		a, handle, err := session(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		return printEndpoint(cmd.OutOrStdout(), handle)
	},
}

// printEndpoint writes "<display name>\t<resource name>".
func printEndpoint(w io.Writer, handle domain.EndpointHandle) error {
	if handle.IsZero() {
		return eris.New("resolve: no endpoint")
	}
	_, err := fmt.Fprintf(w, "%s\t%s\n", handle.DisplayName, handle.ResourceName)
	return err
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}
