package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/actuallystonmai/purchase-recommender/internal/app"
	"github.com/actuallystonmai/purchase-recommender/internal/config"
	"github.com/actuallystonmai/purchase-recommender/internal/domain"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Purchase recommendations backed by a Vertex AI classifier",
	Long: "Resolves (or trains and deploys) the purchase classifier endpoint, then ranks " +
		"not-yet-purchased products for users read from stdin.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	RunE: runInteractive,
}

// session builds the app and resolves the endpoint; lifecycle errors end the run.
func session(ctx context.Context) (*app.App, domain.EndpointHandle, error) {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, domain.EndpointHandle{}, err
	}
	handle, err := a.Registry.Resolve(ctx)
	if err != nil {
		a.Close()
		return nil, domain.EndpointHandle{}, err
	}
	return a, handle, nil
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
