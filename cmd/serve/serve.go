package serve

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/forestwatch/internal/analysis"
	"github.com/tphakala/forestwatch/internal/buildinfo"
	"github.com/tphakala/forestwatch/internal/conf"
)

// Command creates the serve command, which runs the web server until
// SIGINT or SIGTERM.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the prediction web server",
		Long:  "Load the model and serve the map page, the predict API, health and metrics endpoints.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return analysis.Serve(ctx, settings, build)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
	}

	return cmd
}

// setupFlags configures flags specific to the serve command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.WebServer.Host, "host", viper.GetString("webserver.host"), "Listen host")
	cmd.Flags().IntVarP(&settings.WebServer.Port, "port", "p", viper.GetInt("webserver.port"), "Listen port")
	cmd.Flags().BoolVar(&settings.Telemetry.Metrics, "metrics", viper.GetBool("telemetry.metrics"), "Expose Prometheus metrics on /metrics")
	cmd.Flags().BoolVar(&settings.History.Enabled, "history", viper.GetBool("history.enabled"), "Store predictions in the history database")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}
