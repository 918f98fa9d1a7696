package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/forestwatch/cmd/predict"
	"github.com/tphakala/forestwatch/cmd/serve"
	"github.com/tphakala/forestwatch/cmd/train"
	"github.com/tphakala/forestwatch/internal/buildinfo"
	"github.com/tphakala/forestwatch/internal/conf"
	"github.com/tphakala/forestwatch/internal/errors"
	"github.com/tphakala/forestwatch/internal/logger"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "forestwatch",
		Short:         "ForestWatch deforestation detection",
		Version:       build.Version(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
	}

	rootCmd.AddCommand(
		serve.Command(settings, build),
		train.Command(settings),
		predict.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return initialize(settings, build)
	}

	return rootCmd
}

// initialize replaces the bootstrap logger with the configured one and
// starts error telemetry.
func initialize(settings *conf.Settings, build *buildinfo.Context) error {
	logging := settings.Logging
	if settings.Debug {
		logging.DefaultLevel = string(logger.LogLevelDebug)
		if logging.Console != nil {
			console := *logging.Console
			console.Level = logging.DefaultLevel
			logging.Console = &console
		}
	}

	central, err := logger.NewCentralLogger(&logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)

	sentry := settings.Telemetry.Sentry
	if sentry.Enabled {
		if err := errors.InitSentry(errors.SentryConfig{
			DSN:         sentry.DSN,
			Environment: sentry.Environment,
			Release:     "forestwatch@" + build.Version(),
			SampleRate:  sentry.SampleRate,
		}); err != nil {
			central.Module("main").Warn("error telemetry disabled", logger.Error(err))
		}
	}
	return nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Model.Kind, "model-kind", viper.GetString("model.kind"), "Model kind (cnn, tflite, onnx)")
	rootCmd.PersistentFlags().StringVar(&settings.Model.Path, "model", viper.GetString("model.path"), "Path to the model file")
	rootCmd.PersistentFlags().StringVar(&settings.Imagery.Provider, "provider", viper.GetString("imagery.provider"), "Imagery provider (synthetic, remote)")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}
