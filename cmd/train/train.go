package train

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/forestwatch/internal/analysis"
	"github.com/tphakala/forestwatch/internal/conf"
)

// Command creates the train command.
func Command(settings *conf.Settings) *cobra.Command {
	var opts analysis.TrainOptions

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the land-cover model",
		Long: "Train the CNN on a directory dataset (<data>/preserved, <data>/at_risk, <data>/deforested) " +
			"or on synthetic data when no directory is given, and save it to the model path.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if _, err := analysis.Train(ctx, settings, opts); err != nil {
				return fmt.Errorf("training failed: %w", err)
			}
			return nil
		},
	}

	if err := setupFlags(cmd, settings, &opts); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
	}

	return cmd
}

// setupFlags configures flags specific to the train command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings, opts *analysis.TrainOptions) error {
	cmd.Flags().StringVar(&settings.Training.DataDir, "data", viper.GetString("training.data_dir"), "Dataset directory, empty for synthetic data")
	cmd.Flags().IntVar(&settings.Training.Samples, "samples", viper.GetInt("training.samples"), "Number of synthetic samples")
	cmd.Flags().Float64Var(&settings.Training.ValidationSplit, "split", viper.GetFloat64("training.validation_split"), "Fraction of samples used for training")
	cmd.Flags().IntVar(&settings.Model.Epochs, "epochs", viper.GetInt("model.epochs"), "Training epochs")
	cmd.Flags().IntVar(&settings.Model.BatchSize, "batch-size", viper.GetInt("model.batch_size"), "Mini-batch size")
	cmd.Flags().StringVar(&settings.Model.Path, "out", viper.GetString("model.path"), "Output model path")
	cmd.Flags().StringVar(&opts.MetricsTextfile, "metrics-textfile", "", "Write training metrics to this file in Prometheus text format")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}
