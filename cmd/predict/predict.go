package predict

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/forestwatch/internal/analysis"
	"github.com/tphakala/forestwatch/internal/conf"
)

// Command creates the predict command, which prints one prediction as JSON.
func Command(settings *conf.Settings) *cobra.Command {
	var lat, lon float64

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict the land-cover status of one coordinate",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := analysis.PredictOnce(cmd.Context(), settings, lat, lon)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}

	cmd.Flags().Float64Var(&lat, "lat", 0, "Latitude")
	cmd.Flags().Float64Var(&lon, "lon", 0, "Longitude")
	for _, name := range []string{"lat", "lon"} {
		if err := cmd.MarkFlagRequired(name); err != nil {
			fmt.Printf("error marking flag %s required: %v\n", name, err)
		}
	}

	return cmd
}
