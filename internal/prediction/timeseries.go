package prediction

import (
	"math/rand/v2"
	"slices"
)

// monthLabels are the fixed x-axis labels of the charted history.
var monthLabels = [...]string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

const (
	seriesLength = len(monthLabels)
	// seriesMax is exclusive
	seriesMax = 100
)

// TimeSeries is the simulated 12-month history returned with a prediction.
// Its values are not derived from the model output.
type TimeSeries struct {
	Labels        []string `json:"labels"`
	Deforestation []int    `json:"deforestation"`
	Risk          []int    `json:"risk"`
	Vegetation    []int    `json:"vegetation"`
}

// GenerateTimeSeries draws three independent series of 12 values in [0,100).
func GenerateTimeSeries(rng *rand.Rand) TimeSeries {
	return TimeSeries{
		Labels:        slices.Clone(monthLabels[:]),
		Deforestation: randomSeries(rng),
		Risk:          randomSeries(rng),
		Vegetation:    randomSeries(rng),
	}
}

func randomSeries(rng *rand.Rand) []int {
	values := make([]int, seriesLength)
	for i := range values {
		values[i] = rng.IntN(seriesMax)
	}
	return values
}
