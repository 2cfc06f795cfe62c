package stereo

import (
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

// DepthStats are the mean, population variance and standard deviation of one frame's matched
// minimal depths.
type DepthStats struct {
	Count    int
	Mean     float64
	Variance float64
	StdDev   float64
}

// ComputeDepthStats summarizes the depths. An empty list gives zero stats.
func ComputeDepthStats(depths []float64) (DepthStats, error) {
	if len(depths) == 0 {
		return DepthStats{}, nil
	}
	data := stats.Float64Data(depths)
	mean, err := data.Mean()
	if err != nil {
		return DepthStats{}, errors.Wrap(err, "depth mean")
	}
	variance, err := data.PopulationVariance()
	if err != nil {
		return DepthStats{}, errors.Wrap(err, "depth variance")
	}
	stdDev, err := data.StandardDeviationPopulation()
	if err != nil {
		return DepthStats{}, errors.Wrap(err, "depth standard deviation")
	}
	return DepthStats{Count: len(depths), Mean: mean, Variance: variance, StdDev: stdDev}, nil
}

// Gate is the largest depth admitted for sigma standard deviations.
func (s DepthStats) Gate(sigma float64) float64 {
	return s.Mean + sigma*s.StdDev
}

// Admits reports whether depth passes the outlier gate.
func (s DepthStats) Admits(depth, sigma float64) bool {
	return s.Count == 0 || depth <= s.Gate(sigma)
}
