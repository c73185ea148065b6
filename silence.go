package main

import "math"

// rms computes the root-mean-square amplitude across every sample of the
// clip, channels included. An empty clip has RMS 0.
func rms(c *Clip) float64 {
	if len(c.Samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range c.Samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(c.Samples)))
}

// isSilent reports whether the clip's RMS is strictly below threshold.
// Binary gate only; no spectral analysis.
func isSilent(c *Clip, threshold float64) bool {
	return rms(c) < threshold
}
