/*
=================================================================================
SIMILARITY METRICS - TEMPORAL HISTOGRAM COMPARISON
=================================================================================

The firing readout of a neuron is the similarity between its current spike
window and its learned reference patterns. Spike sequences are first binned
into fixed-width temporal histograms spanning [0, windowSizeMs], then
compared under one of five metrics. Every metric is normalized to [0, 1]
where 1 means identical; correlation metrics are shifted from [-1, 1].

Metric selection is a per-neuron strategy. Cosine on histograms is the
recommended default for pattern recognition tasks; peak cross-correlation
is the recommended default for precise-timing tasks, since it tolerates a
constant temporal shift between window and pattern.

References:
- Cha (2007) - Comprehensive survey on distance/similarity measures
- Strehl et al. (2000) - Impact of similarity measures on clustering
=================================================================================
*/

package neuron

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/SynapticNetworks/synfire/types"
)

// BinSpikes converts a zero-based spike sequence into a temporal histogram
// of `bins` fixed-width buckets spanning [0, windowSizeMs]. Spikes at or
// beyond the window edge land in the last bucket.
func BinSpikes(offsets []float64, windowSizeMs float64, bins int) []float64 {
	if bins < 1 {
		bins = 1
	}
	hist := make([]float64, bins)
	if windowSizeMs <= 0 {
		return hist
	}
	for _, t := range offsets {
		idx := int(t / windowSizeMs * float64(bins))
		if idx < 0 {
			idx = 0
		}
		if idx >= bins {
			idx = bins - 1
		}
		hist[idx]++
	}
	return hist
}

// Similarity compares two equal-length histograms under the given metric.
// Mismatched lengths or degenerate inputs score 0.
func Similarity(metric types.SimilarityMetric, a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	switch metric {
	case types.MetricCosine:
		return cosineSimilarity(a, b)
	case types.MetricEuclidean:
		return euclideanSimilarity(a, b)
	case types.MetricPearson:
		return pearsonSimilarity(a, b)
	case types.MetricCrossCorrelation:
		return crossCorrelationSimilarity(a, b)
	case types.MetricOverlap:
		return overlapSimilarity(a, b)
	default:
		return cosineSimilarity(a, b)
	}
}

// cosineSimilarity measures the angle between the two histograms,
// cos = (a . b) / (|a| |b|), clamped into [0, 1]. All-zero input scores 0.
func cosineSimilarity(a, b []float64) float64 {
	normA := floats.Norm(a, 2)
	normB := floats.Norm(b, 2)
	if normA == 0 || normB == 0 {
		return 0
	}
	return clamp01(floats.Dot(a, b) / (normA * normB))
}

// euclideanSimilarity converts the L2 distance between histograms to a
// similarity via 1 / (1 + d).
func euclideanSimilarity(a, b []float64) float64 {
	return 1.0 / (1.0 + floats.Distance(a, b, 2))
}

// pearsonSimilarity is the Pearson correlation coefficient of the two
// histograms, shifted from [-1, 1] to [0, 1]. Zero-variance input scores 0.
func pearsonSimilarity(a, b []float64) float64 {
	r := stat.Correlation(a, b, nil)
	if math.IsNaN(r) {
		return 0
	}
	return clamp01((r + 1.0) / 2.0)
}

// crossCorrelationSimilarity slides one histogram across the other over
// every integer bin lag and returns the peak correlation normalized by the
// vector norms. A pattern that matches the window up to a constant temporal
// shift still scores near 1 here, which is what makes this metric the right
// readout for precise-timing tasks.
func crossCorrelationSimilarity(a, b []float64) float64 {
	normA := floats.Norm(a, 2)
	normB := floats.Norm(b, 2)
	if normA == 0 || normB == 0 {
		return 0
	}

	n := len(a)
	best := 0.0
	for lag := -(n - 1); lag <= n-1; lag++ {
		sum := 0.0
		for i := 0; i < n; i++ {
			j := i + lag
			if j < 0 || j >= n {
				continue
			}
			sum += a[i] * b[j]
		}
		if sum > best {
			best = sum
		}
	}
	return clamp01(best / (normA * normB))
}

// overlapSimilarity is the histogram intersection ratio: the shared mass
// divided by the combined mass, sum(min) / sum(max).
func overlapSimilarity(a, b []float64) float64 {
	sumMin, sumMax := 0.0, 0.0
	for i := range a {
		sumMin += math.Min(a[i], b[i])
		sumMax += math.Max(a[i], b[i])
	}
	if sumMax == 0 {
		return 0
	}
	return clamp01(sumMin / sumMax)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
