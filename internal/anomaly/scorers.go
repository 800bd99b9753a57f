package anomaly

import (
	"errors"
	"math"
	"sort"
)

// errDegenerate marks a scorer that cannot produce a meaningful score for
// the current window (zero spread, identical points). The detector skips the
// scorer and fuses over the remaining ones.
var errDegenerate = errors.New("degenerate window")

// madConsistency rescales a median absolute deviation to a standard
// deviation equivalent for normally distributed data.
const madConsistency = 1.4826

// robustDistanceScore rates the sample by its per-feature deviation from the
// window median, measured in MAD units, averaged over features and squashed
// into [0,1].
func robustDistanceScore(history [][]float64, sample []float64) (float64, error) {
	if len(history) == 0 || len(sample) == 0 {
		return 0, errDegenerate
	}
	dims := len(sample)
	var total float64
	usable := 0
	col := make([]float64, len(history))
	for d := 0; d < dims; d++ {
		for i, vec := range history {
			col[i] = vec[d]
		}
		med := median(col)
		for i := range col {
			col[i] = math.Abs(col[i] - med)
		}
		mad := median(col) * madConsistency
		if mad == 0 {
			// No spread in this feature: deviation is either zero or extreme.
			if sample[d] != med {
				total += 10
				usable++
			}
			continue
		}
		total += math.Abs(sample[d]-med) / mad
		usable++
	}
	if usable == 0 {
		return 0, errDegenerate
	}
	z := total / float64(usable)
	return z / (z + 3), nil
}

// boundaryScore approximates a one-class boundary as the 90th-percentile
// distance from the window centroid and rates the sample by how far it sits
// outside that boundary.
func boundaryScore(history [][]float64, sample []float64) (float64, error) {
	if len(history) < 2 {
		return 0, errDegenerate
	}
	centroid := make([]float64, len(sample))
	for _, vec := range history {
		for d, v := range vec {
			centroid[d] += v
		}
	}
	for d := range centroid {
		centroid[d] /= float64(len(history))
	}
	dists := make([]float64, len(history))
	for i, vec := range history {
		dists[i] = euclidean(vec, centroid)
	}
	sort.Float64s(dists)
	radius := dists[int(float64(len(dists)-1)*0.9)]
	if radius == 0 {
		return 0, errDegenerate
	}
	excess := (euclidean(sample, centroid) - radius) / radius
	if excess <= 0 {
		return 0, nil
	}
	return excess / (excess + 1), nil
}

// localDensityScore compares the sample's mean k-nearest-neighbor distance
// inside the window against its neighbors' own kNN distances, in the manner
// of a local outlier factor.
func localDensityScore(history [][]float64, sample []float64) (float64, error) {
	n := len(history)
	if n < 3 {
		return 0, errDegenerate
	}
	k := 10
	if k > n-1 {
		k = n - 1
	}

	sampleDist := meanKNN(history, sample, k, -1)
	neighbors := nearestIndexes(history, sample, k)
	var neighborDist float64
	for _, idx := range neighbors {
		neighborDist += meanKNN(history, history[idx], k, idx)
	}
	neighborDist /= float64(len(neighbors))
	if neighborDist == 0 {
		return 0, errDegenerate
	}
	ratio := sampleDist / neighborDist
	if ratio <= 1 {
		return 0, nil
	}
	return (ratio - 1) / ratio, nil
}

// meanKNN returns the mean distance from point to its k nearest vectors in
// history, excluding index skip (pass -1 to keep all).
func meanKNN(history [][]float64, point []float64, k, skip int) float64 {
	dists := make([]float64, 0, len(history))
	for i, vec := range history {
		if i == skip {
			continue
		}
		dists = append(dists, euclidean(point, vec))
	}
	sort.Float64s(dists)
	if k > len(dists) {
		k = len(dists)
	}
	var sum float64
	for _, d := range dists[:k] {
		sum += d
	}
	return sum / float64(k)
}

func nearestIndexes(history [][]float64, point []float64, k int) []int {
	type cand struct {
		idx  int
		dist float64
	}
	cands := make([]cand, len(history))
	for i, vec := range history {
		cands[i] = cand{idx: i, dist: euclidean(point, vec)}
	}
	sort.Slice(cands, func(a, b int) bool { return cands[a].dist < cands[b].dist })
	if k > len(cands) {
		k = len(cands)
	}
	out := make([]int, k)
	for i := 0; i < k; i++ {
		out[i] = cands[i].idx
	}
	return out
}

func euclidean(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

func median(vals []float64) float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
