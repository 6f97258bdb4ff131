package metric

import (
	"math"
	"sort"
)

// Sentinel is returned by a metric when its input is too small to support
// the statistic (spec §4.4). It is a defined outcome, not an error.
const Sentinel = -9999.0

func sorted(data []float64) []float64 {
	out := make([]float64, len(data))
	copy(out, data)
	sort.Float64s(out)
	return out
}

func mean(data []float64) float64 {
	sum := 0.0
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}

func variance(data []float64) float64 {
	m := mean(data)
	sum := 0.0
	for _, v := range data {
		d := v - m
		sum += d * d
	}
	return sum / float64(len(data))
}

func minMax(data []float64) (min, max float64) {
	min, max = data[0], data[0]
	for _, v := range data[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

// percentile implements linear interpolation between the nearest ranks,
// matching numpy.percentile's default method.
func percentile(data []float64, p float64) float64 {
	s := sorted(data)
	n := len(s)
	if n == 1 {
		return s[0]
	}
	rank := p / 100.0 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return s[lo]
	}
	frac := rank - float64(lo)
	return s[lo] + frac*(s[hi]-s[lo])
}

func median(data []float64) float64 {
	return percentile(data, 50)
}

// histogramMode bins data into nbins equal-width bins across [min, max],
// picks the bin i with the highest count (argmax over histogram counts, per
// the redesign flag in spec §9 — NOT argmax over the raw data array, which
// the original implementation used in error) and returns
// min + i*(max-min)/(nbins-1), so the first bin maps to min and the last to
// max.
func histogramMode(data []float64) float64 {
	min, max := minMax(data)
	if min == max {
		return min
	}

	const nbins = 64
	width := (max - min) / nbins
	counts := make([]int, nbins)
	for _, v := range data {
		bin := int((v - min) / width)
		if bin >= nbins {
			bin = nbins - 1
		}
		if bin < 0 {
			bin = 0
		}
		counts[bin]++
	}

	best := 0
	for i := 1; i < nbins; i++ {
		if counts[i] > counts[best] {
			best = i
		}
	}

	return min + float64(best)*(max-min)/(nbins-1)
}

func medianAbsDeviation(data []float64, center float64) float64 {
	devs := make([]float64, len(data))
	for i, v := range data {
		devs[i] = math.Abs(v - center)
	}
	return median(devs)
}

// lmoments returns the first four unbiased plotting-position L-moments of
// data, per the standard probability-weighted-moment formulas. Callers must
// guarantee len(data) >= 4.
func lmoments(data []float64) [4]float64 {
	s := sorted(data)
	n := float64(len(s))

	var b0, b1, b2, b3 float64
	for i, x := range s {
		r := float64(i) // 0-indexed rank
		b0 += x
		b1 += x * r / (n - 1)
		if n > 2 {
			b2 += x * r * (r - 1) / ((n - 1) * (n - 2))
		}
		if n > 3 {
			b3 += x * r * (r - 1) * (r - 2) / ((n - 1) * (n - 2) * (n - 3))
		}
	}
	b0 /= n
	b1 /= n
	b2 /= n
	b3 /= n

	l1 := b0
	l2 := 2*b1 - b0
	l3 := 6*b2 - 6*b1 + b0
	l4 := 20*b3 - 30*b2 + 12*b1 - b0

	return [4]float64{l1, l2, l3, l4}
}

func skewness(data []float64) float64 {
	m := mean(data)
	n := float64(len(data))
	var m2, m3 float64
	for _, v := range data {
		d := v - m
		m2 += d * d
		m3 += d * d * d
	}
	m2 /= n
	m3 /= n
	return m3 / math.Pow(m2, 1.5)
}

func kurtosis(data []float64) float64 {
	m := mean(data)
	n := float64(len(data))
	var m2, m4 float64
	for _, v := range data {
		d := v - m
		m2 += d * d
		m4 += d * d * d * d
	}
	m2 /= n
	m4 /= n
	return m4/(m2*m2) - 3.0 // excess kurtosis, matches scipy.stats.kurtosis default
}
