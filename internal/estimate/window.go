// Package estimate holds the sliding-window statistics shared by the
// network, buffer and sync monitors. A Window is not safe for concurrent use;
// each owner guards its own instance.
package estimate

import "math"

// Window is a fixed-size FIFO of samples. Adding to a full window discards
// the oldest sample.
type Window struct {
	samples []float64
	size    int
}

// NewWindow returns an empty window holding at most size samples.
// A size below 1 is treated as 1.
func NewWindow(size int) *Window {
	if size < 1 {
		size = 1
	}
	return &Window{samples: make([]float64, 0, size), size: size}
}

// Add appends v, evicting the oldest sample if the window is full.
func (w *Window) Add(v float64) {
	if len(w.samples) == w.size {
		copy(w.samples, w.samples[1:])
		w.samples = w.samples[:w.size-1]
	}
	w.samples = append(w.samples, v)
}

// Len returns the number of samples held.
func (w *Window) Len() int { return len(w.samples) }

// Cap returns the window size.
func (w *Window) Cap() int { return w.size }

// Values returns a copy of the samples, oldest first.
func (w *Window) Values() []float64 {
	out := make([]float64, len(w.samples))
	copy(out, w.samples)
	return out
}

// Last returns the most recent sample.
func (w *Window) Last() (float64, bool) {
	if len(w.samples) == 0 {
		return 0, false
	}
	return w.samples[len(w.samples)-1], true
}

// Reset drops every sample.
func (w *Window) Reset() {
	w.samples = w.samples[:0]
}

// Mean returns the arithmetic mean, or 0 for an empty window.
func (w *Window) Mean() float64 {
	if len(w.samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range w.samples {
		sum += s
	}
	return sum / float64(len(w.samples))
}

// WeightedMean returns the recency-weighted mean: the i-th oldest sample
// (1-based) has weight i, so the newest sample weighs the most.
func (w *Window) WeightedMean() float64 {
	if len(w.samples) == 0 {
		return 0
	}
	var sum, weights float64
	for i, s := range w.samples {
		weight := float64(i + 1)
		sum += s * weight
		weights += weight
	}
	return sum / weights
}

// StdDev returns the population standard deviation.
func (w *Window) StdDev() float64 {
	n := len(w.samples)
	if n == 0 {
		return 0
	}
	mean := w.Mean()
	var sq float64
	for _, s := range w.samples {
		d := s - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(n))
}

// CoefficientOfVariation returns stddev/mean. It returns +Inf when the mean
// is zero so callers treat an all-zero window as unstable.
func (w *Window) CoefficientOfVariation() float64 {
	mean := w.Mean()
	if mean == 0 {
		return math.Inf(1)
	}
	return w.StdDev() / math.Abs(mean)
}
