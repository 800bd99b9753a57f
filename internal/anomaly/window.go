package anomaly

import (
	"math"
	"sync"
)

// window holds the recent feature-vector history for one telemetry stream.
// All access goes through its mutex; holding it for the whole of a stream's
// ProcessTelemetry call serializes same-key samples while letting different
// keys proceed in parallel.
type window struct {
	mu        sync.Mutex
	order     []string
	lastKnown map[string]float64
	vectors   [][]float64
	head      int
	count     int
}

func newWindow(order []string, capacity int) *window {
	return &window{
		order:     order,
		lastKnown: make(map[string]float64, len(order)),
		vectors:   make([][]float64, capacity),
	}
}

// extract maps a payload to the window's fixed feature order. Missing keys
// fall back to the stream's last-known value, then zero. Non-finite values
// are treated the same as missing ones; the boolean reports whether every
// feature was present and finite.
func (w *window) extract(payload map[string]float64) ([]float64, bool) {
	vec := make([]float64, len(w.order))
	clean := true
	for i, name := range w.order {
		v, ok := payload[name]
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			clean = false
			v = w.lastKnown[name]
		}
		vec[i] = v
		w.lastKnown[name] = v
	}
	return vec, clean
}

// push appends a vector, evicting the oldest when full.
func (w *window) push(vec []float64) {
	w.vectors[w.head] = vec
	w.head = (w.head + 1) % len(w.vectors)
	if w.count < len(w.vectors) {
		w.count++
	}
}

// snapshot returns the buffered vectors oldest-first.
func (w *window) snapshot() [][]float64 {
	out := make([][]float64, 0, w.count)
	start := w.head - w.count
	for i := 0; i < w.count; i++ {
		out = append(out, w.vectors[((start+i)%len(w.vectors)+len(w.vectors))%len(w.vectors)])
	}
	return out
}

// resize changes capacity, keeping the newest min(old, new) vectors.
func (w *window) resize(capacity int) {
	kept := w.snapshot()
	if len(kept) > capacity {
		kept = kept[len(kept)-capacity:]
	}
	w.vectors = make([][]float64, capacity)
	w.head = 0
	w.count = 0
	for _, v := range kept {
		w.push(v)
	}
}

// features renders a vector back into a name->value map for result payloads.
func (w *window) features(vec []float64) map[string]float64 {
	out := make(map[string]float64, len(w.order))
	for i, name := range w.order {
		out[name] = vec[i]
	}
	return out
}
