package audiometer

import "math"

// BlockFrames computes the number of interleaved frames to read for a block
// of blockMs milliseconds at sampleRate, floored at 256.
func BlockFrames(sampleRate int, blockMs float64) int {
	frames := int(math.Round(float64(sampleRate) * blockMs / 1000))
	if frames < 256 {
		frames = 256
	}
	return frames
}

// RMS computes the root-mean-square of a channel's samples. An empty slice
// yields 0.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range samples {
		v := float64(s)
		sumSq += v * v
	}
	return math.Sqrt(sumSq / float64(len(samples)))
}

// DeinterleaveChannel extracts channel ch (0-based) from an interleaved
// float32 buffer with the given channel count.
func DeinterleaveChannel(interleaved []float32, channels, ch int) []float32 {
	if channels < 1 {
		channels = 1
	}
	n := len(interleaved) / channels
	out := make([]float32, 0, n)
	for i := ch; i < len(interleaved); i += channels {
		out = append(out, interleaved[i])
	}
	return out
}

// SmoothingWindow is a fixed-length ring buffer used to compute a moving
// mean of recent peak samples.
type SmoothingWindow struct {
	buf   []float64
	next  int
	count int
}

// NewSmoothingWindow returns a window retaining up to size samples. size is
// floored at 1.
func NewSmoothingWindow(size int) *SmoothingWindow {
	if size < 1 {
		size = 1
	}
	return &SmoothingWindow{buf: make([]float64, size)}
}

// Push appends a sample, evicting the oldest once full, and returns the mean
// of all retained samples.
func (w *SmoothingWindow) Push(v float64) float64 {
	w.buf[w.next] = v
	w.next = (w.next + 1) % len(w.buf)
	if w.count < len(w.buf) {
		w.count++
	}

	var sum float64
	for i := 0; i < w.count; i++ {
		sum += w.buf[i]
	}
	return sum / float64(w.count)
}

// SchmittTrigger implements a two-threshold comparator with a minimum hold
// time between state transitions, as used for the "detected" flag.
type SchmittTrigger struct {
	onThreshold  float64
	offThreshold float64
	holdMs       float64
	state        bool
	lastChangeMs float64
	hasChanged   bool
}

// NewSchmittTrigger returns a trigger with the given thresholds (on >= off)
// and minimum hold time in milliseconds.
func NewSchmittTrigger(onThreshold, offThreshold, holdMs float64) *SchmittTrigger {
	return &SchmittTrigger{onThreshold: onThreshold, offThreshold: offThreshold, holdMs: holdMs}
}

// Update feeds a new smoothed peak sample at nowMs (milliseconds on any
// monotonic clock) and returns the resulting detected state.
func (s *SchmittTrigger) Update(nowMs, smoothPeak float64) bool {
	elapsed := nowMs - s.lastChangeMs
	if !s.hasChanged {
		elapsed = s.holdMs
	}

	switch {
	case !s.state && smoothPeak >= s.onThreshold && elapsed >= s.holdMs:
		s.state = true
		s.lastChangeMs = nowMs
		s.hasChanged = true
	case s.state && smoothPeak <= s.offThreshold && elapsed >= s.holdMs:
		s.state = false
		s.lastChangeMs = nowMs
		s.hasChanged = true
	}
	return s.state
}

// State returns the current detected state without updating it.
func (s *SchmittTrigger) State() bool {
	return s.state
}
