package motion

import "math"

const confidenceEpsilon = 1e-6

// Thresholds bundles the configured threshold values a tick's classification
// is judged against.
type Thresholds struct {
	NoMotion    float64
	LowActivity float64
}

// Confidence computes the monotonic-in-distance-from-threshold confidence
// score described for the classifier: a ramp below no_thr that is 1 at zero
// and falls to 0 at no_thr, a triangular peak within the low-activity band
// (1 at its midpoint, 0 at both edges), and a rising ramp above it.
// Invalid threshold ordering (low_thr <= no_thr, or no_thr <= 0) yields 0.
func Confidence(ema float64, th Thresholds) float64 {
	if th.LowActivity <= th.NoMotion || th.NoMotion <= 0 {
		return 0
	}

	switch {
	case ema < th.NoMotion:
		return Clamp01((th.NoMotion - ema) / th.NoMotion)
	case ema < th.LowActivity:
		width := th.LowActivity - th.NoMotion
		if width <= 0 {
			return 0
		}
		return Clamp01(1 - math.Abs(2*ema-th.NoMotion-th.LowActivity)/width)
	default:
		denom := math.Max(confidenceEpsilon, 1-th.LowActivity)
		return Clamp01((ema - th.LowActivity) / denom)
	}
}

// Resolve maps the grace-windowed NO_MOTION verdict and the current EMA into
// a BaseState, per the classifier's decision table. It assumes the
// all-tiles-disabled and warm-up cases have already been handled by the
// caller.
func Resolve(isNoMotion bool, ema float64, lowActivityThreshold float64) BaseState {
	if isNoMotion {
		return StateNoMotion
	}
	if ema < lowActivityThreshold {
		return StateLowActivity
	}
	return StateMotion
}

// AudioLabelSuffix implements the audio annotation rule: NOSOUNDHARDWARE
// when the sample is unavailable, otherwise WITH_AUDIO/NO_AUDIO from the
// explicit detected flag. AudioSample always carries detected explicitly in
// this implementation, so the legacy max(left,right)>1.0 fallback the
// original reached for when that field was absent never applies here.
func AudioLabelSuffix(available, detected bool) AudioSuffix {
	if !available {
		return SuffixNoSoundHardware
	}
	if detected {
		return SuffixWithAudio
	}
	return SuffixNoAudio
}
