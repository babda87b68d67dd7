// Package motion implements the frame-to-frame motion classifier: grayscale
// conversion, tiling, EMA smoothing, grace-windowed state classification,
// and confidence scoring. Types here are pure and side-effect free so the
// monitor loop's single goroutine can own an instance of each without
// sharing it.
package motion

// BaseState is the classifier's primary label, before any audio suffix is
// appended at the JSON boundary.
type BaseState int

const (
	StateError BaseState = iota
	StateNoMotion
	StateLowActivity
	StateMotion
	StateAllTilesDisabled
)

func (s BaseState) String() string {
	switch s {
	case StateNoMotion:
		return "NO_MOTION"
	case StateLowActivity:
		return "LOW_ACTIVITY"
	case StateMotion:
		return "MOTION"
	case StateAllTilesDisabled:
		return "ALL_TILES_DISABLED"
	default:
		return "ERROR"
	}
}

// AudioSuffix annotates a BaseState with the audio meter's read at tick time.
type AudioSuffix int

const (
	SuffixNone AudioSuffix = iota
	SuffixWithAudio
	SuffixNoAudio
	SuffixNoSoundHardware
)

func (s AudioSuffix) String() string {
	switch s {
	case SuffixWithAudio:
		return "_WITH_AUDIO"
	case SuffixNoAudio:
		return "_NO_AUDIO"
	case SuffixNoSoundHardware:
		return "_NOSOUNDHARDWARE"
	default:
		return ""
	}
}

// Label is the full video.state value: a base classification plus an
// optional audio suffix, rendered to a single string at the JSON boundary.
type Label struct {
	Base   BaseState
	Suffix AudioSuffix
}

func (l Label) String() string {
	return l.Base.String() + l.Suffix.String()
}

// MatchesTrigger reports whether this label's rendered string matches the
// recorder trigger prefix T: equal to T, or T followed by "_" and anything.
func MatchesTrigger(label, trigger string) bool {
	if label == trigger {
		return true
	}
	return len(label) > len(trigger) && label[:len(trigger)] == trigger && label[len(trigger)] == '_'
}
