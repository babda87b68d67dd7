package audiometer

import (
	"errors"
	"strings"
)

// ErrNoLoopbackDevice is returned when no loopback-capable input device can
// be resolved from the configured selectors.
var ErrNoLoopbackDevice = errors.New("no_loopback_input_device")

// deviceCandidate is a backend-agnostic view of one enumerated device,
// letting the resolution chain below stay pure and independent of the
// concrete malgo.DeviceInfo shape.
type deviceCandidate struct {
	id   string
	name string
}

// resolveDeviceIndex implements the device resolution chain: device_id, then
// device_index, then first name-substring match, then the first
// loopback-like device, failing otherwise. It returns the index into
// candidates of the resolved device.
func resolveDeviceIndex(candidates []deviceCandidate, deviceID string, deviceIndex int, substr string) (int, error) {
	if deviceID != "" {
		for i, d := range candidates {
			if d.id == deviceID {
				return i, nil
			}
		}
	}

	if deviceIndex >= 0 && deviceIndex < len(candidates) {
		return deviceIndex, nil
	}

	if substr != "" {
		lower := strings.ToLower(substr)
		for i, d := range candidates {
			if strings.Contains(strings.ToLower(d.name), lower) {
				return i, nil
			}
		}
	}

	for i, d := range candidates {
		if looksLikeLoopback(d.name) {
			return i, nil
		}
	}

	return -1, ErrNoLoopbackDevice
}

func looksLikeLoopback(name string) bool {
	lower := strings.ToLower(name)
	for _, marker := range []string{"loopback", "monitor", "stereo mix", "what u hear"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
