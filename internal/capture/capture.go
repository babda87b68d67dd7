// Package capture grabs a rectangle of the virtual desktop as a BGRA frame.
package capture

import (
	"errors"
	"fmt"

	"github.com/kvandebeek/motiondetector/internal/region"
)

// Frame is a transient BGRA byte buffer of shape (Height, Width, 4).
type Frame struct {
	Width  int
	Height int
	Stride int
	Pix    []byte // B,G,R,A per pixel, row-major
}

// Monitor is one physical display rectangle within the virtual desktop.
type Monitor struct {
	ID     int
	Left   int
	Top    int
	Width  int
	Height int
}

// Capturer grabs a rectangle of the virtual desktop.
type Capturer interface {
	// Grab captures the requested region, clamped to the virtual desktop
	// bounds, and returns a BGRA frame. Never returns a partial frame: on
	// failure the error is non-nil and the frame is nil.
	Grab(r region.Region) (*Frame, error)

	// ReleaseThread releases any platform handles held for the calling
	// OS thread. Safe to call from a goroutine that will not call Grab
	// again.
	ReleaseThread()

	// Monitors enumerates the display rectangles making up the virtual
	// desktop, for the UI's monitor picker.
	Monitors() ([]Monitor, error)

	// Close releases all resources held by the capturer.
	Close() error
}

// ErrNotSupported is returned when screen capture is not implemented for the
// configured backend on this platform.
var ErrNotSupported = errors.New("screen capture not supported for this backend/platform")

// ErrDisplayUnavailable is returned when the virtual desktop could not be
// queried (e.g. no display server reachable).
var ErrDisplayUnavailable = errors.New("virtual desktop display unavailable")

// New constructs the capturer for the given backend name. Only "x11" is
// recognized; any other configured backend fails at construction time,
// never silently falling back.
func New(backend string) (Capturer, error) {
	switch backend {
	case "x11":
		return newX11Capturer()
	default:
		return nil, fmt.Errorf("%w: backend %q", ErrNotSupported, backend)
	}
}

// clampRegion clamps r to the [0,0]-(boundW,boundH) virtual desktop
// rectangle and enforces width>=1, height>=1 after clamping.
func clampRegion(r region.Region, boundW, boundH int) (region.Region, error) {
	x := r.X
	y := r.Y
	w := r.Width
	h := r.Height

	if x < 0 {
		w += x
		x = 0
	}
	if y < 0 {
		h += y
		y = 0
	}
	if x+w > boundW {
		w = boundW - x
	}
	if y+h > boundH {
		h = boundH - y
	}
	if w < 1 || h < 1 {
		return region.Region{}, fmt.Errorf("region clamps to empty rectangle (bounds %dx%d)", boundW, boundH)
	}
	return region.Region{X: x, Y: y, Width: w, Height: h}, nil
}
