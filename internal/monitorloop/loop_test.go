package monitorloop

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvandebeek/motiondetector/internal/audiometer"
	"github.com/kvandebeek/motiondetector/internal/capture"
	"github.com/kvandebeek/motiondetector/internal/region"
	"github.com/kvandebeek/motiondetector/internal/statusstore"
)

// fakeCapturer returns queued frames in order, then repeats the last one.
type fakeCapturer struct {
	frames []*capture.Frame
	err    error
	grabs  int
}

func (f *fakeCapturer) Grab(r region.Region) (*capture.Frame, error) {
	if f.err != nil {
		return nil, f.err
	}
	i := f.grabs
	if i >= len(f.frames) {
		i = len(f.frames) - 1
	}
	f.grabs++
	return f.frames[i], nil
}

func (f *fakeCapturer) ReleaseThread()                        {}
func (f *fakeCapturer) Monitors() ([]capture.Monitor, error) { return nil, nil }
func (f *fakeCapturer) Close() error                         { return nil }

type fakeAudio struct {
	sample audiometer.Sample
}

func (f *fakeAudio) Latest() audiometer.Sample { return f.sample }

type recorderCall struct {
	state  string
	width  int
	height int
}

type fakeRecorder struct {
	calls []recorderCall
}

func (f *fakeRecorder) Update(now time.Time, state string, frameBGR []byte, width, height int) {
	f.calls = append(f.calls, recorderCall{state: state, width: width, height: height})
}

// solidFrame builds a WxH BGRA frame filled with one gray level.
func solidFrame(w, h int, level byte) *capture.Frame {
	pix := make([]byte, w*h*4)
	for i := 0; i < len(pix); i += 4 {
		pix[i+0] = level
		pix[i+1] = level
		pix[i+2] = level
		pix[i+3] = 255
	}
	return &capture.Frame{Width: w, Height: h, Stride: w * 4, Pix: pix}
}

// withTileLit copies f and sets the top-left third of the frame to white,
// lighting up tile 0 of a 3x3 grid.
func withTileLit(f *capture.Frame) *capture.Frame {
	out := solidFrame(f.Width, f.Height, 0)
	copy(out.Pix, f.Pix)
	for y := 0; y < f.Height/3; y++ {
		for x := 0; x < f.Width/3; x++ {
			i := y*out.Stride + x*4
			out.Pix[i+0] = 255
			out.Pix[i+1] = 255
			out.Pix[i+2] = 255
		}
	}
	return out
}

func testLoopConfig() Config {
	return Config{
		FPS:                        10,
		Backend:                    "x11",
		DiffGain:                   1.0,
		NoMotionThreshold:          0.02,
		LowActivityThreshold:       0.06,
		NoMotionGracePeriodSeconds: 0,
		NoMotionGraceRequiredRatio: 0.6,
		EMAAlpha:                   1.0,
		MeanFullScale:              1.0,
		TileFullScale:              1.0,
	}
}

func newTestLoop(cfg Config, cap capture.Capturer, audio AudioSource, rec RecorderSink) (*Loop, *statusstore.Store) {
	store := statusstore.New(statusstore.Config{
		HistorySeconds: 60,
		GridRows:       3,
		GridCols:       3,
	})
	handle := region.NewHandle(region.Region{X: 0, Y: 0, Width: 96, Height: 96})
	return New(cfg, cap, handle, store, audio, rec), store
}

func ticks(l *Loop, base time.Time, n int) time.Time {
	t := base
	for i := 0; i < n; i++ {
		l.Tick(t)
		t = t.Add(100 * time.Millisecond)
	}
	return t
}

func TestFirstTickPublishesWarmup(t *testing.T) {
	cap := &fakeCapturer{frames: []*capture.Frame{solidFrame(96, 96, 0)}}
	l, store := newTestLoop(testLoopConfig(), cap, &fakeAudio{}, &fakeRecorder{})

	l.Tick(time.Now())

	p := store.GetPayload()
	assert.Equal(t, "ERROR", p.Video.State)
	assert.Equal(t, []string{"warming_up"}, p.Overall.Reasons)
	require.Len(t, p.Video.Tiles, 9)
	for i, v := range p.Video.Tiles {
		require.NotNil(t, v, "tile %d", i)
		assert.Zero(t, *v)
	}
}

func TestStaticInputClassifiesNoMotion(t *testing.T) {
	cap := &fakeCapturer{frames: []*capture.Frame{solidFrame(96, 96, 0)}}
	audio := &fakeAudio{sample: audiometer.Sample{Available: true, Reason: "ok"}}
	rec := &fakeRecorder{}
	l, store := newTestLoop(testLoopConfig(), cap, audio, rec)

	ticks(l, time.Now(), 3)

	p := store.GetPayload()
	assert.Equal(t, "NO_MOTION_NO_AUDIO", p.Video.State)
	assert.Less(t, p.Video.MotionMean, 0.02)
	assert.Equal(t, "NOT_OK", p.Overall.State)
	assert.Equal(t, []string{"no_motion_enabled_tiles"}, p.Overall.Reasons)
	assert.True(t, p.Audio.Available)

	// Warm-up tick does not reach the recorder; the two analyzed ticks do.
	require.Len(t, rec.calls, 2)
	assert.Equal(t, "NO_MOTION_NO_AUDIO", rec.calls[1].state)
	assert.Equal(t, 96, rec.calls[1].width)
}

func TestAudioUnavailableSuffix(t *testing.T) {
	cap := &fakeCapturer{frames: []*capture.Frame{solidFrame(96, 96, 0)}}
	audio := &fakeAudio{sample: audiometer.Sample{Available: false, Reason: "no_loopback_input_device"}}
	l, store := newTestLoop(testLoopConfig(), cap, audio, &fakeRecorder{})

	ticks(l, time.Now(), 2)

	p := store.GetPayload()
	assert.Equal(t, "NO_MOTION_NOSOUNDHARDWARE", p.Video.State)
	assert.False(t, p.Audio.Available)
	assert.Equal(t, "no_loopback_input_device", p.Audio.Reason)
}

func TestSingleLitTileClassifiesMotion(t *testing.T) {
	dark := solidFrame(96, 96, 0)
	lit := withTileLit(dark)
	cap := &fakeCapturer{frames: []*capture.Frame{dark, lit}}
	audio := &fakeAudio{sample: audiometer.Sample{Available: true, Detected: true, LeftPct: 40, RightPct: 40, Reason: "ok"}}
	l, store := newTestLoop(testLoopConfig(), cap, audio, &fakeRecorder{})

	ticks(l, time.Now(), 2)

	p := store.GetPayload()
	assert.Equal(t, "MOTION_WITH_AUDIO", p.Video.State)
	assert.InDelta(t, 1.0, p.Video.MotionInstantTop1, 0.01)
	assert.InDelta(t, 1.0/3.0, p.Video.MotionInstantActivity, 0.01)
	assert.Equal(t, "OK", p.Overall.State)
	require.NotNil(t, p.Video.Tiles[0])
	assert.InDelta(t, 1.0, *p.Video.Tiles[0], 0.01)
}

func TestEMARampsFromZeroAfterWarmup(t *testing.T) {
	cfg := testLoopConfig()
	cfg.EMAAlpha = 0.2
	cfg.LowActivityThreshold = 0.1
	dark := solidFrame(96, 96, 0)
	lit := withTileLit(dark)
	cap := &fakeCapturer{frames: []*capture.Frame{dark, lit}}
	audio := &fakeAudio{sample: audiometer.Sample{Available: true, Reason: "ok"}}
	l, store := newTestLoop(cfg, cap, audio, &fakeRecorder{})

	// Warm-up tick, then one analyzed tick with instant activity 1/3.
	ticks(l, time.Now(), 2)

	p := store.GetPayload()
	// The first analyzed tick blends against the zero-initialized average,
	// so the EMA is alpha*activity, not the raw activity.
	assert.InDelta(t, 0.2/3.0, p.Video.MotionMean, 0.005)
	assert.Equal(t, "LOW_ACTIVITY_NO_AUDIO", p.Video.State)
}

func TestAllTilesDisabled(t *testing.T) {
	cap := &fakeCapturer{frames: []*capture.Frame{solidFrame(96, 96, 0)}}
	rec := &fakeRecorder{}
	l, store := newTestLoop(testLoopConfig(), cap, &fakeAudio{}, rec)
	store.SetDisabledTiles([]int{0, 1, 2, 3, 4, 5, 6, 7, 8})

	ticks(l, time.Now(), 3)

	p := store.GetPayload()
	assert.Equal(t, "ALL_TILES_DISABLED", p.Video.State)
	assert.Equal(t, "OK", p.Overall.State)
	assert.Equal(t, []string{"all_tiles_disabled"}, p.Overall.Reasons)
	for i, v := range p.Video.Tiles {
		assert.Nil(t, v, "tile %d", i)
	}
	assert.Empty(t, rec.calls, "recorder must not be fed while all tiles are disabled")
}

func TestCaptureErrorPublishesErrorPayload(t *testing.T) {
	cap := &fakeCapturer{err: errors.New("XGetImage failed")}
	l, store := newTestLoop(testLoopConfig(), cap, &fakeAudio{}, &fakeRecorder{})

	l.Tick(time.Now())

	p := store.GetPayload()
	assert.Equal(t, "ERROR", p.Capture.State)
	assert.Contains(t, p.Capture.Reason, "XGetImage failed")
	assert.Equal(t, "ERROR", p.Video.State)
	assert.True(t, p.Video.Stale)
	require.Len(t, p.Errors, 1)
	assert.Contains(t, p.Errors[0], "XGetImage failed")
}

func TestStaleAgeGrowsFromLastGoodTick(t *testing.T) {
	good := &fakeCapturer{frames: []*capture.Frame{solidFrame(96, 96, 0)}}
	l, store := newTestLoop(testLoopConfig(), good, &fakeAudio{}, &fakeRecorder{})

	base := time.Now()
	end := ticks(l, base, 2)

	good.err = errors.New("display gone")
	l.Tick(end.Add(3 * time.Second))

	p := store.GetPayload()
	assert.True(t, p.Video.Stale)
	assert.InDelta(t, 3.1, p.Video.StaleAgeSec, 0.2)
}

func TestShapeChangeResetsWarmup(t *testing.T) {
	cap := &fakeCapturer{frames: []*capture.Frame{
		solidFrame(96, 96, 0),
		solidFrame(96, 96, 0),
		solidFrame(64, 64, 0),
	}}
	l, store := newTestLoop(testLoopConfig(), cap, &fakeAudio{}, &fakeRecorder{})

	ticks(l, time.Now(), 3)

	p := store.GetPayload()
	assert.Equal(t, "ERROR", p.Video.State)
	assert.Equal(t, []string{"warming_up"}, p.Overall.Reasons)
}

func TestInvalidFullScalePublishesError(t *testing.T) {
	cfg := testLoopConfig()
	cfg.TileFullScale = 0
	cap := &fakeCapturer{frames: []*capture.Frame{solidFrame(96, 96, 0)}}
	l, store := newTestLoop(cfg, cap, &fakeAudio{}, &fakeRecorder{})

	ticks(l, time.Now(), 2)

	p := store.GetPayload()
	assert.Equal(t, "ERROR", p.Capture.State)
	assert.Contains(t, p.Capture.Reason, "strictly positive")
}

func TestRunStopsOnQuit(t *testing.T) {
	cap := &fakeCapturer{frames: []*capture.Frame{solidFrame(32, 32, 0)}}
	l, _ := newTestLoop(testLoopConfig(), cap, &fakeAudio{}, &fakeRecorder{})

	go l.Run()
	time.Sleep(50 * time.Millisecond)
	l.Stop()

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not stop within 1s of Stop")
	}
}
