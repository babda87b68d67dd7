// Package monitorloop runs the fixed-rate capture->analysis->state->publish
// pipeline: the hardest single piece of the system. It owns prevGray, the
// EMA, and the grace-window deque as fields never shared outside its
// goroutine, per the design note that EMA/grace state lives only in the
// monitor thread.
package monitorloop

import (
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"time"

	"github.com/kvandebeek/motiondetector/internal/audiometer"
	"github.com/kvandebeek/motiondetector/internal/capture"
	"github.com/kvandebeek/motiondetector/internal/logging"
	"github.com/kvandebeek/motiondetector/internal/motion"
	"github.com/kvandebeek/motiondetector/internal/region"
	"github.com/kvandebeek/motiondetector/internal/statusstore"
)

// AudioSource is the capability the loop needs from the audio meter: the
// most recently published sample, read without blocking.
type AudioSource interface {
	Latest() audiometer.Sample
}

// RecorderSink is the capability the loop needs from the clip recorder.
type RecorderSink interface {
	Update(now time.Time, state string, frameBGR []byte, width, height int)
}

// Config mirrors the capture/motion sections of the validated configuration
// that this loop consumes directly.
type Config struct {
	FPS                        float64
	Backend                    string
	DiffGain                   float64
	NoMotionThreshold          float64
	LowActivityThreshold       float64
	NoMotionGracePeriodSeconds float64
	NoMotionGraceRequiredRatio float64
	EMAAlpha                   float64
	MeanFullScale              float64
	TileFullScale              float64
	AnalysisInsetPx            int
}

// Loop is the fixed-rate capture/analysis scheduler. Exactly one
// goroutine (T-monitor) calls Tick and owns every unexported field.
type Loop struct {
	cfg      Config
	capturer capture.Capturer
	region   *region.Handle
	store    *statusstore.Store
	audio    AudioSource
	recorder RecorderSink
	log      *slog.Logger

	quit chan struct{}
	done chan struct{}

	prevGray *motion.Gray
	ema      *motion.EMA
	grace    *motion.GraceWindow
	lastOK   time.Time
	nowFn    func() time.Time
	sleepFn  func(d time.Duration, quit <-chan struct{})
}

// New constructs a Loop. Call Run to start the scheduler; it blocks until
// Stop is called or quit fires.
func New(cfg Config, capturer capture.Capturer, regionHandle *region.Handle, store *statusstore.Store, audio AudioSource, rec RecorderSink) *Loop {
	return &Loop{
		cfg:      cfg,
		capturer: capturer,
		region:   regionHandle,
		store:    store,
		audio:    audio,
		recorder: rec,
		log:      logging.L("monitorloop"),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		ema:      motion.NewEMA(cfg.EMAAlpha),
		grace:    motion.NewGraceWindow(time.Duration(cfg.NoMotionGracePeriodSeconds*float64(time.Second)), cfg.NoMotionGraceRequiredRatio),
		nowFn:    time.Now,
		sleepFn:  sleepWithQuit,
	}
}

// Run iterates at the configured period until Stop is called. Each
// iteration stamps t0, captures and analyzes one frame, publishes the
// result, and sleeps for the remainder of the period with the sleep
// preemptible by quit so shutdown never waits a full tick.
func (l *Loop) Run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(l.done)
	defer l.capturer.ReleaseThread()
	period := time.Duration(float64(time.Second) / math.Max(1, l.cfg.FPS))

	for {
		select {
		case <-l.quit:
			return
		default:
		}

		t0 := l.nowFn()
		l.Tick(t0)

		elapsed := l.nowFn().Sub(t0)
		remaining := period - elapsed
		if remaining > 0 {
			l.sleepFn(remaining, l.quit)
		}

		select {
		case <-l.quit:
			return
		default:
		}
	}
}

// Stop signals the loop to exit after its current tick and returns without
// waiting; callers wait on Done for Run to return. Safe to call once.
func (l *Loop) Stop() {
	close(l.quit)
}

// Done returns a channel closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Tick performs exactly one capture+analysis+publish cycle. Exported (on
// the unexported-method surface of the package, via this one name) so
// tests can drive ticks deterministically without running Run's scheduler.
func (l *Loop) Tick(t0 time.Time) {
	r := l.region.Snapshot()

	frame, err := l.capturer.Grab(r)
	if err != nil {
		l.publishError(t0, r, fmt.Sprintf("capture_failed: %v", err))
		return
	}

	gray := motion.ToGrayBT601(frame.Pix, frame.Width, frame.Height, frame.Stride)
	gray = motion.InsetCrop(gray, l.cfg.AnalysisInsetPx)

	if l.prevGray == nil || !motion.SameShape(*l.prevGray, gray) {
		l.publishWarmup(t0, r, gray.Width, gray.Height)
		l.prevGray = &gray
		l.ema.Reset()
		l.grace.Reset()
		return
	}

	diff := motion.AbsDiff(gray, *l.prevGray)
	l.prevGray = &gray

	// The grid can change at runtime via POST /ui/grid, so each tick reads
	// the store's current partition rather than the startup configuration.
	rows, cols := l.store.GetGrid()
	rows, cols = maxInt(1, rows), maxInt(1, cols)
	tileH := maxInt(1, diff.Height/rows)
	dead := motion.DeadRowBands(diff, tileH, minInt(5, rows-1))
	if dead > 0 {
		diff = motion.CropRows(diff, dead*tileH)
	}

	tilesRaw := motion.TileMeans(diff, rows, cols)
	if l.cfg.TileFullScale <= 0 || l.cfg.MeanFullScale <= 0 {
		l.publishError(t0, r, "mean_full_scale and tile_full_scale must be strictly positive")
		return
	}
	tilesNorm := make([]float64, len(tilesRaw))
	for i, v := range tilesRaw {
		tilesNorm[i] = motion.Clamp01(v / l.cfg.TileFullScale)
	}

	meanRaw := motion.MeanRaw(diff)
	meanRaw = math.Min(1.0, meanRaw*l.cfg.DiffGain)
	meanNorm := motion.Clamp01(meanRaw / l.cfg.MeanFullScale)

	disabled := l.store.GetDisabledTiles()
	disabledSet := make(map[int]struct{}, len(disabled))
	for _, idx := range disabled {
		if idx >= 0 && idx < len(tilesNorm) {
			disabledSet[idx] = struct{}{}
		}
	}

	enabled := make([]float64, 0, len(tilesNorm))
	for i, v := range tilesNorm {
		if _, skip := disabledSet[i]; skip {
			continue
		}
		enabled = append(enabled, v)
	}

	bgr := bgraToBGR(frame.Pix, frame.Width, frame.Height, frame.Stride)

	if len(enabled) == 0 {
		l.ema.Reset()
		l.grace.Reset()
		payload := l.basePayload(t0, r, rows, cols)
		payload.Video.State = motion.StateAllTilesDisabled.String()
		payload.Video.Tiles = renderTiles(tilesNorm, disabledSet)
		payload.Video.MotionMean = 0
		payload.Audio = audioInfo(l.audio.Latest())
		payload.Overall = statusstore.OverallInfo{State: "OK", Reasons: []string{"all_tiles_disabled"}}
		l.lastOK = t0
		l.store.SetLatest(payload)
		return
	}

	instantMean := motion.Mean(enabled)
	instantTop1 := motion.Max(enabled)
	instantActivity := motion.TopKMean(enabled, 3)
	ema := l.ema.Update(instantActivity)

	noCandidate := instantTop1 < l.cfg.NoMotionThreshold
	isNoMotion := l.grace.Classify(t0, noCandidate)

	base := motion.Resolve(isNoMotion, ema, l.cfg.LowActivityThreshold)
	confidence := motion.Confidence(ema, motion.Thresholds{NoMotion: l.cfg.NoMotionThreshold, LowActivity: l.cfg.LowActivityThreshold})

	sample := l.audio.Latest()
	suffix := motion.AudioLabelSuffix(sample.Available, sample.Detected)
	label := motion.Label{Base: base, Suffix: suffix}

	overall := statusstore.OverallInfo{State: "NOT_OK", Reasons: []string{"no_motion_enabled_tiles"}}
	if base == motion.StateMotion {
		overall = statusstore.OverallInfo{State: "OK", Reasons: []string{}}
	}

	payload := l.basePayload(t0, r, rows, cols)
	payload.Video.State = label.String()
	payload.Video.Confidence = confidence
	payload.Video.MotionMean = ema
	payload.Video.MotionInstantMean = instantMean
	payload.Video.MotionInstantTop1 = instantTop1
	payload.Video.MotionInstantActivity = instantActivity
	payload.Video.Tiles = renderTiles(tilesNorm, disabledSet)
	payload.Audio = audioInfo(sample)
	payload.Overall = overall

	l.log.Debug("tick",
		"state", payload.Video.State,
		"mean_norm", meanNorm,
		"ema", ema,
		"top1", instantTop1)

	l.lastOK = t0
	l.store.SetLatest(payload)
	l.recorder.Update(t0, label.String(), bgr, frame.Width, frame.Height)
}

// audioInfo maps the meter's sample onto the payload's audio block.
func audioInfo(s audiometer.Sample) statusstore.AudioInfo {
	return statusstore.AudioInfo{
		Available: s.Available,
		Left:      s.LeftPct,
		Right:     s.RightPct,
		Detected:  s.Detected,
		Reason:    s.Reason,
	}
}

func (l *Loop) basePayload(t0 time.Time, r region.Region, rows, cols int) statusstore.Payload {
	return statusstore.Payload{
		Timestamp: float64(t0.UnixNano()) / float64(time.Second),
		Capture:   statusstore.CaptureInfo{State: "OK", Reason: "", Backend: l.cfg.Backend},
		Video: statusstore.VideoInfo{
			Grid: statusstore.GridInfo{Rows: rows, Cols: cols},
		},
		Audio:  statusstore.AudioInfo{},
		Region: statusstore.RegionInfo{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height},
		Errors: []string{},
	}
}

func (l *Loop) publishWarmup(t0 time.Time, r region.Region, width, height int) {
	rows, cols := l.store.GetGrid()
	rows, cols = maxInt(1, rows), maxInt(1, cols)
	tiles := make([]*float64, rows*cols)
	for i := range tiles {
		zero := 0.0
		tiles[i] = &zero
	}
	payload := l.basePayload(t0, r, rows, cols)
	payload.Video.State = motion.StateError.String()
	payload.Video.Tiles = tiles
	payload.Audio = audioInfo(l.audio.Latest())
	payload.Overall = statusstore.OverallInfo{State: "NOT_OK", Reasons: []string{"warming_up"}}
	l.store.SetLatest(payload)
}

func (l *Loop) publishError(t0 time.Time, r region.Region, message string) {
	rows, cols := l.store.GetGrid()
	payload := l.basePayload(t0, r, maxInt(1, rows), maxInt(1, cols))
	payload.Capture = statusstore.CaptureInfo{State: "ERROR", Reason: message, Backend: l.cfg.Backend}
	payload.Video.State = motion.StateError.String()
	payload.Video.Stale = true
	if !l.lastOK.IsZero() {
		payload.Video.StaleAgeSec = t0.Sub(l.lastOK).Seconds()
	}
	payload.Audio = audioInfo(l.audio.Latest())
	payload.Overall = statusstore.OverallInfo{State: "NOT_OK", Reasons: []string{message}}
	payload.Errors = []string{message}
	l.log.Warn("tick failed", logging.KeyError, message)
	l.store.SetLatest(payload)
}

// renderTiles maps normalized tile values to the mask-aware container:
// disabled indices render nil, everything else its normalized value.
func renderTiles(tilesNorm []float64, disabled map[int]struct{}) []*float64 {
	out := make([]*float64, len(tilesNorm))
	for i, v := range tilesNorm {
		if _, skip := disabled[i]; skip {
			continue
		}
		cp := v
		out[i] = &cp
	}
	return out
}

// bgraToBGR drops the alpha channel, producing the BGR24 buffer the
// recorder's encoder expects.
func bgraToBGR(pix []byte, width, height, stride int) []byte {
	out := make([]byte, width*height*3)
	for y := 0; y < height; y++ {
		srcOff := y * stride
		dstOff := y * width * 3
		for x := 0; x < width; x++ {
			si := srcOff + x*4
			di := dstOff + x*3
			out[di+0] = pix[si+0]
			out[di+1] = pix[si+1]
			out[di+2] = pix[si+2]
		}
	}
	return out
}

func sleepWithQuit(d time.Duration, quit <-chan struct{}) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-quit:
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
