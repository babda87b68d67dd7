package audiometer

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unsafe"

	"github.com/gen2brain/malgo"

	"github.com/kvandebeek/motiondetector/internal/logging"
)

const bytesPerFloat32 = 4

// Config mirrors the audio section of the validated configuration; it is
// copied by value into the Meter so this package does not depend on the
// config package.
type Config struct {
	Enabled       bool
	DeviceID      string
	DeviceIndex   int
	DeviceSubstr  string
	SampleRate    int
	Channels      int
	BlockMs       float64
	CalibSec      float64
	Factor        float64
	AbsMin        float64
	OnThreshold   float64
	OffThreshold  float64
	HoldMs        float64
	SmoothSamples int
}

// Meter is a long-running loopback audio sampler. It owns the capture
// device for its lifetime; start/stop are idempotent.
type Meter struct {
	cfg Config
	log *slog.Logger

	mu     sync.RWMutex
	latest Sample

	quit    chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup

	startMu sync.Mutex
	started bool
}

// New returns a Meter for the given configuration. It does not start
// sampling until Start is called.
func New(cfg Config) *Meter {
	return &Meter{
		cfg:    cfg,
		log:    logging.L("audiometer"),
		quit:   make(chan struct{}),
		latest: unavailable("not_started"),
	}
}

// Start spawns the sampling worker. Idempotent: a second call is a no-op.
// If the meter is disabled, it publishes an unavailable sample and returns
// immediately without spawning a worker.
func (m *Meter) Start() error {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	if m.started {
		return nil
	}
	m.started = true

	if !m.cfg.Enabled {
		m.setLatest(unavailable("disabled"))
		return nil
	}

	m.wg.Add(1)
	go m.run()
	return nil
}

// Stop signals the worker to terminate and releases device handles on its
// way out. Idempotent.
func (m *Meter) Stop() {
	m.stopped.Do(func() {
		close(m.quit)
	})
	m.wg.Wait()
}

// Latest returns the most recently published sample.
func (m *Meter) Latest() Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}

func (m *Meter) setLatest(s Sample) {
	m.mu.Lock()
	m.latest = s
	m.mu.Unlock()
}

func (m *Meter) run() {
	defer m.wg.Done()

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		m.log.Debug("malgo message", "message", message)
	})
	if err != nil {
		m.publishCaptureFailed("init_context", err)
		m.sleepUntilQuit()
		return
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		m.publishCaptureFailed("enumerate_devices", err)
		m.sleepUntilQuit()
		return
	}

	// malgo's raw device ID has no portable string form, so device_id
	// resolution matches against the device's display name instead.
	candidates := make([]deviceCandidate, len(infos))
	for i, info := range infos {
		candidates[i] = deviceCandidate{id: info.Name(), name: info.Name()}
	}
	idx, err := resolveDeviceIndex(candidates, m.cfg.DeviceID, m.cfg.DeviceIndex, m.cfg.DeviceSubstr)
	if err != nil {
		m.publishCaptureFailed("resolve_device", err)
		m.sleepUntilQuit()
		return
	}

	frames := BlockFrames(m.cfg.SampleRate, m.cfg.BlockMs)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(m.cfg.Channels)
	deviceConfig.SampleRate = uint32(m.cfg.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(frames)
	if idx >= 0 {
		deviceConfig.Capture.DeviceID = infos[idx].ID.Pointer()
	}

	smoothing := NewSmoothingWindow(m.cfg.SmoothSamples)
	trigger := NewSchmittTrigger(m.cfg.OnThreshold, m.cfg.OffThreshold, m.cfg.HoldMs)
	calibrator := NewCalibrator(m.cfg.CalibSec, m.cfg.Factor, m.cfg.AbsMin)
	startTime := time.Now()
	var lastSampleTime time.Time

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			if len(input) < bytesPerFloat32 {
				return
			}
			samples := bytesAsFloat32(input)
			m.onSamples(samples, smoothing, trigger, calibrator, startTime, &lastSampleTime)
		},
	})
	if err != nil {
		m.publishCaptureFailed("init_device", err)
		m.sleepUntilQuit()
		return
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		m.publishCaptureFailed("start_device", err)
		m.sleepUntilQuit()
		return
	}
	defer func() { _ = device.Stop() }()

	<-m.quit
}

func (m *Meter) onSamples(interleaved []float32, smoothing *SmoothingWindow, trigger *SchmittTrigger, calibrator *Calibrator, startTime time.Time, lastSampleTime *time.Time) {
	channels := m.cfg.Channels
	if channels < 1 {
		channels = 1
	}

	left := RMS(DeinterleaveChannel(interleaved, channels, 0))
	right := left
	if channels > 1 {
		right = RMS(DeinterleaveChannel(interleaved, channels, 1))
	}

	peak := left
	if right > peak {
		peak = right
	}
	smoothPeak := smoothing.Push(peak)

	now := time.Now()
	dtSec := 0.0
	if !lastSampleTime.IsZero() {
		dtSec = now.Sub(*lastSampleTime).Seconds()
	}
	*lastSampleTime = now
	calibrator.Observe(smoothPeak, dtSec)

	on, off := calibrator.Thresholds(m.cfg.OnThreshold, m.cfg.OffThreshold)
	trigger.onThreshold = on
	trigger.offThreshold = off

	nowMs := float64(now.Sub(startTime).Milliseconds())
	detected := trigger.Update(nowMs, smoothPeak)

	m.setLatest(Sample{
		Available: true,
		LeftPct:   clamp01(left) * 100,
		RightPct:  clamp01(right) * 100,
		Detected:  detected,
		Reason:    "ok",
	})
}

func (m *Meter) publishCaptureFailed(kind string, err error) {
	m.log.Warn("audio capture failed", "kind", kind, logging.KeyError, err)
	m.setLatest(unavailable(fmt.Sprintf("capture_failed:%s", kind)))
}

func (m *Meter) sleepUntilQuit() {
	<-m.quit
}

// bytesAsFloat32 performs a zero-copy reinterpretation of a byte slice as a
// float32 slice. The returned slice shares memory with data and must not be
// retained past the lifetime of the calling callback.
func bytesAsFloat32(data []byte) []float32 {
	if len(data) < bytesPerFloat32 {
		return nil
	}
	numSamples := len(data) / bytesPerFloat32
	return unsafe.Slice((*float32)(unsafe.Pointer(&data[0])), numSamples)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
