// Package recorder implements the edge-triggered MP4 clip recorder: a
// pre-roll ring buffer, a trigger-state machine with cooldown and post-roll
// grace, and a background encoder goroutine that writes frames via a
// bounded command channel.
package recorder

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/kvandebeek/motiondetector/internal/logging"
)

const defaultBitrateBps = 2_000_000

// Config mirrors the recording section of the validated configuration.
type Config struct {
	Enabled          bool
	TriggerState     string
	ClipSeconds      float64
	CooldownSeconds  float64
	AssetsDir        string
	StopGraceSeconds float64
	PreRollSeconds   float64
	FPS              float64

	// OnQualityEvent, when set, receives one event per session edge
	// (clip started / clip stopped). Must be cheap and non-blocking; the
	// monitor loop calls it inline.
	OnQualityEvent func(map[string]interface{})
}

// Recorder is updated once per MonitorLoop tick and owns its own state: the
// pre-roll ring, the idle/active state machine, and the encoder worker's
// command channel. It must only be called from one goroutine (T-monitor).
type Recorder struct {
	cfg      Config
	triggers []string
	log      *slog.Logger

	ring     *preRollRing
	worker   cmdSink
	fifoSize int

	active           bool
	wasTriggerActive bool
	lastStartTS      time.Time
	postRollDeadline time.Time
	hasPostRoll      bool
	framesLeft       int
}

// New constructs a Recorder from cfg. The encoder worker goroutine is
// started immediately; it idles on an empty channel until the first start
// command arrives.
func New(cfg Config) *Recorder {
	preRollFrames := int(math.Ceil(cfg.FPS * cfg.PreRollSeconds))
	if preRollFrames < 0 {
		preRollFrames = 0
	}
	fifoSize := 120
	if 4*preRollFrames > fifoSize {
		fifoSize = 4 * preRollFrames
	}

	worker := newEncoderWorker(fifoSize)
	r := &Recorder{
		cfg:      cfg,
		triggers: strings.Split(cfg.TriggerState, ","),
		log:      logging.L("recorder"),
		ring:     newPreRollRing(preRollFrames),
		worker:   worker,
		fifoSize: fifoSize,
	}
	go worker.run()
	return r
}

// Update runs the trigger state machine for one tick. frame
// must be a BGR24 buffer (width*height*3 bytes); it is copied, never
// retained, by both the ring and the encoder command.
func (r *Recorder) Update(now time.Time, state string, frameBGR []byte, width, height int) {
	if !r.cfg.Enabled {
		return
	}

	matches := r.triggerMatches(state)
	cooldown := time.Duration(r.cfg.CooldownSeconds * float64(time.Second))
	stopGrace := time.Duration(r.cfg.StopGraceSeconds * float64(time.Second))

	switch {
	case !r.active && matches && (r.lastStartTS.IsZero() || now.Sub(r.lastStartTS) >= cooldown):
		r.startSession(now, width, height)
		r.writeSessionFrame(now, frameBGR, true)
	case r.active && matches:
		r.hasPostRoll = false
		r.writeSessionFrame(now, frameBGR, true)
	case r.active && !matches && r.wasTriggerActive:
		r.postRollDeadline = now.Add(stopGrace)
		r.hasPostRoll = true
		r.writeSessionFrame(now, frameBGR, false)
	case r.active && !matches && r.hasPostRoll && now.Before(r.postRollDeadline):
		r.writeSessionFrame(now, frameBGR, false)
	case r.active && !matches && r.hasPostRoll && !now.Before(r.postRollDeadline):
		r.stopSession(now)
	}

	r.ring.Push(frameBGR, width, height)
	r.wasTriggerActive = matches
}

func (r *Recorder) startSession(now time.Time, width, height int) {
	basePath := fmt.Sprintf("%s/nomotion_%s", strings.TrimRight(r.cfg.AssetsDir, "/"), now.Format("20060102_150405"))
	fps := int(math.Round(r.cfg.FPS))
	if fps < 1 {
		fps = 1
	}

	r.worker.enqueue(encoderCmd{
		kind:       cmdStart,
		basePath:   basePath,
		width:      width,
		height:     height,
		fps:        fps,
		bitrateBps: defaultBitrateBps,
	})
	for _, f := range r.ring.Snapshot() {
		r.worker.enqueue(encoderCmd{kind: cmdFrame, bgr: f.bgr, issueActive: false})
	}

	r.framesLeft = int(math.Round(r.cfg.ClipSeconds * r.cfg.FPS))
	if r.framesLeft < 1 {
		r.framesLeft = 1
	}
	r.active = true
	r.hasPostRoll = false
	r.lastStartTS = now
	r.log.Info("clip recording started", "base_path", basePath)
	r.emitEvent(map[string]interface{}{
		"type":      "clip_started",
		"base_path": basePath,
		"at":        float64(now.UnixNano()) / float64(time.Second),
	})
}

// writeSessionFrame enqueues one frame for the active session and counts it
// against the clip's frame budget; the session stops once the budget runs
// out, whatever the trigger state. Pre-roll flush frames are enqueued
// directly by startSession and do not count against the budget.
func (r *Recorder) writeSessionFrame(now time.Time, bgr []byte, issueActive bool) {
	r.worker.enqueue(encoderCmd{kind: cmdFrame, bgr: append([]byte(nil), bgr...), issueActive: issueActive})
	r.framesLeft--
	if r.framesLeft <= 0 {
		r.stopSession(now)
	}
}

func (r *Recorder) stopSession(now time.Time) {
	r.worker.enqueue(encoderCmd{kind: cmdStop})
	r.emitEvent(map[string]interface{}{
		"type": "clip_stopped",
		"at":   float64(now.UnixNano()) / float64(time.Second),
	})
	r.active = false
	r.hasPostRoll = false
}

func (r *Recorder) emitEvent(e map[string]interface{}) {
	if r.cfg.OnQualityEvent != nil {
		r.cfg.OnQualityEvent(e)
	}
}

// triggerMatches reports whether state matches any configured trigger
// prefix: equal to it, or it followed by "_" and a suffix.
func (r *Recorder) triggerMatches(state string) bool {
	for _, t := range r.triggers {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if state == t || (len(state) > len(t) && state[:len(t)] == t && state[len(t)] == '_') {
			return true
		}
	}
	return false
}

// Close stops the encoder worker, releasing any open writer.
func (r *Recorder) Close() {
	r.worker.shutdown()
}
