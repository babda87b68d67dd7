// Package composition wires the capturer, audio meter, recorder, monitor
// loop, status store, and HTTP server together and owns their shutdown
// order. The quit flag in the store is the single shutdown signal: POST
// /quit, the overlay, and OS signals all set it, and the watcher here
// tears everything down once it fires.
package composition

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kvandebeek/motiondetector/internal/audiometer"
	"github.com/kvandebeek/motiondetector/internal/capture"
	"github.com/kvandebeek/motiondetector/internal/config"
	"github.com/kvandebeek/motiondetector/internal/httpserver"
	"github.com/kvandebeek/motiondetector/internal/logging"
	"github.com/kvandebeek/motiondetector/internal/monitorloop"
	"github.com/kvandebeek/motiondetector/internal/recorder"
	"github.com/kvandebeek/motiondetector/internal/region"
	"github.com/kvandebeek/motiondetector/internal/statusstore"
)

const (
	quitPollInterval = 100 * time.Millisecond
	loopJoinTimeout  = time.Second
	serverDrain      = 2 * time.Second
)

// App is the assembled process. Build with New, run with Run; Run blocks
// until the store's quit flag fires and teardown completes.
type App struct {
	cfg      *config.Config
	store    *statusstore.Store
	region   *region.Handle
	capturer capture.Capturer
	meter    *audiometer.Meter
	rec      *recorder.Recorder
	loop     *monitorloop.Loop
	server   *httpserver.Server
	log      *slog.Logger

	teardown sync.Once
}

// New builds the full component graph from validated configuration. Nothing
// is started yet; Run starts every worker.
func New(cfg *config.Config) (*App, error) {
	capturer, err := capture.New(cfg.Capture.Backend)
	if err != nil {
		return nil, fmt.Errorf("construct capturer: %w", err)
	}
	return build(cfg, capturer)
}

func build(cfg *config.Config, capturer capture.Capturer) (*App, error) {
	log := logging.L("composition")

	monitors, err := capturer.Monitors()
	if err != nil {
		// The loop will surface per-tick capture errors; an empty monitor
		// list only degrades the UI's monitor picker.
		log.Warn("monitor enumeration failed", logging.KeyError, err)
	}
	storeMonitors := make([]statusstore.Monitor, len(monitors))
	for i, m := range monitors {
		storeMonitors[i] = statusstore.Monitor{ID: m.ID, Left: m.Left, Top: m.Top, Width: m.Width, Height: m.Height}
	}

	ir := cfg.UI.InitialRegion
	store := statusstore.New(statusstore.Config{
		HistorySeconds:   cfg.Motion.HistorySeconds,
		GridRows:         cfg.Motion.GridRows,
		GridCols:         cfg.Motion.GridCols,
		ShowTileNumbers:  cfg.UI.ShowTileNumbers,
		ShowOverlayState: cfg.UI.ShowOverlayState,
		RegionX:          ir.X,
		RegionY:          ir.Y,
		RegionWidth:      ir.Width,
		RegionHeight:     ir.Height,
		Monitors:         storeMonitors,
	})
	regionHandle := region.NewHandle(region.Region{X: ir.X, Y: ir.Y, Width: ir.Width, Height: ir.Height})

	meter := audiometer.New(audiometer.Config{
		Enabled:       cfg.Audio.Enabled,
		DeviceID:      cfg.Audio.DeviceID,
		DeviceIndex:   cfg.Audio.DeviceIndex,
		DeviceSubstr:  cfg.Audio.DeviceSubstr,
		SampleRate:    cfg.Audio.SampleRate,
		Channels:      cfg.Audio.Channels,
		BlockMs:       cfg.Audio.BlockMs,
		CalibSec:      cfg.Audio.CalibSec,
		Factor:        cfg.Audio.Factor,
		AbsMin:        cfg.Audio.AbsMin,
		OnThreshold:   cfg.Audio.OnThreshold,
		OffThreshold:  cfg.Audio.OffThreshold,
		HoldMs:        cfg.Audio.HoldMs,
		SmoothSamples: cfg.Audio.SmoothSamples,
	})

	rec := recorder.New(recorder.Config{
		Enabled:          cfg.Recording.Enabled,
		TriggerState:     cfg.Recording.TriggerState,
		ClipSeconds:      cfg.Recording.ClipSeconds,
		CooldownSeconds:  cfg.Recording.CooldownSeconds,
		AssetsDir:        cfg.Recording.AssetsDir,
		StopGraceSeconds: cfg.Recording.StopGraceSeconds,
		PreRollSeconds:   cfg.Recording.PreRollSeconds,
		FPS:              cfg.Capture.FPS,
		OnQualityEvent:   store.AddQualityEvent,
	})

	loop := monitorloop.New(monitorloop.Config{
		FPS:                        cfg.Capture.FPS,
		Backend:                    cfg.Capture.Backend,
		DiffGain:                   cfg.Motion.DiffGain,
		NoMotionThreshold:          cfg.Motion.NoMotionThreshold,
		LowActivityThreshold:       cfg.Motion.LowActivityThreshold,
		NoMotionGracePeriodSeconds: cfg.Motion.NoMotionGracePeriodSeconds,
		NoMotionGraceRequiredRatio: cfg.Motion.NoMotionGraceRequiredRatio,
		EMAAlpha:                   cfg.Motion.EMAAlpha,
		MeanFullScale:              cfg.Motion.MeanFullScale,
		TileFullScale:              cfg.Motion.TileFullScale,
		AnalysisInsetPx:            cfg.Motion.AnalysisInsetPx,
	}, capturer, regionHandle, store, meter, rec)

	server := httpserver.New(httpserver.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		ClipsDir:       cfg.Recording.AssetsDir,
		HistorySeconds: cfg.Motion.HistorySeconds,
	}, store, regionHandle)

	return &App{
		cfg:      cfg,
		store:    store,
		region:   regionHandle,
		capturer: capturer,
		meter:    meter,
		rec:      rec,
		loop:     loop,
		server:   server,
		log:      log,
	}, nil
}

// Store exposes the status store, e.g. so signal handlers can set the quit
// flag.
func (a *App) Store() *statusstore.Store {
	return a.store
}

// SetRegion is the callback surface the overlay collaborator uses to move
// the capture rectangle. It mirrors POST /ui/region: the shared handle and
// the UI settings both update.
func (a *App) SetRegion(x, y, w, h int) {
	if w < 1 || h < 1 {
		return
	}
	a.region.Set(region.Region{X: x, Y: y, Width: w, Height: h})
	a.store.SetRegion(x, y, w, h)
}

// RequestQuit sets the quit flag; Run observes it and tears down.
func (a *App) RequestQuit() {
	a.store.RequestQuit()
}

// Run starts every worker, then blocks polling the quit flag at 10 Hz.
// Once the flag fires it shuts everything down in reverse dependency
// order and returns.
func (a *App) Run() error {
	if err := a.meter.Start(); err != nil {
		return fmt.Errorf("start audio meter: %w", err)
	}
	go a.loop.Run()
	if err := a.server.Start(); err != nil {
		a.stopAll()
		return err
	}

	a.log.Info("monitor running",
		"addr", fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port),
		"fps", a.cfg.Capture.FPS)

	for !a.store.QuitRequested() {
		time.Sleep(quitPollInterval)
	}
	a.log.Info("quit requested, shutting down")
	a.stopAll()
	return nil
}

// stopAll tears down every worker. Joins are bounded: the workers are
// background goroutines and the process may exit even if one overruns its
// timeout.
func (a *App) stopAll() {
	a.teardown.Do(func() {
		a.loop.Stop()
		select {
		case <-a.loop.Done():
		case <-time.After(loopJoinTimeout):
			a.log.Warn("monitor loop did not stop within timeout")
		}

		a.meter.Stop()
		a.rec.Close()

		ctx, cancel := context.WithTimeout(context.Background(), serverDrain)
		defer cancel()
		if err := a.server.Shutdown(ctx); err != nil {
			a.log.Warn("http server shutdown", logging.KeyError, err)
		}

		if err := a.capturer.Close(); err != nil {
			a.log.Warn("capturer close", logging.KeyError, err)
		}
	})
}
