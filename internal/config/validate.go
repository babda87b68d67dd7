package config

import "fmt"

var knownBackends = map[string]bool{
	"x11": true,
}

var knownAudioBackends = map[string]bool{
	"loopback": true,
}

// Validate checks every recognized configuration key and returns one
// error per violation, each naming the offending dotted key. Any non-empty
// result is fatal at startup.
func (c *Config) Validate() []error {
	var errs []error
	req := func(cond bool, key, msg string) {
		if !cond {
			errs = append(errs, fmt.Errorf("%s: %s", key, msg))
		}
	}

	req(c.Server.Port > 0 && c.Server.Port < 65536, "server.port", "must be in 1..65535")
	req(c.Server.Host != "", "server.host", "must not be empty")

	req(knownBackends[c.Capture.Backend], "capture.backend", fmt.Sprintf("unsupported backend %q", c.Capture.Backend))
	req(c.Capture.FPS > 0, "capture.fps", "must be > 0")

	req(c.Motion.DiffGain > 0, "motion.diff_gain", "must be > 0")
	req(inRange01(c.Motion.NoMotionThreshold), "motion.no_motion_threshold", "must be in [0,1]")
	req(inRange01(c.Motion.LowActivityThreshold), "motion.low_activity_threshold", "must be in [0,1]")
	req(c.Motion.NoMotionGracePeriodSeconds >= 0, "motion.no_motion_grace_period_seconds", "must be >= 0")
	req(inRange01(c.Motion.NoMotionGraceRequiredRatio), "motion.no_motion_grace_required_ratio", "must be in [0,1]")
	req(inRange01(c.Motion.EMAAlpha), "motion.ema_alpha", "must be in [0,1]")
	req(c.Motion.HistorySeconds >= 0, "motion.history_seconds", "must be >= 0")
	req(c.Motion.MeanFullScale > 0, "motion.mean_full_scale", "must be > 0")
	req(c.Motion.TileFullScale > 0, "motion.tile_full_scale", "must be > 0")
	req(c.Motion.GridRows >= 1, "motion.grid_rows", "must be >= 1")
	req(c.Motion.GridCols >= 1, "motion.grid_cols", "must be >= 1")

	req(c.Recording.ClipSeconds > 0, "recording.clip_seconds", "must be > 0")
	req(c.Recording.CooldownSeconds >= 0, "recording.cooldown_seconds", "must be >= 0")
	req(c.Recording.AssetsDir != "", "recording.assets_dir", "must not be empty")
	req(c.Recording.StopGraceSeconds >= 0, "recording.stop_grace_seconds", "must be >= 0")
	req(c.Recording.PreRollSeconds >= 0, "recording.pre_roll_seconds", "must be >= 0")

	if c.Audio.Enabled {
		req(knownAudioBackends[c.Audio.Backend], "audio.backend", fmt.Sprintf("unsupported backend %q", c.Audio.Backend))
		req(c.Audio.DeviceIndex >= -1, "audio.device_index", "must be >= -1")
		req(c.Audio.SampleRate > 0, "audio.samplerate", "must be > 0")
		req(c.Audio.Channels > 0, "audio.channels", "must be > 0")
		req(c.Audio.BlockMs > 0, "audio.block_ms", "must be > 0")
		req(c.Audio.CalibSec >= 0, "audio.calib_sec", "must be >= 0")
		req(c.Audio.Factor > 0, "audio.factor", "must be > 0")
		req(c.Audio.AbsMin >= 0, "audio.abs_min", "must be >= 0")
		req(inRange01(c.Audio.OnThreshold), "audio.on_threshold", "must be in [0,1]")
		req(inRange01(c.Audio.OffThreshold), "audio.off_threshold", "must be in [0,1]")
		req(c.Audio.OffThreshold <= c.Audio.OnThreshold, "audio.off_threshold", "must be <= audio.on_threshold")
		req(c.Audio.HoldMs >= 0, "audio.hold_ms", "must be >= 0")
		req(c.Audio.SmoothSamples > 0, "audio.smooth_samples", "must be > 0")
	}

	req(c.UI.InitialRegion.Width >= 1, "ui.initial_region.width", "must be >= 1")
	req(c.UI.InitialRegion.Height >= 1, "ui.initial_region.height", "must be >= 1")

	req(c.LogFormat == "" || c.LogFormat == "text" || c.LogFormat == "json", "log_format", "must be text or json")
	req(c.LogMaxSizeMB >= 0, "log_max_size_mb", "must be >= 0")
	req(c.LogMaxBackups >= 0, "log_max_backups", "must be >= 0")

	return errs
}

func inRange01(v float64) bool {
	return v >= 0 && v <= 1
}
