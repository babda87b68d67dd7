// Package config loads and validates the monitor's configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

// Server holds the HTTP server configuration.
type Server struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Capture holds screen capture configuration.
type Capture struct {
	Backend string  `mapstructure:"backend"`
	FPS     float64 `mapstructure:"fps"`
}

// Motion holds classifier and metric configuration.
type Motion struct {
	DiffGain                   float64 `mapstructure:"diff_gain"`
	NoMotionThreshold          float64 `mapstructure:"no_motion_threshold"`
	LowActivityThreshold       float64 `mapstructure:"low_activity_threshold"`
	NoMotionGracePeriodSeconds float64 `mapstructure:"no_motion_grace_period_seconds"`
	NoMotionGraceRequiredRatio float64 `mapstructure:"no_motion_grace_required_ratio"`
	EMAAlpha                   float64 `mapstructure:"ema_alpha"`
	HistorySeconds             float64 `mapstructure:"history_seconds"`
	MeanFullScale              float64 `mapstructure:"mean_full_scale"`
	TileFullScale              float64 `mapstructure:"tile_full_scale"`
	GridRows                   int     `mapstructure:"grid_rows"`
	GridCols                   int     `mapstructure:"grid_cols"`
	AnalysisInsetPx            int     `mapstructure:"analysis_inset_px"`
}

// Recording holds clip-recorder configuration.
type Recording struct {
	Enabled          bool    `mapstructure:"enabled"`
	TriggerState     string  `mapstructure:"trigger_state"`
	ClipSeconds      float64 `mapstructure:"clip_seconds"`
	CooldownSeconds  float64 `mapstructure:"cooldown_seconds"`
	AssetsDir        string  `mapstructure:"assets_dir"`
	StopGraceSeconds float64 `mapstructure:"stop_grace_seconds"`
	PreRollSeconds   float64 `mapstructure:"pre_roll_seconds"`
}

// Audio holds loopback audio meter configuration.
type Audio struct {
	Enabled       bool    `mapstructure:"enabled"`
	Backend       string  `mapstructure:"backend"`
	DeviceID      string  `mapstructure:"device_id"`
	DeviceIndex   int     `mapstructure:"device_index"`
	DeviceSubstr  string  `mapstructure:"device_substr"`
	SampleRate    int     `mapstructure:"samplerate"`
	Channels      int     `mapstructure:"channels"`
	BlockMs       float64 `mapstructure:"block_ms"`
	CalibSec      float64 `mapstructure:"calib_sec"`
	Factor        float64 `mapstructure:"factor"`
	AbsMin        float64 `mapstructure:"abs_min"`
	OnThreshold   float64 `mapstructure:"on_threshold"`
	OffThreshold  float64 `mapstructure:"off_threshold"`
	HoldMs        float64 `mapstructure:"hold_ms"`
	SmoothSamples int     `mapstructure:"smooth_samples"`
}

// InitialRegion describes the starting capture rectangle.
type InitialRegion struct {
	X      int `mapstructure:"x"`
	Y      int `mapstructure:"y"`
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
}

// UI holds the overlay's initial display configuration.
type UI struct {
	InitialRegion    InitialRegion `mapstructure:"initial_region"`
	BorderPx         int           `mapstructure:"border_px"`
	GridLinePx       int           `mapstructure:"grid_line_px"`
	ShowTileNumbers  bool          `mapstructure:"show_tile_numbers"`
	ShowOverlayState bool          `mapstructure:"show_overlay_state"`
}

// Config is the full validated configuration tree, recognizing exactly the
// dotted keys in the public configuration surface.
type Config struct {
	Server    Server    `mapstructure:"server"`
	Capture   Capture   `mapstructure:"capture"`
	Motion    Motion    `mapstructure:"motion"`
	Recording Recording `mapstructure:"recording"`
	Audio     Audio     `mapstructure:"audio"`
	UI        UI        `mapstructure:"ui"`

	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
}

// Default returns the built-in defaults, matching a 3x3 grid at 10 fps.
func Default() *Config {
	return &Config{
		Server: Server{Host: "127.0.0.1", Port: 8777},
		Capture: Capture{
			Backend: "x11",
			FPS:     10,
		},
		Motion: Motion{
			DiffGain:                   1.0,
			NoMotionThreshold:          0.02,
			LowActivityThreshold:       0.06,
			NoMotionGracePeriodSeconds: 2.0,
			NoMotionGraceRequiredRatio: 0.6,
			EMAAlpha:                   0.2,
			HistorySeconds:             300,
			MeanFullScale:              1.0,
			TileFullScale:              1.0,
			GridRows:                   3,
			GridCols:                   3,
			AnalysisInsetPx:            0,
		},
		Recording: Recording{
			Enabled:          true,
			TriggerState:     "NO_MOTION",
			ClipSeconds:      30,
			CooldownSeconds:  30,
			AssetsDir:        "clips",
			StopGraceSeconds: 10,
			PreRollSeconds:   2,
		},
		Audio: Audio{
			Enabled:       true,
			Backend:       "loopback",
			DeviceIndex:   -1,
			SampleRate:    48000,
			Channels:      2,
			BlockMs:       20,
			CalibSec:      0,
			Factor:        3.0,
			AbsMin:        0.01,
			OnThreshold:   0.01,
			OffThreshold:  0.005,
			HoldMs:        300,
			SmoothSamples: 4,
		},
		UI: UI{
			InitialRegion:    InitialRegion{X: 0, Y: 0, Width: 640, Height: 480},
			BorderPx:         2,
			GridLinePx:       1,
			ShowTileNumbers:  true,
			ShowOverlayState: true,
		},
		LogLevel:      "info",
		LogFormat:     "text",
		LogMaxSizeMB:  50,
		LogMaxBackups: 3,
	}
}

// Load reads configuration from cfgFile (or the platform config directory if
// empty), overlays environment variables under the MOTIOND_ prefix, and
// validates the result. Any fatal validation error aborts startup.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("motiond")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("MOTIOND")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("config has fatal validation errors: %v", errs[0])
	}

	return cfg, nil
}

// Save writes the config to the platform-default location.
func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

// SaveTo writes the config to cfgFile, or the platform-default location when empty.
func SaveTo(cfg *Config, cfgFile string) error {
	viper.Set("server", cfg.Server)
	viper.Set("capture", cfg.Capture)
	viper.Set("motion", cfg.Motion)
	viper.Set("recording", cfg.Recording)
	viper.Set("audio", cfg.Audio)
	viper.Set("ui", cfg.UI)
	viper.Set("log_level", cfg.LogLevel)
	viper.Set("log_format", cfg.LogFormat)
	viper.Set("log_file", cfg.LogFile)
	viper.Set("log_max_size_mb", cfg.LogMaxSizeMB)
	viper.Set("log_max_backups", cfg.LogMaxBackups)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		if dir := filepath.Dir(cfgPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "motiond.yaml")
		if err := os.MkdirAll(configDir(), 0o755); err != nil {
			return err
		}
	}

	return viper.WriteConfigAs(cfgPath)
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "motiondetector")
	case "darwin":
		return "/Library/Application Support/motiondetector"
	default:
		return "/etc/motiondetector"
	}
}
