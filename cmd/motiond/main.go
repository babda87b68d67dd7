package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kvandebeek/motiondetector/internal/composition"
	"github.com/kvandebeek/motiondetector/internal/config"
	"github.com/kvandebeek/motiondetector/internal/logging"
)

var (
	version = "0.1.0"
	cfgFile string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "motiond",
	Short: "Screen-region motion monitor",
	Long: `motiond captures a rectangle of the virtual desktop at a fixed
cadence, classifies it into NO_MOTION / LOW_ACTIVITY / MOTION with loopback
audio annotation, serves the status over HTTP, and records MP4 clips when
the configured trigger state is entered.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the monitor",
	Run: func(cmd *cobra.Command, args []string) {
		runMonitor()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("motiond v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/motiondetector/motiond.yaml)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initLogging sets up structured logging from config. Call after config.Load().
func initLogging(cfg *config.Config) {
	var output io.Writer = os.Stdout

	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v (logging to stdout)\n", cfg.LogFile, err)
		} else {
			output = logging.TeeWriter(os.Stdout, rw)
		}
	}

	logging.Init(cfg.LogFormat, cfg.LogLevel, output)
}

func runMonitor() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	initLogging(cfg)

	app, err := composition.New(cfg)
	if err != nil {
		log.Error("failed to build monitor", logging.KeyError, err)
		os.Exit(1)
	}

	// SIGINT/SIGTERM route through the same quit flag POST /quit sets, so
	// there is exactly one shutdown path.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("signal received, requesting quit", "signal", sig.String())
		app.RequestQuit()
	}()

	if err := app.Run(); err != nil {
		log.Error("monitor exited with error", logging.KeyError, err)
		os.Exit(1)
	}
	log.Info("monitor stopped")
}
