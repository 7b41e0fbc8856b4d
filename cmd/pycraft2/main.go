// pycraft2 plays StarCraft II matches through the engine API.
//
// It launches engine clients, creates and joins a match, steps every bot
// until the match ends, and records the outcome. It can also join a match
// hosted by a ladder manager.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/jrtknauer/pycraft2/internal/api"
	"github.com/jrtknauer/pycraft2/internal/cli"
	"github.com/jrtknauer/pycraft2/internal/config"
	"github.com/jrtknauer/pycraft2/internal/telemetry"
	"github.com/jrtknauer/pycraft2/internal/util"
)

const (
	AppName    = "pycraft2"
	AppVersion = "0.1.0"
	Banner     = `
                              __ _   ____
  _ __  _   _  ___ _ __ __ _ / _| |_|___ \
 | '_ \| | | |/ __| '__/ _' | |_| __| __) |
 | |_) | |_| | (__| | | (_| |  _| |_ / __/
 | .__/ \__, |\___|_|  \__,_|_|  \__|_____|
 |_|    |___/  v%s
`
)

func main() {
	fmt.Fprintf(os.Stderr, Banner, AppVersion)
	fmt.Fprintln(os.Stderr)

	// Defaults until the configuration says otherwise.
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	telemetry.Version = AppVersion
	api.Version = AppVersion

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting pycraft2")

	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging := cfg.GetApplicationData().Logging
	if err := util.InitLogger(util.LogConfig{
		Level:      logging.Level,
		Directory:  logging.Directory,
		MaxBackups: logging.MaxBackups,
		Console:    logging.Console,
	}); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := cli.NewApp(cfg, os.Stdout, AppVersion, nil)
	if err := app.Run(ctx, os.Args[1:]); err != nil {
		log.Error().Err(err).Msg("pycraft2 failed")
		if errors.Is(err, cli.ErrUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}

	log.Info().Msg("pycraft2 stopped")
}
