// sc2-emulator serves the engine API without running a game. It accepts the
// same command line as the engine binary, so it can be configured as the
// engine executable to exercise pycraft2 end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrtknauer/pycraft2/internal/emulator"
)

func main() {
	fs := flag.NewFlagSet("sc2-emulator", flag.ExitOnError)
	listen := fs.String("listen", "127.0.0.1", "address to listen on")
	port := fs.Int("port", 0, "port to listen on, 0 picks a free one")
	matchLength := fs.Int("match-length", emulator.DefaultMatchLength, "steps until the match ends")
	verbose := fs.Bool("verbose", false, "log every request")

	// Accepted for compatibility with the engine command line.
	fs.String("displayMode", "0", "ignored")
	fs.Int("windowwidth", 0, "ignored")
	fs.Int("windowheight", 0, "ignored")
	fs.Int("windowx", 0, "ignored")
	fs.Int("windowy", 0, "ignored")

	_ = fs.Parse(os.Args[1:])

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().
		Timestamp().
		Str("app", "sc2-emulator").
		Logger()

	emu := emulator.New(emulator.Config{
		Address:     *listen,
		Port:        *port,
		MatchLength: *matchLength,
	})
	if err := emu.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "sc2-emulator: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		log.Info().Msg("received shutdown signal")
	case <-emu.Done():
		log.Info().Msg("quit requested")
	}

	if err := emu.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to stop emulator cleanly")
	}
}
