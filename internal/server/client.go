package server

import (
	"strconv"

	"github.com/jrtknauer/pycraft2/internal/match"
)

// BuildClientArgs returns the engine command-line flags for a client
// configuration. The port must already be resolved.
func BuildClientArgs(c match.ClientConfig) []string {
	displayMode := "0"
	if c.Fullscreen {
		displayMode = "1"
	}

	args := []string{
		"-listen", c.Address,
		"-port", strconv.Itoa(c.Port),
		"-displayMode", displayMode,
		"-windowwidth", strconv.Itoa(c.WindowWidth),
		"-windowheight", strconv.Itoa(c.WindowHeight),
		"-windowx", strconv.Itoa(c.WindowX),
		"-windowy", strconv.Itoa(c.WindowY),
	}
	if c.Verbose {
		args = append(args, "-verbose")
	}
	return args
}
