package cli

import (
	"fmt"
	"strconv"
	"strings"
)

// Flags passed by ladder managers to a bot's entry point.
const (
	ArgLadderServer = "--LadderServer"
	ArgGamePort     = "--GamePort"
	ArgStartPort    = "--StartPort"
)

// LadderArgs is what a ladder manager tells a bot about its match.
type LadderArgs struct {
	Server    string
	GamePort  int
	StartPort int
}

// ParseLadderArgs reads the ladder flags from args, accepting both
// "--Flag value" and "--Flag=value". Flags it does not know are ignored,
// since ladder managers pass more than a bot needs to join.
func ParseLadderArgs(args []string) (LadderArgs, error) {
	var la LadderArgs
	seen := map[string]bool{}

	for i := 0; i < len(args); i++ {
		name, value, hasValue := strings.Cut(args[i], "=")
		switch name {
		case ArgLadderServer, ArgGamePort, ArgStartPort:
		default:
			continue
		}

		if !hasValue {
			if i+1 >= len(args) || strings.HasPrefix(args[i+1], "--") {
				return la, fmt.Errorf("%s requires a value", name)
			}
			i++
			value = args[i]
		}
		seen[name] = true

		switch name {
		case ArgLadderServer:
			la.Server = value
		case ArgGamePort:
			port, err := parsePort(name, value)
			if err != nil {
				return la, err
			}
			la.GamePort = port
		case ArgStartPort:
			port, err := parsePort(name, value)
			if err != nil {
				return la, err
			}
			la.StartPort = port
		}
	}

	for _, name := range []string{ArgLadderServer, ArgGamePort, ArgStartPort} {
		if !seen[name] {
			return la, fmt.Errorf("missing required argument %s", name)
		}
	}
	return la, nil
}

func parsePort(name, value string) (int, error) {
	port, err := strconv.ParseUint(value, 10, 16)
	if err != nil || port == 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, value)
	}
	return int(port), nil
}
