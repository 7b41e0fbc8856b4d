package network

import (
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrtknauer/pycraft2/internal/protocol"
)

// DefaultAllocationAttempts bounds how many times Allocate re-picks ports
// after a failure or collision.
const DefaultAllocationAttempts = 3

// MatchPortConfig is the port layout of a networked match: one pair for the
// host, one pair per additional client. Every joining session receives the
// same value.
type MatchPortConfig struct {
	Host    protocol.PortSet   `json:"host"`
	Clients []protocol.PortSet `json:"clients"`
}

// PortsFromStart derives the layout used by ladder matches, where the
// ladder server hands out a start port s and the match uses s+2..s+5.
func PortsFromStart(start int) *MatchPortConfig {
	return &MatchPortConfig{
		Host: protocol.PortSet{GamePort: start + 2, BasePort: start + 3},
		Clients: []protocol.PortSet{
			{GamePort: start + 4, BasePort: start + 5},
		},
	}
}

// Ports returns every port of the layout, host first.
func (c *MatchPortConfig) Ports() []int {
	ports := []int{c.Host.GamePort, c.Host.BasePort}
	for _, ps := range c.Clients {
		ports = append(ports, ps.GamePort, ps.BasePort)
	}
	return ports
}

// Distinct reports whether no port appears twice.
func (c *MatchPortConfig) Distinct() bool {
	seen := make(map[int]struct{})
	for _, p := range c.Ports() {
		if _, ok := seen[p]; ok {
			return false
		}
		seen[p] = struct{}{}
	}
	return true
}

// PortPicker returns one currently unused local port.
type PortPicker func() (int, error)

// PortAllocator picks the four ports of a two-bot match.
type PortAllocator struct {
	maxAttempts int
	pick        PortPicker
	logger      zerolog.Logger
}

// NewPortAllocator creates an allocator. A nil picker uses PickUnusedPort.
func NewPortAllocator(maxAttempts int, pick PortPicker) *PortAllocator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultAllocationAttempts
	}
	if pick == nil {
		pick = PickUnusedPort
	}
	return &PortAllocator{
		maxAttempts: maxAttempts,
		pick:        pick,
		logger:      log.With().Str("component", "port_allocator").Logger(),
	}
}

// Allocate picks host and client port pairs, re-picking when the picker
// fails or returns a port twice.
func (a *PortAllocator) Allocate() (*MatchPortConfig, error) {
	var lastErr error
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		cfg, err := a.tryAllocate()
		if err == nil {
			a.logger.Debug().
				Ints("ports", cfg.Ports()).
				Int("attempt", attempt).
				Msg("allocated match ports")
			return cfg, nil
		}
		lastErr = err
		a.logger.Warn().Err(err).Int("attempt", attempt).Msg("port allocation failed")
	}

	return nil, &ResourceExhaustedError{
		Resource: "ports",
		Attempts: a.maxAttempts,
		Err:      lastErr,
	}
}

func (a *PortAllocator) tryAllocate() (*MatchPortConfig, error) {
	var ports [4]int
	for i := range ports {
		p, err := a.pick()
		if err != nil {
			return nil, err
		}
		ports[i] = p
	}

	cfg := &MatchPortConfig{
		Host:    protocol.PortSet{GamePort: ports[0], BasePort: ports[1]},
		Clients: []protocol.PortSet{{GamePort: ports[2], BasePort: ports[3]}},
	}
	if !cfg.Distinct() {
		return nil, fmt.Errorf("%w: %v", ErrPortCollision, ports)
	}
	return cfg, nil
}

// PickUnusedPort asks the OS for a free TCP port and checks that the same
// UDP port is free too.
func PickUnusedPort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("failed to bind tcp port: %w", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	if !IsPortAvailable(port) {
		return 0, fmt.Errorf("port %d is in use", port)
	}
	return port, nil
}

// IsPortAvailable reports whether both the TCP and UDP port can be bound.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	ln.Close()

	pc, err := net.ListenPacket("udp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	pc.Close()
	return true
}
