// Package match describes what a match is made of: the map, the ordered
// list of participants, and the results produced once it has ended.
package match

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jrtknauer/pycraft2/internal/protocol"
)

// Participant is one declared match entrant: either a Bot or a Computer.
type Participant interface {
	PlayerType() protocol.PlayerType
	PlayerName() string
	PlayerRace() protocol.Race
}

// Step is passed to a bot's handler after each completed step.
type Step struct {
	PlayerID       uint32
	SimulationLoop uint32
}

// StepHandler is the decision logic a bot runs every step. It has no
// protocol-visible side effect in this core.
type StepHandler interface {
	OnStep(ctx context.Context, step Step)
}

// StepHandlerFunc adapts a function to StepHandler.
type StepHandlerFunc func(ctx context.Context, step Step)

// OnStep calls f(ctx, step).
func (f StepHandlerFunc) OnStep(ctx context.Context, step Step) {
	f(ctx, step)
}

// ClientConfig holds the launch settings of a bot's engine client.
// A zero Port asks the runner to pick an unused one.
type ClientConfig struct {
	Address      string `json:"address"`
	Port         int    `json:"port"`
	Fullscreen   bool   `json:"fullscreen"`
	WindowWidth  int    `json:"window_width"`
	WindowHeight int    `json:"window_height"`
	WindowX      int    `json:"window_x"`
	WindowY      int    `json:"window_y"`
	Verbose      bool   `json:"verbose"`
}

// DefaultClientConfig returns a windowed 1280x720 client listening on
// localhost.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Address:      "127.0.0.1",
		WindowWidth:  1280,
		WindowHeight: 720,
	}
}

// Bot is a scripted participant. Only bots own a session.
type Bot struct {
	Name    string
	Race    protocol.Race
	Handler StepHandler
	Client  ClientConfig
}

func (b Bot) PlayerType() protocol.PlayerType { return protocol.PlayerTypeParticipant }
func (b Bot) PlayerName() string              { return b.Name }
func (b Bot) PlayerRace() protocol.Race       { return b.Race }

// Computer is a built-in opponent, declared to the engine but never
// connected to directly.
type Computer struct {
	Name       string
	Race       protocol.Race
	Difficulty protocol.Difficulty
	Build      protocol.AIBuild
}

func (c Computer) PlayerType() protocol.PlayerType { return protocol.PlayerTypeComputer }
func (c Computer) PlayerName() string              { return c.Name }
func (c Computer) PlayerRace() protocol.Race       { return c.Race }

// NewComputer returns a computer opponent with the engine's usual defaults
// for anything left unset.
func NewComputer(race protocol.Race, difficulty protocol.Difficulty, build protocol.AIBuild) Computer {
	if race == protocol.RaceNone {
		race = protocol.RaceRandom
	}
	if difficulty == 0 {
		difficulty = protocol.DifficultyMedium
	}
	if build == 0 {
		build = protocol.AIBuildRandom
	}
	return Computer{Race: race, Difficulty: difficulty, Build: build}
}

// Map is a map file's raw content. The engine receives the bytes instead of
// a path so that it never has to resolve the path itself.
type Map struct {
	Path string
	Data []byte
}

// Name returns the map file's base name.
func (m Map) Name() string {
	return filepath.Base(m.Path)
}

// LoadMap reads a map file into memory.
func LoadMap(path string) (Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Map{}, fmt.Errorf("failed to read map %s: %w", path, err)
	}
	return Map{Path: path, Data: data}, nil
}

// Config is one match: the map and the ordered participants. It is built
// once before the match starts and only read afterwards.
type Config struct {
	Map        Map
	Players    []Participant
	DisableFog bool
	Realtime   bool
	RandomSeed *uint32
}

// Bots returns the scripted participants in declaration order.
func (c *Config) Bots() []Bot {
	var bots []Bot
	for _, p := range c.Players {
		if b, ok := p.(Bot); ok {
			bots = append(bots, b)
		}
	}
	return bots
}

// PlayerSetups builds one engine player-setup entry per participant.
func (c *Config) PlayerSetups() []protocol.PlayerSetup {
	setups := make([]protocol.PlayerSetup, 0, len(c.Players))
	for _, p := range c.Players {
		switch v := p.(type) {
		case Bot:
			setups = append(setups, protocol.ParticipantSetup(v.Race, v.Name))
		case Computer:
			setups = append(setups, protocol.ComputerSetup(v.Race, v.Difficulty, v.Build, v.Name))
		}
	}
	return setups
}

// CreateGameRequest builds the request that hosts this match.
func (c *Config) CreateGameRequest() protocol.CreateGameRequest {
	return protocol.CreateGameRequest{
		MapData:    c.Map.Data,
		Players:    c.PlayerSetups(),
		DisableFog: c.DisableFog,
		Realtime:   c.Realtime,
		RandomSeed: c.RandomSeed,
	}
}

// Result is one participant's outcome, produced once the match has ended.
type Result struct {
	PlayerID   uint32          `json:"player_id"`
	PlayerName string          `json:"player_name"`
	Outcome    protocol.Result `json:"outcome"`
}

func (r Result) String() string {
	return fmt.Sprintf("player %d (%s): %s", r.PlayerID, r.PlayerName, r.Outcome)
}
