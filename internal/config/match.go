package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/jrtknauer/pycraft2/internal/match"
	"github.com/jrtknauer/pycraft2/internal/protocol"
)

// HandlerFactory returns the step handler for the bot named name.
type HandlerFactory func(name string) match.StepHandler

// BuildMatch loads the map and turns the declared players into a match.
// Bots without a name are called botN, N being their 1-based position.
func (c *Config) BuildMatch(handlers HandlerFactory) (*match.Config, error) {
	data := c.GetMatch()

	m, err := match.LoadMap(data.MapPath)
	if err != nil {
		return nil, err
	}

	players := make([]match.Participant, 0, len(data.Players))
	for i, p := range data.Players {
		race, ok := protocol.ParseRace(p.Race)
		if !ok {
			return nil, fmt.Errorf("player %d: unknown race %q", i+1, p.Race)
		}

		switch strings.ToLower(p.Type) {
		case PlayerBot:
			name := p.Name
			if name == "" {
				name = fmt.Sprintf("bot%d", i+1)
			}
			bot := match.Bot{Name: name, Race: race, Client: clientConfig(p.Client)}
			if handlers != nil {
				bot.Handler = handlers(name)
			}
			players = append(players, bot)

		case PlayerComputer:
			var difficulty protocol.Difficulty
			if p.Difficulty != "" {
				if difficulty, ok = protocol.ParseDifficulty(p.Difficulty); !ok {
					return nil, fmt.Errorf("player %d: unknown difficulty %q", i+1, p.Difficulty)
				}
			}
			var build protocol.AIBuild
			if p.Build != "" {
				if build, ok = protocol.ParseAIBuild(p.Build); !ok {
					return nil, fmt.Errorf("player %d: unknown build %q", i+1, p.Build)
				}
			}
			computer := match.NewComputer(race, difficulty, build)
			computer.Name = p.Name
			players = append(players, computer)

		default:
			return nil, fmt.Errorf("player %d: unknown player type %q", i+1, p.Type)
		}
	}

	return &match.Config{
		Map:        m,
		Players:    players,
		DisableFog: data.DisableFog,
		Realtime:   data.Realtime,
		RandomSeed: data.RandomSeed,
	}, nil
}

func clientConfig(c *ClientConfig) match.ClientConfig {
	cfg := match.DefaultClientConfig()
	if c == nil {
		return cfg
	}
	if c.Address != "" {
		cfg.Address = c.Address
	}
	if c.WindowWidth > 0 {
		cfg.WindowWidth = c.WindowWidth
	}
	if c.WindowHeight > 0 {
		cfg.WindowHeight = c.WindowHeight
	}
	cfg.Port = c.Port
	cfg.Fullscreen = c.Fullscreen
	cfg.WindowX = c.WindowX
	cfg.WindowY = c.WindowY
	cfg.Verbose = c.Verbose
	return cfg
}

// Warmup returns the configured engine warm-up delay.
func (e EngineConfig) Warmup() time.Duration {
	return time.Duration(e.WarmupMS) * time.Millisecond
}

// RetryInterval returns the delay between connection attempts.
func (e EngineConfig) RetryInterval() time.Duration {
	return time.Duration(e.RetryIntervalMS) * time.Millisecond
}

// ConnectTimeout returns the total connection budget.
func (e EngineConfig) ConnectTimeout() time.Duration {
	return time.Duration(e.ConnectTimeoutSec) * time.Second
}
