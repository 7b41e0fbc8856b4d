// Package cli implements the pycraft2 command-line commands: running a
// local match, joining a ladder match and browsing the match history.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jrtknauer/pycraft2/internal/config"
	"github.com/jrtknauer/pycraft2/internal/db"
	"github.com/jrtknauer/pycraft2/internal/events"
	"github.com/jrtknauer/pycraft2/internal/match"
	"github.com/jrtknauer/pycraft2/internal/protocol"
	"github.com/jrtknauer/pycraft2/internal/server"
	"github.com/jrtknauer/pycraft2/internal/util"
)

// ErrUsage is returned for malformed command lines.
var ErrUsage = errors.New("usage error")

// App dispatches pycraft2 commands.
type App struct {
	cfg      *config.Config
	out      io.Writer
	version  string
	handlers config.HandlerFactory
}

// NewApp creates the command dispatcher. A nil handlers gives every bot a
// handler that only logs its steps.
func NewApp(cfg *config.Config, out io.Writer, version string, handlers config.HandlerFactory) *App {
	if handlers == nil {
		handlers = LoggingHandler
	}
	return &App{cfg: cfg, out: out, version: version, handlers: handlers}
}

// Run executes the command named by args[0].
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		a.printHelp()
		return nil
	}

	cmd := strings.ToLower(args[0])
	rest := args[1:]

	switch cmd {
	case "help", "-h", "--help":
		a.printHelp()
	case "version":
		fmt.Fprintf(a.out, "pycraft2 %s\n", a.version)
	case "run":
		return a.cmdRun(ctx)
	case "ladder":
		return a.cmdLadder(ctx, rest)
	case "history":
		return a.cmdHistory(ctx, rest)
	default:
		// Ladder managers invoke the bot directly with their flags.
		if strings.HasPrefix(cmd, "--") {
			return a.cmdLadder(ctx, args)
		}
		return fmt.Errorf("%w: unknown command %q, see 'pycraft2 help'", ErrUsage, args[0])
	}
	return nil
}

func (a *App) printHelp() {
	fmt.Fprintln(a.out, "Usage: pycraft2 <command> [arguments]")
	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, "Commands:")
	fmt.Fprintln(a.out, "  run                 Launch engine clients and play the configured match")
	fmt.Fprintln(a.out, "  ladder <flags>      Join a ladder-hosted match (--LadderServer, --GamePort, --StartPort)")
	fmt.Fprintln(a.out, "  history [limit]     Show the most recent matches")
	fmt.Fprintln(a.out, "  version             Print the version")
	fmt.Fprintln(a.out, "  help                Show this help message")
	fmt.Fprintln(a.out)
}

func (a *App) cmdRun(ctx context.Context) error {
	validation := config.Validate(a.cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return fmt.Errorf("configuration validation failed with %d errors", len(validation.Errors))
	}

	app := a.cfg.GetApplicationData()
	exe, workDir, err := resolveEngine(app.Engine, util.GetPlatform())
	if err != nil {
		return err
	}

	m, err := a.cfg.BuildMatch(a.handlers)
	if err != nil {
		return err
	}

	matchData := a.cfg.GetMatch()
	bus := events.NewEventBus()
	orch := server.NewOrchestrator(m, server.OrchestratorConfig{
		Executable:     exe,
		WorkDir:        workDir,
		Warmup:         app.Engine.Warmup(),
		StepCount:      matchData.StepCount,
		RetryInterval:  app.Engine.RetryInterval(),
		ConnectTimeout: app.Engine.ConnectTimeout(),
		StartPort:      matchData.StartPort,
		AllocAttempts:  app.Ports.AllocationAttempts,
		EventBus:       bus,
	})

	svc := startServices(ctx, app, bus, orch, orch)
	report, err := orch.Run(ctx)
	svc.stop()

	printReport(a.out, report)
	return runError(err)
}

func (a *App) cmdLadder(ctx context.Context, args []string) error {
	la, err := ParseLadderArgs(args)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}

	bot, err := a.ladderBot()
	if err != nil {
		return err
	}

	app := a.cfg.GetApplicationData()
	bus := events.NewEventBus()
	runner := server.NewLadderRunner(bot, server.LadderConfig{
		ServerAddress:  la.Server,
		GamePort:       la.GamePort,
		StartPort:      la.StartPort,
		StepCount:      a.cfg.GetMatch().StepCount,
		RetryInterval:  app.Engine.RetryInterval(),
		ConnectTimeout: app.Engine.ConnectTimeout(),
		EventBus:       bus,
	})

	svc := startServices(ctx, app, bus, runner, nil)
	report, err := runner.Run(ctx)
	svc.stop()

	printReport(a.out, report)
	return runError(err)
}

// ladderBot returns the first bot declared in the configuration. The map
// and the other players belong to the ladder manager.
func (a *App) ladderBot() (match.Bot, error) {
	for i, p := range a.cfg.GetMatch().Players {
		if !strings.EqualFold(p.Type, config.PlayerBot) {
			continue
		}
		race, ok := parseRace(p.Race)
		if !ok {
			return match.Bot{}, fmt.Errorf("player %d: unknown race %q", i+1, p.Race)
		}
		name := p.Name
		if name == "" {
			name = fmt.Sprintf("bot%d", i+1)
		}
		return match.Bot{
			Name:    name,
			Race:    race,
			Handler: a.handlers(name),
			Client:  match.DefaultClientConfig(),
		}, nil
	}
	return match.Bot{}, errors.New("no bot declared in the match configuration")
}

func (a *App) cmdHistory(ctx context.Context, args []string) error {
	limit := 20
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("%w: invalid limit %q", ErrUsage, args[0])
		}
		limit = n
	}

	dbCfg := a.cfg.GetApplicationData().Database
	if !dbCfg.Enabled {
		return errors.New("match history is disabled in the configuration")
	}

	store, err := db.NewMatchStore(dbCfg.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.RecentMatches(ctx, limit)
	if err != nil {
		return err
	}
	printHistory(a.out, records)
	return nil
}

// resolveEngine returns the executable and working directory of the
// engine, falling back to the platform's default install layout.
func resolveEngine(e config.EngineConfig, platform util.Platform) (string, string, error) {
	if e.Executable != "" {
		return e.Executable, e.WorkDir, nil
	}

	inst, err := util.DefaultInstall(platform)
	if err != nil {
		return "", "", err
	}
	if e.InstallDirectory != "" {
		inst.Root = e.InstallDirectory
		if inst.WorkDir != "" {
			inst.WorkDir = filepath.Join(e.InstallDirectory, "Support64")
		}
	}

	exe, err := inst.Executable()
	if err != nil {
		return "", "", err
	}

	workDir := inst.WorkDir
	if e.WorkDir != "" {
		workDir = e.WorkDir
	}
	return exe, workDir, nil
}

func parseRace(s string) (protocol.Race, bool) {
	race, ok := protocol.ParseRace(s)
	return race, ok && race != protocol.RaceNone
}

// runError keeps a cancellation requested by the user from being reported
// as a failed match.
func runError(err error) error {
	if err == nil {
		return nil
	}
	if !server.IsMatchFatal(err) {
		log.Info().Msg("match cancelled")
		return nil
	}
	return err
}

// LoggingHandler is the default step handler: it only traces each step.
func LoggingHandler(name string) match.StepHandler {
	logger := util.ComponentLogger("bot").With().Str("player", name).Logger()
	return match.StepHandlerFunc(func(_ context.Context, step match.Step) {
		logger.Trace().
			Uint32("player_id", step.PlayerID).
			Uint32("game_loop", step.SimulationLoop).
			Msg("step")
	})
}
