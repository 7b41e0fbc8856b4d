package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/jrtknauer/pycraft2/internal/events"
	"github.com/jrtknauer/pycraft2/internal/match"
	"github.com/jrtknauer/pycraft2/internal/network"
)

// Match phases, as logged and emitted.
const (
	PhaseSetup   = "setup"
	PhaseLaunch  = "launch"
	PhaseConnect = "connect"
	PhaseCreate  = "create"
	PhasePorts   = "ports"
	PhaseJoin    = "join"
	PhasePlay    = "play"
	PhaseLeave   = "leave"
	PhaseQuit    = "quit"
	PhaseCleanup = "cleanup"
)

// OrchestratorConfig holds how engine clients are started for a local
// match.
type OrchestratorConfig struct {
	Executable string
	WorkDir    string
	Warmup     time.Duration
	StepCount  uint32

	RetryInterval  time.Duration
	ConnectTimeout time.Duration

	// StartPort, when non-zero, derives the networked match ports from it
	// instead of asking the OS for free ones.
	StartPort     int
	AllocAttempts int
	PortPicker    network.PortPicker

	// Launcher builds the engine process for one client. Nil uses
	// NewProcessManager.
	Launcher func(ProcessConfig) EngineProcess

	EventBus *events.EventBus
}

// Report describes one finished or aborted match run.
type Report struct {
	MatchID    string         `json:"match_id"`
	Map        string         `json:"map"`
	Phase      string         `json:"phase"`
	Steps      int            `json:"steps"`
	Results    []match.Result `json:"results"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Error      string         `json:"error,omitempty"`
}

// Duration returns how long the run took.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Orchestrator runs one match across the sessions of all its bots,
// holding every session at a barrier between phases.
type Orchestrator struct {
	match   *match.Config
	cfg     OrchestratorConfig
	matchID string
	logger  zerolog.Logger

	mu       sync.RWMutex
	sessions []*Session
	phase    string
}

// NewOrchestrator creates an orchestrator for m.
func NewOrchestrator(m *match.Config, cfg OrchestratorConfig) *Orchestrator {
	if cfg.Launcher == nil {
		cfg.Launcher = func(pc ProcessConfig) EngineProcess {
			return NewProcessManager(pc)
		}
	}
	if cfg.PortPicker == nil {
		cfg.PortPicker = network.PickUnusedPort
	}

	id := uuid.NewString()
	return &Orchestrator{
		match:   m,
		cfg:     cfg,
		matchID: id,
		phase:   PhaseSetup,
		logger: log.With().
			Str("component", "orchestrator").
			Str("match_id", id).
			Logger(),
	}
}

// MatchID returns the identifier of this run.
func (o *Orchestrator) MatchID() string {
	return o.matchID
}

// Sessions returns the sessions built for the match so far.
func (o *Orchestrator) Sessions() []*Session {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]*Session(nil), o.sessions...)
}

// Snapshots returns a view of every session.
func (o *Orchestrator) Snapshots() []SessionSnapshot {
	sessions := o.Sessions()
	snaps := make([]SessionSnapshot, 0, len(sessions))
	for _, s := range sessions {
		snaps = append(snaps, s.Snapshot())
	}
	return snaps
}

// Run plays the match to completion. Every session is cleaned up before
// Run returns, whatever happened. The report is never nil. A returned error
// has already been logged and published as a match_aborted event.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		MatchID:   o.matchID,
		Map:       o.match.Map.Name(),
		StartedAt: time.Now(),
	}

	o.logger.Info().
		Str("map", report.Map).
		Int("players", len(o.match.Players)).
		Msg("starting match")

	err := o.buildSessions()
	if err == nil {
		err = o.play(ctx, report)
	}
	report.Phase = o.currentPhase()
	o.cleanup()

	report.FinishedAt = time.Now()
	return finish(ctx, o.cfg.EventBus, o.logger, report, err)
}

func (o *Orchestrator) buildSessions() error {
	bots := o.match.Bots()
	if len(bots) == 0 {
		return &InvariantError{Op: PhaseSetup, Msg: "match has no bot participants"}
	}

	sessions := make([]*Session, 0, len(bots))
	for _, bot := range bots {
		if bot.Client.Address == "" {
			bot.Client.Address = "127.0.0.1"
		}
		if bot.Client.Port == 0 {
			port, err := o.cfg.PortPicker()
			if err != nil {
				return &network.ResourceExhaustedError{Resource: "client port", Attempts: 1, Err: err}
			}
			bot.Client.Port = port
		}

		proc := o.cfg.Launcher(ProcessConfig{
			Executable: o.cfg.Executable,
			Args:       BuildClientArgs(bot.Client),
			WorkDir:    o.cfg.WorkDir,
			Port:       bot.Client.Port,
		})
		sessions = append(sessions, NewSession(SessionConfig{
			Bot:            bot,
			Process:        proc,
			Warmup:         o.cfg.Warmup,
			StepCount:      o.cfg.StepCount,
			RetryInterval:  o.cfg.RetryInterval,
			ConnectTimeout: o.cfg.ConnectTimeout,
			EventBus:       o.cfg.EventBus,
		}))
	}

	o.mu.Lock()
	o.sessions = sessions
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) play(ctx context.Context, report *Report) error {
	sessions := o.Sessions()

	// Engine launches are not safe to run in parallel.
	o.enterPhase(ctx, PhaseLaunch)
	for _, s := range sessions {
		if err := s.Launch(ctx); err != nil {
			return err
		}
	}

	o.enterPhase(ctx, PhaseConnect)
	if err := fanOut(ctx, sessions, func(ctx context.Context, _ int, s *Session) error {
		return s.Connect(ctx)
	}); err != nil {
		return err
	}

	o.enterPhase(ctx, PhaseCreate)
	if err := sessions[0].CreateMatch(ctx, o.match); err != nil {
		return err
	}

	var ports *network.MatchPortConfig
	if len(sessions) > 1 {
		o.enterPhase(ctx, PhasePorts)
		var err error
		if ports, err = o.allocatePorts(); err != nil {
			return err
		}
	}

	o.enterPhase(ctx, PhaseJoin)
	if err := fanOut(ctx, sessions, func(ctx context.Context, _ int, s *Session) error {
		return s.JoinMatch(ctx, ports)
	}); err != nil {
		return err
	}

	o.enterPhase(ctx, PhasePlay)
	results, steps, err := playToEnd(ctx, sessions)
	report.Steps = steps
	if err != nil {
		return err
	}
	report.Results = results

	o.enterPhase(ctx, PhaseLeave)
	if err := fanOut(ctx, sessions, func(ctx context.Context, _ int, s *Session) error {
		return s.Leave(ctx)
	}); err != nil {
		return err
	}

	o.enterPhase(ctx, PhaseQuit)
	return fanOut(ctx, sessions, func(ctx context.Context, _ int, s *Session) error {
		return s.Quit(ctx)
	})
}

func (o *Orchestrator) allocatePorts() (*network.MatchPortConfig, error) {
	if o.cfg.StartPort > 0 {
		return network.PortsFromStart(o.cfg.StartPort), nil
	}
	return network.NewPortAllocator(o.cfg.AllocAttempts, o.cfg.PortPicker).Allocate()
}

func (o *Orchestrator) cleanup() {
	o.setPhase(PhaseCleanup)
	if err := cleanupAll(o.Sessions()); err != nil {
		o.logger.Warn().Err(err).Msg("cleanup finished with errors")
	}
}

func (o *Orchestrator) enterPhase(ctx context.Context, phase string) {
	o.setPhase(phase)
	o.logger.Info().Str("phase", phase).Msg("entering match phase")
	o.cfg.EventBus.Emit(ctx, events.Event{
		Type:    events.EventMatchPhase,
		Source:  "orchestrator",
		Payload: events.MatchPhasePayload{MatchID: o.matchID, Phase: phase},
	})
}

func (o *Orchestrator) setPhase(phase string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.phase = phase
}

func (o *Orchestrator) currentPhase() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.phase
}

// fanOut runs fn on every session concurrently and waits for all of them.
// The first failure cancels the context handed to the others.
func fanOut(ctx context.Context, sessions []*Session, fn func(ctx context.Context, i int, s *Session) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range sessions {
		i, s := i, s
		g.Go(func() error {
			return fn(gctx, i, s)
		})
	}
	return g.Wait()
}

// playToEnd steps every session in lockstep until all of them report a
// result in the same iteration.
func playToEnd(ctx context.Context, sessions []*Session) ([]match.Result, int, error) {
	for iteration := 0; ; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, iteration, err
		}

		results := make([]*match.Result, len(sessions))
		err := fanOut(ctx, sessions, func(ctx context.Context, i int, s *Session) error {
			r, err := s.PlayStep(ctx)
			results[i] = r
			return err
		})
		if err != nil {
			return nil, iteration, err
		}

		done := make([]match.Result, 0, len(results))
		for _, r := range results {
			if r == nil {
				break
			}
			done = append(done, *r)
		}
		if len(done) == len(sessions) {
			return done, iteration, nil
		}
	}
}

// cleanupAll cleans up every session concurrently.
func cleanupAll(sessions []*Session) error {
	var g errgroup.Group
	for _, s := range sessions {
		g.Go(s.Cleanup)
	}
	return g.Wait()
}

// finish logs and publishes the outcome of a run.
func finish(ctx context.Context, bus *events.EventBus, logger zerolog.Logger, report *Report, err error) (*Report, error) {
	if err != nil {
		report.Error = err.Error()
		logger.Error().
			Err(err).
			Str("phase", report.Phase).
			Msg("match aborted")
		bus.Emit(context.WithoutCancel(ctx), events.Event{
			Type:   events.EventMatchAborted,
			Source: "orchestrator",
			Payload: events.MatchAbortedPayload{
				MatchID: report.MatchID,
				Phase:   report.Phase,
				Error:   report.Error,
			},
		})
		return report, fmt.Errorf("match %s aborted during %s: %w", report.MatchID, report.Phase, err)
	}

	outcomes := make([]events.PlayerOutcome, 0, len(report.Results))
	for _, r := range report.Results {
		outcomes = append(outcomes, events.PlayerOutcome{
			PlayerID:   r.PlayerID,
			PlayerName: r.PlayerName,
			Outcome:    r.Outcome.String(),
		})
		logger.Info().
			Uint32("player_id", r.PlayerID).
			Str("player", r.PlayerName).
			Str("result", r.Outcome.String()).
			Msg("match result")
	}
	logger.Info().
		Int("steps", report.Steps).
		Dur("duration", report.Duration()).
		Msg("match finished")

	bus.Emit(context.WithoutCancel(ctx), events.Event{
		Type:   events.EventMatchEnded,
		Source: "orchestrator",
		Payload: events.MatchEndedPayload{
			MatchID:  report.MatchID,
			Map:      report.Map,
			Steps:    report.Steps,
			Duration: report.Duration(),
			Results:  outcomes,
		},
	})
	return report, nil
}

// IsMatchFatal reports whether err aborted a match, as opposed to a
// context cancellation requested by the caller.
func IsMatchFatal(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}
