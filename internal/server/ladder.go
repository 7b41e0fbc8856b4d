package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrtknauer/pycraft2/internal/events"
	"github.com/jrtknauer/pycraft2/internal/match"
	"github.com/jrtknauer/pycraft2/internal/network"
)

// LadderConfig is what a ladder server hands a bot: where its engine
// listens and the start port of the match's port range.
type LadderConfig struct {
	ServerAddress string
	GamePort      int
	StartPort     int

	StepCount      uint32
	RetryInterval  time.Duration
	ConnectTimeout time.Duration

	EventBus *events.EventBus
}

// LadderRunner plays one bot in a match hosted by a ladder server. The
// engine is already running and the match already created, so the runner
// only connects, joins, plays and leaves.
type LadderRunner struct {
	cfg     LadderConfig
	session *Session
	matchID string
	logger  zerolog.Logger

	mu    sync.RWMutex
	phase string
}

// NewLadderRunner creates a runner for bot against the configured engine.
func NewLadderRunner(bot match.Bot, cfg LadderConfig) *LadderRunner {
	bot.Client.Address = cfg.ServerAddress
	bot.Client.Port = cfg.GamePort

	id := uuid.NewString()
	return &LadderRunner{
		cfg:     cfg,
		matchID: id,
		phase:   PhaseSetup,
		session: NewSession(SessionConfig{
			Bot:            bot,
			StepCount:      cfg.StepCount,
			RetryInterval:  cfg.RetryInterval,
			ConnectTimeout: cfg.ConnectTimeout,
			EventBus:       cfg.EventBus,
		}),
		logger: log.With().
			Str("component", "ladder").
			Str("match_id", id).
			Logger(),
	}
}

// MatchID returns the identifier of this run.
func (r *LadderRunner) MatchID() string {
	return r.matchID
}

// Snapshots returns a view of the runner's single session.
func (r *LadderRunner) Snapshots() []SessionSnapshot {
	return []SessionSnapshot{r.session.Snapshot()}
}

// Run plays the match and always cleans up the session. A returned error
// has already been logged and published as a match_aborted event.
func (r *LadderRunner) Run(ctx context.Context) (*Report, error) {
	report := &Report{MatchID: r.matchID, StartedAt: time.Now()}

	r.logger.Info().
		Str("server", r.cfg.ServerAddress).
		Int("game_port", r.cfg.GamePort).
		Int("start_port", r.cfg.StartPort).
		Msg("joining ladder match")

	err := r.play(ctx, report)
	report.Phase = r.currentPhase()

	if cerr := r.session.Cleanup(); cerr != nil {
		r.logger.Warn().Err(cerr).Msg("cleanup finished with errors")
	}

	report.FinishedAt = time.Now()
	return finish(ctx, r.cfg.EventBus, r.logger, report, err)
}

func (r *LadderRunner) play(ctx context.Context, report *Report) error {
	s := r.session

	r.enterPhase(ctx, PhaseConnect)
	if err := s.Connect(ctx); err != nil {
		return err
	}

	r.enterPhase(ctx, PhaseJoin)
	if err := s.JoinMatch(ctx, network.PortsFromStart(r.cfg.StartPort)); err != nil {
		return err
	}

	r.enterPhase(ctx, PhasePlay)
	results, steps, err := playToEnd(ctx, []*Session{s})
	report.Steps = steps
	if err != nil {
		return err
	}
	report.Results = results

	r.enterPhase(ctx, PhaseLeave)
	if err := s.Leave(ctx); err != nil {
		return err
	}

	r.enterPhase(ctx, PhaseQuit)
	return s.Quit(ctx)
}

func (r *LadderRunner) enterPhase(ctx context.Context, phase string) {
	r.mu.Lock()
	r.phase = phase
	r.mu.Unlock()

	r.logger.Info().Str("phase", phase).Msg("entering match phase")
	r.cfg.EventBus.Emit(ctx, events.Event{
		Type:    events.EventMatchPhase,
		Source:  "ladder",
		Payload: events.MatchPhasePayload{MatchID: r.matchID, Phase: phase},
	})
}

func (r *LadderRunner) currentPhase() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.phase
}
