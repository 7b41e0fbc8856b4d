package server

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrtknauer/pycraft2/internal/events"
	"github.com/jrtknauer/pycraft2/internal/match"
	"github.com/jrtknauer/pycraft2/internal/network"
	"github.com/jrtknauer/pycraft2/internal/protocol"
)

const (
	// DefaultWarmup is how long Launch waits for the engine's listener.
	// The engine gives no ready signal.
	DefaultWarmup = 2 * time.Second
	// DefaultStepCount is how many game loops one step advances.
	DefaultStepCount = 100
)

// noExpectation marks exchanges whose status is recorded but not validated.
const noExpectation protocol.Status = 0

// SessionConfig holds what a session needs besides its bot.
type SessionConfig struct {
	Bot match.Bot
	// Process is nil when the engine is started by someone else, as on a
	// ladder.
	Process   EngineProcess
	Warmup    time.Duration
	StepCount uint32

	RetryInterval  time.Duration
	ConnectTimeout time.Duration

	EventBus *events.EventBus
}

// Session drives one engine through the match lifecycle for one bot. Its
// operations are strictly sequential: a session never has two requests in
// flight.
type Session struct {
	bot       match.Bot
	process   EngineProcess
	transport *network.Transport
	state     *SessionState
	eventBus  *events.EventBus
	logger    zerolog.Logger

	warmup    time.Duration
	stepCount uint32

	cleanupOnce sync.Once
	cleanupErr  error
}

// NewSession creates an unstarted session for the bot's configured endpoint.
func NewSession(cfg SessionConfig) *Session {
	if cfg.Warmup <= 0 {
		cfg.Warmup = DefaultWarmup
	}
	if cfg.StepCount == 0 {
		cfg.StepCount = DefaultStepCount
	}

	return &Session{
		bot:     cfg.Bot,
		process: cfg.Process,
		transport: network.NewTransport(network.TransportConfig{
			Address:        cfg.Bot.Client.Address,
			Port:           cfg.Bot.Client.Port,
			RetryInterval:  cfg.RetryInterval,
			ConnectTimeout: cfg.ConnectTimeout,
		}),
		state:     NewSessionState(),
		eventBus:  cfg.EventBus,
		warmup:    cfg.Warmup,
		stepCount: cfg.StepCount,
		logger: log.With().
			Str("component", "session").
			Str("player", cfg.Bot.Name).
			Int("port", cfg.Bot.Client.Port).
			Logger(),
	}
}

// Launch starts the engine process and waits out the warm-up interval.
func (s *Session) Launch(ctx context.Context) error {
	if err := s.requirePhase("launch", events.PhaseUnstarted); err != nil {
		return err
	}
	if s.process == nil {
		return &InvariantError{Op: "launch", Msg: "no engine process configured"}
	}

	if err := s.process.Start(ctx); err != nil {
		return fmt.Errorf("failed to launch engine for %s: %w", s.bot.Name, err)
	}
	s.setPhase(events.PhaseLaunched)

	s.logger.Debug().Dur("warmup", s.warmup).Msg("waiting for engine to start listening")
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.warmup):
	}
	return nil
}

// Connect opens the transport and probes the engine's status, which must
// be launched.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.requirePhase("connect", events.PhaseUnstarted, events.PhaseLaunched); err != nil {
		return err
	}

	if err := s.transport.Connect(ctx); err != nil {
		return err
	}

	resp, err := s.exchange(ctx, "connect", protocol.PingRequest{}, protocol.StatusLaunched)
	if err != nil {
		return err
	}
	if resp.Ping != nil {
		s.state.SetGameVersion(resp.Ping.GameVersion)
		s.logger.Info().
			Str("game_version", resp.Ping.GameVersion).
			Uint32("base_build", resp.Ping.BaseBuild).
			Msg("connected to engine")
	}

	s.setPhase(events.PhaseConnected)
	return nil
}

// CreateMatch hosts the match on this session's engine. Only one session
// per match calls it.
func (s *Session) CreateMatch(ctx context.Context, m *match.Config) error {
	if err := s.requirePhase("create_match", events.PhaseConnected); err != nil {
		return err
	}

	resp, err := s.exchange(ctx, "create_match", m.CreateGameRequest(), protocol.StatusInitGame)
	if err != nil {
		return err
	}
	if c := resp.CreateGame; c != nil && c.Error != 0 {
		s.logger.Error().
			Int32("error", c.Error).
			Str("details", c.ErrorDetails).
			Msg("engine reported create match error")
	}

	s.setPhase(events.PhaseMatchCreated)
	return nil
}

// JoinMatch joins the hosted match. Ports are only sent for networked
// matches; nil leaves them out of the request entirely.
func (s *Session) JoinMatch(ctx context.Context, ports *network.MatchPortConfig) error {
	if err := s.requirePhase("join_match", events.PhaseConnected, events.PhaseMatchCreated); err != nil {
		return err
	}

	req := protocol.JoinGameRequest{
		Race:       s.bot.Race,
		Options:    protocol.RawInterface(),
		PlayerName: s.bot.Name,
	}
	if ports != nil {
		host := ports.Host
		req.ServerPorts = &host
		req.ClientPorts = ports.Clients
	}

	resp, err := s.exchange(ctx, "join_match", req, protocol.StatusInGame)
	if err != nil {
		return err
	}
	if j := resp.JoinGame; j != nil {
		if j.Error != 0 {
			s.logger.Error().
				Int32("error", j.Error).
				Str("details", j.ErrorDetails).
				Msg("engine reported join match error")
		}
		s.state.SetPlayerID(j.PlayerID)
		s.logger.Info().Uint32("player_id", j.PlayerID).Msg("joined match")
	}

	s.setPhase(events.PhaseJoined)
	return nil
}

// PlayStep observes the match and, unless it has ended, advances it by one
// step and hands control to the bot's handler. It returns this session's
// result once the engine reports the match ended, and nil before that.
func (s *Session) PlayStep(ctx context.Context) (*match.Result, error) {
	if err := s.requirePhase("play_step",
		events.PhaseJoined, events.PhasePlaying, events.PhaseEnded); err != nil {
		return nil, err
	}
	if s.state.GetPhase() == events.PhaseJoined {
		s.setPhase(events.PhasePlaying)
	}

	resp, err := s.exchange(ctx, "observation", protocol.ObservationRequest{}, noExpectation)
	if err != nil {
		return nil, err
	}

	if resp.Status == protocol.StatusEnded {
		return s.ownResult(resp.Observation)
	}

	resp, err = s.exchange(ctx, "step", protocol.StepRequest{Count: s.stepCount}, noExpectation)
	if err != nil {
		return nil, err
	}

	var loop uint32
	if resp.Step != nil {
		loop = resp.Step.SimulationLoop
	}
	s.state.RecordStep(loop)

	if err := s.runHandler(ctx, match.Step{PlayerID: s.state.GetPlayerID(), SimulationLoop: loop}); err != nil {
		return nil, err
	}
	return nil, nil
}

// ownResult picks this session's entry from an ended match's results.
func (s *Session) ownResult(obs *protocol.ObservationResponse) (*match.Result, error) {
	playerID := s.state.GetPlayerID()

	var results []protocol.PlayerResult
	if obs != nil {
		results = obs.PlayerResults
	}
	idx := slices.IndexFunc(results, func(r protocol.PlayerResult) bool {
		return r.PlayerID == playerID
	})
	if idx < 0 {
		return nil, &InvariantError{
			Op:  "play_step",
			Msg: fmt.Sprintf("ended match has no result for player %d", playerID),
		}
	}

	result := match.Result{
		PlayerID:   playerID,
		PlayerName: s.bot.Name,
		Outcome:    results[idx].Result,
	}
	if s.state.GetPhase() != events.PhaseEnded {
		s.setPhase(events.PhaseEnded)
		s.logger.Info().Str("result", result.Outcome.String()).Msg("match has ended")
	}
	s.state.SetResult(result)
	return &result, nil
}

func (s *Session) runHandler(ctx context.Context, step match.Step) (err error) {
	if s.bot.Handler == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("step handler panicked")
			err = fmt.Errorf("step handler for %s panicked: %v", s.bot.Name, r)
		}
	}()
	s.bot.Handler.OnStep(ctx, step)
	return nil
}

// Leave leaves the match. The engine keeps running and reverts to launched.
func (s *Session) Leave(ctx context.Context) error {
	if err := s.requirePhase("leave_match",
		events.PhaseJoined, events.PhasePlaying, events.PhaseEnded); err != nil {
		return err
	}

	if _, err := s.exchange(ctx, "leave_match", protocol.LeaveGameRequest{}, protocol.StatusLaunched); err != nil {
		return err
	}
	s.setPhase(events.PhaseConnected)
	return nil
}

// Quit asks the engine to shut itself down.
func (s *Session) Quit(ctx context.Context) error {
	if err := s.requirePhase("quit",
		events.PhaseConnected, events.PhaseMatchCreated, events.PhaseJoined,
		events.PhasePlaying, events.PhaseEnded); err != nil {
		return err
	}

	if _, err := s.exchange(ctx, "quit", protocol.QuitRequest{}, protocol.StatusQuit); err != nil {
		return err
	}
	s.setPhase(events.PhaseQuit)
	return nil
}

// Cleanup closes the transport and stops the engine process, whatever
// state the session reached. Only the first call does any work.
func (s *Session) Cleanup() error {
	s.cleanupOnce.Do(func() {
		var errs []error
		if err := s.transport.Close(); err != nil {
			errs = append(errs, err)
		}
		if s.process != nil {
			if err := s.process.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("failed to stop engine: %w", err))
			}
		}
		s.cleanupErr = errors.Join(errs...)

		if s.cleanupErr != nil {
			s.logger.Warn().Err(s.cleanupErr).Msg("session cleanup finished with errors")
		} else {
			s.logger.Debug().Msg("session cleaned up")
		}

		s.eventBus.Emit(context.Background(), events.Event{
			Type:   events.EventSessionCleanup,
			Source: s.bot.Name,
			Payload: events.SessionCleanupPayload{
				Player: s.bot.Name,
				Port:   s.bot.Client.Port,
				Errors: len(errs),
			},
		})
	})
	return s.cleanupErr
}

// exchange sends one request and reads its response, then records the
// status. A status other than expect is reported but not returned.
func (s *Session) exchange(ctx context.Context, op string, req protocol.Request, expect protocol.Status) (*protocol.Response, error) {
	frame, err := protocol.EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	if err := s.transport.Send(frame); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	data, err := s.transport.Receive(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	resp, err := protocol.DecodeResponse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if resp.Kind != 0 && resp.Kind != req.Kind() {
		return nil, &protocol.ProtocolError{
			Op:     "decode",
			Reason: fmt.Sprintf("%s response to a %s request", resp.Kind, req.Kind()),
		}
	}
	for _, msg := range resp.Errors {
		s.logger.Error().Str("operation", op).Str("error", msg).Msg("engine reported error")
	}

	s.observe(op, resp.Status, expect)
	return resp, nil
}

// observe records a response's status and reports anything unexpected.
func (s *Session) observe(op string, status, expect protocol.Status) {
	old := s.state.SetStatus(status)
	if old != status {
		s.logger.Debug().
			Str("operation", op).
			Str("old_status", old.String()).
			Str("new_status", status.String()).
			Msg("engine status updated")
	}
	if status == protocol.StatusUnknown {
		s.logger.Error().Str("operation", op).Msg("engine reported unknown status")
	}

	s.eventBus.Emit(context.Background(), events.Event{
		Type:   events.EventSessionStatus,
		Source: s.bot.Name,
		Payload: events.SessionStatusPayload{
			Player:    s.bot.Name,
			Port:      s.bot.Client.Port,
			Operation: op,
			Status:    status.String(),
			Phase:     s.state.GetPhase().String(),
		},
	})

	if expect == noExpectation || status == expect {
		return
	}

	mismatch := StatusMismatch{Operation: op, Expected: expect, Observed: status, At: time.Now()}
	s.state.AddMismatch(mismatch)
	s.logger.Error().
		Str("operation", op).
		Str("expected_status", expect.String()).
		Str("current_status", status.String()).
		Msg("unexpected engine status")

	s.eventBus.Emit(context.Background(), events.Event{
		Type:   events.EventStatusMismatch,
		Source: s.bot.Name,
		Payload: events.StatusMismatchPayload{
			Player:    s.bot.Name,
			Port:      s.bot.Client.Port,
			Operation: op,
			Expected:  expect.String(),
			Observed:  status.String(),
			At:        mismatch.At,
		},
	})
}

func (s *Session) requirePhase(op string, allowed ...events.SessionPhase) error {
	phase := s.state.GetPhase()
	if slices.Contains(allowed, phase) {
		return nil
	}
	return &InvariantError{
		Op:  op,
		Msg: fmt.Sprintf("not allowed in phase %s", phase),
	}
}

func (s *Session) setPhase(phase events.SessionPhase) {
	old := s.state.SetPhase(phase)
	s.logger.Debug().
		Str("old_phase", old.String()).
		Str("new_phase", phase.String()).
		Msg("session phase changed")
}

// Bot returns the bot this session plays for.
func (s *Session) Bot() match.Bot {
	return s.bot
}

// Process returns the engine process, or nil when none is managed.
func (s *Session) Process() EngineProcess {
	return s.process
}

// PlayerID returns the engine-assigned identifier, 0 before joining.
func (s *Session) PlayerID() uint32 {
	return s.state.GetPlayerID()
}

// Status returns the last engine-reported status.
func (s *Session) Status() protocol.Status {
	return s.state.GetStatus()
}

// Phase returns the local lifecycle phase.
func (s *Session) Phase() events.SessionPhase {
	return s.state.GetPhase()
}

// Mismatches returns every status anomaly observed so far.
func (s *Session) Mismatches() []StatusMismatch {
	return s.state.GetMismatches()
}

// Snapshot returns a serialisable view of the session.
func (s *Session) Snapshot() SessionSnapshot {
	snap := s.state.Snapshot()
	snap.Player = s.bot.Name
	snap.Port = s.bot.Client.Port
	if s.process != nil {
		snap.PID = s.process.PID()
	}
	return snap
}
