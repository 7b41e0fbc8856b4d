package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrtknauer/pycraft2/internal/emulator"
	"github.com/jrtknauer/pycraft2/internal/events"
	"github.com/jrtknauer/pycraft2/internal/match"
	"github.com/jrtknauer/pycraft2/internal/network"
	"github.com/jrtknauer/pycraft2/internal/protocol"
)

// emulatedProcess stands in for an engine client by starting an emulator.
type emulatedProcess struct {
	emu     *emulator.Emulator
	started atomic.Int32
	stopped atomic.Int32
}

func (p *emulatedProcess) Start(ctx context.Context) error {
	p.started.Add(1)
	return p.emu.Start()
}

func (p *emulatedProcess) Stop() error {
	p.stopped.Add(1)
	return p.emu.Close()
}

func (p *emulatedProcess) PID() int { return 4242 }

func newEmulatedProcess(t *testing.T, cfg emulator.Config) *emulatedProcess {
	t.Helper()
	port, err := network.PickUnusedPort()
	require.NoError(t, err)
	cfg.Port = port
	p := &emulatedProcess{emu: emulator.New(cfg)}
	t.Cleanup(func() { p.emu.Close() })
	return p
}

func testBot(name string, port int, handler match.StepHandler) match.Bot {
	client := match.DefaultClientConfig()
	client.Port = port
	return match.Bot{Name: name, Race: protocol.RaceTerran, Handler: handler, Client: client}
}

func newTestSession(t *testing.T, bot match.Bot, proc EngineProcess, bus *events.EventBus) *Session {
	t.Helper()
	s := NewSession(SessionConfig{
		Bot:            bot,
		Process:        proc,
		Warmup:         time.Millisecond,
		RetryInterval:  10 * time.Millisecond,
		ConnectTimeout: 2 * time.Second,
		EventBus:       bus,
	})
	t.Cleanup(func() { s.Cleanup() })
	return s
}

func versusComputer(bot match.Bot) *match.Config {
	return &match.Config{
		Map: match.Map{Path: "Test.SC2Map", Data: []byte("map")},
		Players: []match.Participant{
			bot,
			match.NewComputer(protocol.RaceZerg, protocol.DifficultyEasy, protocol.AIBuildRandom),
		},
	}
}

// playUntilEnded calls PlayStep until it yields a result.
func playUntilEnded(t *testing.T, s *Session, limit int) *match.Result {
	t.Helper()
	for i := 0; i < limit; i++ {
		result, err := s.PlayStep(context.Background())
		require.NoError(t, err)
		if result != nil {
			return result
		}
	}
	t.Fatalf("match did not end within %d steps", limit)
	return nil
}

func TestSessionPlaysHostedMatchToResult(t *testing.T) {
	ctx := context.Background()
	proc := newEmulatedProcess(t, emulator.Config{MatchLength: 3})

	var mu sync.Mutex
	var steps []match.Step
	handler := match.StepHandlerFunc(func(ctx context.Context, step match.Step) {
		mu.Lock()
		defer mu.Unlock()
		steps = append(steps, step)
	})

	bot := testBot("hoster", proc.emu.Port(), handler)
	s := newTestSession(t, bot, proc, nil)

	require.NoError(t, s.Launch(ctx))
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.CreateMatch(ctx, versusComputer(bot)))
	require.NoError(t, s.JoinMatch(ctx, nil))
	assert.Equal(t, uint32(1), s.PlayerID())

	result := playUntilEnded(t, s, 10)
	assert.Equal(t, uint32(1), result.PlayerID)
	assert.Equal(t, "hoster", result.PlayerName)
	assert.Equal(t, protocol.ResultVictory, result.Outcome)
	assert.Equal(t, events.PhaseEnded, s.Phase())

	require.NoError(t, s.Leave(ctx))
	assert.Equal(t, protocol.StatusLaunched, s.Status())
	require.NoError(t, s.Quit(ctx))
	assert.Equal(t, protocol.StatusQuit, s.Status())

	assert.Empty(t, s.Mismatches())
	assert.Equal(t, []match.Step{
		{PlayerID: 1, SimulationLoop: 100},
		{PlayerID: 1, SimulationLoop: 200},
		{PlayerID: 1, SimulationLoop: 300},
	}, steps)

	assert.Equal(t, []protocol.RequestKind{
		protocol.KindPing, protocol.KindCreateGame, protocol.KindJoinGame,
		protocol.KindObservation, protocol.KindStep,
		protocol.KindObservation, protocol.KindStep,
		protocol.KindObservation, protocol.KindStep,
		protocol.KindObservation,
		protocol.KindLeaveGame, protocol.KindQuit,
	}, proc.emu.Requests())

	snap := s.Snapshot()
	assert.Equal(t, events.PhaseQuit, snap.Phase)
	assert.Equal(t, 4242, snap.PID)
	assert.Equal(t, 3, snap.Steps)
	require.NotNil(t, snap.Result)
	assert.Equal(t, protocol.ResultVictory, snap.Result.Outcome)

	require.NoError(t, s.Cleanup())
	require.NoError(t, s.Cleanup())
	assert.Equal(t, int32(1), proc.stopped.Load())
}

func TestPlayStepKeepsReturningResultAfterEnd(t *testing.T) {
	ctx := context.Background()
	proc := newEmulatedProcess(t, emulator.Config{MatchLength: 1})
	bot := testBot("late", proc.emu.Port(), nil)
	s := newTestSession(t, bot, proc, nil)

	require.NoError(t, s.Launch(ctx))
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.CreateMatch(ctx, versusComputer(bot)))
	require.NoError(t, s.JoinMatch(ctx, nil))

	first := playUntilEnded(t, s, 5)
	again, err := s.PlayStep(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestSessionReportsStatusMismatchWithoutAborting(t *testing.T) {
	ctx := context.Background()
	proc := newEmulatedProcess(t, emulator.Config{
		StatusOverrides: map[protocol.RequestKind]protocol.Status{
			protocol.KindPing: protocol.StatusInReplay,
		},
	})

	bus := events.NewEventBus()
	defer bus.Stop()
	seen := make(chan events.StatusMismatchPayload, 1)
	bus.Subscribe(events.EventStatusMismatch, "test", func(ctx context.Context, e events.Event) error {
		seen <- e.Payload.(events.StatusMismatchPayload)
		return nil
	})

	bot := testBot("odd", proc.emu.Port(), nil)
	s := newTestSession(t, bot, proc, bus)

	require.NoError(t, s.Launch(ctx))
	require.NoError(t, s.Connect(ctx))
	assert.Equal(t, events.PhaseConnected, s.Phase())

	mismatches := s.Mismatches()
	require.Len(t, mismatches, 1)
	assert.Equal(t, "connect", mismatches[0].Operation)
	assert.Equal(t, protocol.StatusLaunched, mismatches[0].Expected)
	assert.Equal(t, protocol.StatusInReplay, mismatches[0].Observed)

	select {
	case payload := <-seen:
		assert.Equal(t, "launched", payload.Expected)
		assert.Equal(t, "in_replay", payload.Observed)
	case <-time.After(2 * time.Second):
		t.Fatal("status_mismatch event was not emitted")
	}

	// the chain continues
	require.NoError(t, s.CreateMatch(ctx, versusComputer(bot)))
}

func TestPlayStepFailsWhenOwnResultIsMissing(t *testing.T) {
	ctx := context.Background()
	proc := newEmulatedProcess(t, emulator.Config{
		MatchLength: 1,
		Results:     []protocol.PlayerResult{{PlayerID: 7, Result: protocol.ResultVictory}},
	})
	bot := testBot("orphan", proc.emu.Port(), nil)
	s := newTestSession(t, bot, proc, nil)

	require.NoError(t, s.Launch(ctx))
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.CreateMatch(ctx, versusComputer(bot)))
	require.NoError(t, s.JoinMatch(ctx, nil))

	_, err := s.PlayStep(ctx)
	require.NoError(t, err)
	_, err = s.PlayStep(ctx)

	var ierr *InvariantError
	require.True(t, errors.As(err, &ierr), "expected InvariantError, got %v", err)
	assert.Equal(t, "play_step", ierr.Op)
}

func TestStepHandlerPanicIsReturned(t *testing.T) {
	ctx := context.Background()
	proc := newEmulatedProcess(t, emulator.Config{MatchLength: 5})
	handler := match.StepHandlerFunc(func(ctx context.Context, step match.Step) {
		panic("bot bug")
	})
	bot := testBot("buggy", proc.emu.Port(), handler)
	s := newTestSession(t, bot, proc, nil)

	require.NoError(t, s.Launch(ctx))
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.CreateMatch(ctx, versusComputer(bot)))
	require.NoError(t, s.JoinMatch(ctx, nil))

	_, err := s.PlayStep(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot bug")
}

func TestCleanupIsSafeOnUnstartedSession(t *testing.T) {
	s := NewSession(SessionConfig{Bot: testBot("idle", 1, nil)})

	assert.NoError(t, s.Cleanup())
	assert.NoError(t, s.Cleanup())
	assert.Equal(t, events.PhaseUnstarted, s.Phase())
}

func TestOperationsCheckLocalPhase(t *testing.T) {
	ctx := context.Background()
	s := NewSession(SessionConfig{Bot: testBot("early", 1, nil)})
	defer s.Cleanup()

	var ierr *InvariantError

	_, err := s.PlayStep(ctx)
	assert.True(t, errors.As(err, &ierr))

	err = s.Launch(ctx)
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, "no engine process configured", ierr.Msg)

	assert.True(t, errors.As(s.Quit(ctx), &ierr))
	assert.True(t, errors.As(s.JoinMatch(ctx, nil), &ierr))
}

func TestConnectFailsWhenEngineNeverListens(t *testing.T) {
	port, err := network.PickUnusedPort()
	require.NoError(t, err)

	s := NewSession(SessionConfig{
		Bot:            testBot("lonely", port, nil),
		RetryInterval:  10 * time.Millisecond,
		ConnectTimeout: 50 * time.Millisecond,
	})
	defer s.Cleanup()

	err = s.Connect(context.Background())

	var cerr *network.ConnectionError
	assert.True(t, errors.As(err, &cerr))
	assert.Equal(t, events.PhaseUnstarted, s.Phase())
}
