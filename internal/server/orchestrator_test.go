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

// emulatedLauncher starts one emulator per launched client and remembers
// them by port.
type emulatedLauncher struct {
	t   *testing.T
	cfg emulator.Config
	// lengths overrides the match length of the client on a port.
	lengths map[int]int

	mu        sync.Mutex
	processes map[int]*emulatedProcess
	launched  []ProcessConfig
}

func newEmulatedLauncher(t *testing.T, cfg emulator.Config) *emulatedLauncher {
	return &emulatedLauncher{t: t, cfg: cfg, processes: make(map[int]*emulatedProcess)}
}

func (l *emulatedLauncher) launch(pc ProcessConfig) EngineProcess {
	cfg := l.cfg
	cfg.Port = pc.Port
	if n, ok := l.lengths[pc.Port]; ok {
		cfg.MatchLength = n
	}
	p := &emulatedProcess{emu: emulator.New(cfg)}
	l.t.Cleanup(func() { p.emu.Close() })

	l.mu.Lock()
	defer l.mu.Unlock()
	l.processes[pc.Port] = p
	l.launched = append(l.launched, pc)
	return p
}

func (l *emulatedLauncher) process(port int) *emulatedProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.processes[port]
}

// countingPicker counts how often free ports are requested.
type countingPicker struct {
	calls atomic.Int32
}

func (c *countingPicker) pick() (int, error) {
	c.calls.Add(1)
	return network.PickUnusedPort()
}

func botOnFreePort(t *testing.T, name string, race protocol.Race) match.Bot {
	t.Helper()
	port, err := network.PickUnusedPort()
	require.NoError(t, err)
	bot := testBot(name, port, nil)
	bot.Race = race
	return bot
}

func orchestratorConfig(l *emulatedLauncher, picker network.PortPicker, bus *events.EventBus) OrchestratorConfig {
	return OrchestratorConfig{
		Executable:     "SC2_x64",
		Warmup:         time.Millisecond,
		RetryInterval:  10 * time.Millisecond,
		ConnectTimeout: 2 * time.Second,
		Launcher:       l.launch,
		PortPicker:     picker,
		EventBus:       bus,
	}
}

func TestOrchestratorSingleBotVersusComputer(t *testing.T) {
	launcher := newEmulatedLauncher(t, emulator.Config{MatchLength: 4})
	picker := &countingPicker{}
	bot := botOnFreePort(t, "solo", protocol.RaceProtoss)

	m := &match.Config{
		Map: match.Map{Path: "maps/Simple64.SC2Map", Data: []byte("map")},
		Players: []match.Participant{
			bot,
			match.NewComputer(protocol.RaceZerg, protocol.DifficultyEasy, protocol.AIBuildRandom),
		},
	}

	orch := NewOrchestrator(m, orchestratorConfig(launcher, picker.pick, nil))
	report, err := orch.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, orch.Sessions(), 1)
	assert.Equal(t, int32(0), picker.calls.Load(), "single bot must not allocate ports")
	assert.Equal(t, "Simple64.SC2Map", report.Map)
	assert.Equal(t, orch.MatchID(), report.MatchID)
	assert.Empty(t, report.Error)
	require.Len(t, report.Results, 1)
	assert.Equal(t, uint32(1), report.Results[0].PlayerID)
	assert.Equal(t, protocol.ResultVictory, report.Results[0].Outcome)
	assert.Equal(t, 4, report.Steps)

	proc := launcher.process(bot.Client.Port)
	require.NotNil(t, proc)
	join := proc.emu.LastJoin()
	require.NotNil(t, join)
	assert.Nil(t, join.ServerPorts)
	assert.Empty(t, join.ClientPorts)
	assert.Equal(t, int32(1), proc.stopped.Load())

	require.Len(t, launcher.launched, 1)
	assert.Equal(t, BuildClientArgs(bot.Client), launcher.launched[0].Args)
}

func TestOrchestratorTwoBotsShareOnePortConfig(t *testing.T) {
	launcher := newEmulatedLauncher(t, emulator.Config{MatchLength: 3})
	picker := &countingPicker{}
	first := botOnFreePort(t, "first", protocol.RaceTerran)
	second := botOnFreePort(t, "second", protocol.RaceZerg)

	m := &match.Config{
		Map:     match.Map{Path: "Versus.SC2Map", Data: []byte("map")},
		Players: []match.Participant{first, second},
	}

	orch := NewOrchestrator(m, orchestratorConfig(launcher, picker.pick, nil))
	report, err := orch.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, orch.Sessions(), 2)
	assert.GreaterOrEqual(t, picker.calls.Load(), int32(4))

	require.Len(t, report.Results, 2)
	assert.Equal(t, "first", report.Results[0].PlayerName)
	assert.Equal(t, uint32(1), report.Results[0].PlayerID)
	assert.Equal(t, "second", report.Results[1].PlayerName)
	assert.Equal(t, uint32(2), report.Results[1].PlayerID)

	hostJoin := launcher.process(first.Client.Port).emu.LastJoin()
	peerJoin := launcher.process(second.Client.Port).emu.LastJoin()
	require.NotNil(t, hostJoin)
	require.NotNil(t, peerJoin)
	require.NotNil(t, hostJoin.ServerPorts)
	assert.Equal(t, hostJoin.ServerPorts, peerJoin.ServerPorts)
	assert.Equal(t, hostJoin.ClientPorts, peerJoin.ClientPorts)

	ports := network.MatchPortConfig{Host: *hostJoin.ServerPorts, Clients: hostJoin.ClientPorts}
	assert.True(t, ports.Distinct())

	// only the first session hosts the match
	assert.Contains(t, launcher.process(first.Client.Port).emu.Requests(), protocol.KindCreateGame)
	assert.NotContains(t, launcher.process(second.Client.Port).emu.Requests(), protocol.KindCreateGame)
}

func countKind(kinds []protocol.RequestKind, kind protocol.RequestKind) int {
	n := 0
	for _, k := range kinds {
		if k == kind {
			n++
		}
	}
	return n
}

func TestOrchestratorWaitsForSlowestSession(t *testing.T) {
	first := botOnFreePort(t, "first", protocol.RaceTerran)
	second := botOnFreePort(t, "second", protocol.RaceZerg)
	launcher := newEmulatedLauncher(t, emulator.Config{})
	launcher.lengths = map[int]int{first.Client.Port: 2, second.Client.Port: 6}

	orch := NewOrchestrator(&match.Config{
		Map:     match.Map{Path: "Versus.SC2Map", Data: []byte("map")},
		Players: []match.Participant{first, second},
	}, orchestratorConfig(launcher, nil, nil))

	report, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, report.Steps)
	require.Len(t, report.Results, 2)
	assert.Equal(t, "first", report.Results[0].PlayerName)
	assert.Equal(t, "second", report.Results[1].PlayerName)

	// The early finisher keeps observing its ended match until the
	// slower session has a result too.
	early := launcher.process(first.Client.Port).emu.Requests()
	assert.Equal(t, 2, countKind(early, protocol.KindStep))
	assert.Equal(t, 7, countKind(early, protocol.KindObservation))

	late := launcher.process(second.Client.Port).emu.Requests()
	assert.Equal(t, 6, countKind(late, protocol.KindStep))
	assert.Equal(t, 7, countKind(late, protocol.KindObservation))
}

func TestOrchestratorUsesConfiguredStartPort(t *testing.T) {
	launcher := newEmulatedLauncher(t, emulator.Config{MatchLength: 1})
	first := botOnFreePort(t, "first", protocol.RaceTerran)
	second := botOnFreePort(t, "second", protocol.RaceTerran)

	cfg := orchestratorConfig(launcher, nil, nil)
	cfg.StartPort = 6000
	orch := NewOrchestrator(&match.Config{
		Map:     match.Map{Path: "Versus.SC2Map", Data: []byte("map")},
		Players: []match.Participant{first, second},
	}, cfg)

	_, err := orch.Run(context.Background())
	require.NoError(t, err)

	join := launcher.process(second.Client.Port).emu.LastJoin()
	require.NotNil(t, join)
	assert.Equal(t, &protocol.PortSet{GamePort: 6002, BasePort: 6003}, join.ServerPorts)
	assert.Equal(t, []protocol.PortSet{{GamePort: 6004, BasePort: 6005}}, join.ClientPorts)
}

func TestOrchestratorPicksPortForUnsetClientPort(t *testing.T) {
	launcher := newEmulatedLauncher(t, emulator.Config{MatchLength: 1})
	picker := &countingPicker{}

	orch := NewOrchestrator(&match.Config{
		Map:     match.Map{Path: "Test.SC2Map", Data: []byte("map")},
		Players: []match.Participant{testBot("unset", 0, nil), match.NewComputer(0, 0, 0)},
	}, orchestratorConfig(launcher, picker.pick, nil))

	_, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(1), picker.calls.Load())
	assert.NotZero(t, orch.Sessions()[0].Bot().Client.Port)
}

// failingProcess never starts.
type failingProcess struct {
	stopped atomic.Int32
}

func (p *failingProcess) Start(ctx context.Context) error { return errors.New("no such executable") }
func (p *failingProcess) Stop() error                     { p.stopped.Add(1); return nil }
func (p *failingProcess) PID() int                        { return 0 }

func TestOrchestratorCleansUpAfterLaunchFailure(t *testing.T) {
	var procs []*failingProcess
	cfg := OrchestratorConfig{
		Warmup: time.Millisecond,
		Launcher: func(ProcessConfig) EngineProcess {
			p := &failingProcess{}
			procs = append(procs, p)
			return p
		},
	}

	bus := events.NewEventBus()
	defer bus.Stop()
	aborted := make(chan events.MatchAbortedPayload, 1)
	bus.Subscribe(events.EventMatchAborted, "test", func(ctx context.Context, e events.Event) error {
		aborted <- e.Payload.(events.MatchAbortedPayload)
		return nil
	})
	cfg.EventBus = bus

	orch := NewOrchestrator(&match.Config{
		Map:     match.Map{Path: "Versus.SC2Map", Data: []byte("map")},
		Players: []match.Participant{testBot("a", 5001, nil), testBot("b", 5002, nil)},
	}, cfg)

	report, err := orch.Run(context.Background())
	require.Error(t, err)
	require.NotNil(t, report)
	assert.Equal(t, PhaseLaunch, report.Phase)
	assert.Contains(t, report.Error, "no such executable")
	assert.ErrorContains(t, err, report.MatchID)

	require.Len(t, procs, 2)
	for _, p := range procs {
		assert.Equal(t, int32(1), p.stopped.Load())
	}

	select {
	case payload := <-aborted:
		assert.Equal(t, report.MatchID, payload.MatchID)
		assert.Equal(t, PhaseLaunch, payload.Phase)
	case <-time.After(2 * time.Second):
		t.Fatal("match_aborted event was not emitted")
	}
}

func TestOrchestratorAbortsOnMissingResultButCleansUp(t *testing.T) {
	launcher := newEmulatedLauncher(t, emulator.Config{
		MatchLength: 1,
		Results:     []protocol.PlayerResult{{PlayerID: 9, Result: protocol.ResultTie}},
	})
	first := botOnFreePort(t, "first", protocol.RaceTerran)
	second := botOnFreePort(t, "second", protocol.RaceTerran)

	orch := NewOrchestrator(&match.Config{
		Map:     match.Map{Path: "Versus.SC2Map", Data: []byte("map")},
		Players: []match.Participant{first, second},
	}, orchestratorConfig(launcher, nil, nil))

	report, err := orch.Run(context.Background())

	var ierr *InvariantError
	require.True(t, errors.As(err, &ierr), "expected InvariantError, got %v", err)
	assert.Equal(t, PhasePlay, report.Phase)
	assert.Empty(t, report.Results)
	assert.Equal(t, int32(1), launcher.process(first.Client.Port).stopped.Load())
	assert.Equal(t, int32(1), launcher.process(second.Client.Port).stopped.Load())
}

func TestOrchestratorEmitsMatchEnded(t *testing.T) {
	launcher := newEmulatedLauncher(t, emulator.Config{MatchLength: 2})
	bot := botOnFreePort(t, "reporter", protocol.RaceRandom)

	bus := events.NewEventBus()
	defer bus.Stop()
	ended := make(chan events.MatchEndedPayload, 1)
	bus.Subscribe(events.EventMatchEnded, "test", func(ctx context.Context, e events.Event) error {
		ended <- e.Payload.(events.MatchEndedPayload)
		return nil
	})

	orch := NewOrchestrator(&match.Config{
		Map:     match.Map{Path: "Test.SC2Map", Data: []byte("map")},
		Players: []match.Participant{bot, match.NewComputer(0, 0, 0)},
	}, orchestratorConfig(launcher, nil, bus))

	_, err := orch.Run(context.Background())
	require.NoError(t, err)

	select {
	case payload := <-ended:
		assert.Equal(t, orch.MatchID(), payload.MatchID)
		require.Len(t, payload.Results, 1)
		assert.Equal(t, "victory", payload.Results[0].Outcome)
	case <-time.After(2 * time.Second):
		t.Fatal("match_ended event was not emitted")
	}
}

func TestOrchestratorRejectsMatchWithoutBots(t *testing.T) {
	orch := NewOrchestrator(&match.Config{
		Players: []match.Participant{match.NewComputer(0, 0, 0)},
	}, OrchestratorConfig{})

	report, err := orch.Run(context.Background())

	var ierr *InvariantError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, PhaseSetup, report.Phase)
}
