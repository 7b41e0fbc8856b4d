package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrtknauer/pycraft2/internal/emulator"
	"github.com/jrtknauer/pycraft2/internal/events"
	"github.com/jrtknauer/pycraft2/internal/network"
	"github.com/jrtknauer/pycraft2/internal/protocol"
)

func TestLadderRunnerJoinsHostedMatch(t *testing.T) {
	emu := emulator.New(emulator.Config{MatchLength: 2})
	require.NoError(t, emu.Start())
	t.Cleanup(func() { emu.Close() })

	runner := NewLadderRunner(testBot("ladder-bot", 0, nil), LadderConfig{
		ServerAddress:  "127.0.0.1",
		GamePort:       emu.Port(),
		StartPort:      5000,
		RetryInterval:  10 * time.Millisecond,
		ConnectTimeout: time.Second,
	})

	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Results, 1)
	assert.Equal(t, uint32(2), report.Results[0].PlayerID)
	assert.Equal(t, protocol.ResultDefeat, report.Results[0].Outcome)
	assert.Equal(t, PhaseQuit, report.Phase)

	join := emu.LastJoin()
	require.NotNil(t, join)
	assert.Equal(t, &protocol.PortSet{GamePort: 5002, BasePort: 5003}, join.ServerPorts)
	assert.Equal(t, []protocol.PortSet{{GamePort: 5004, BasePort: 5005}}, join.ClientPorts)
	assert.NotContains(t, emu.Requests(), protocol.KindCreateGame)

	snaps := runner.Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, events.PhaseQuit, snaps[0].Phase)
	assert.Equal(t, emu.Port(), snaps[0].Port)
}

func TestLadderRunnerReportsUnreachableEngine(t *testing.T) {
	port, err := network.PickUnusedPort()
	require.NoError(t, err)

	runner := NewLadderRunner(testBot("ladder-bot", 0, nil), LadderConfig{
		ServerAddress:  "127.0.0.1",
		GamePort:       port,
		StartPort:      5000,
		RetryInterval:  10 * time.Millisecond,
		ConnectTimeout: 50 * time.Millisecond,
	})

	report, err := runner.Run(context.Background())

	var cerr *network.ConnectionError
	require.True(t, errors.As(err, &cerr), "expected ConnectionError, got %v", err)
	assert.Equal(t, PhaseConnect, report.Phase)
	assert.NotEmpty(t, report.Error)
}
