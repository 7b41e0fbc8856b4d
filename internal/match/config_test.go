package match

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrtknauer/pycraft2/internal/protocol"
)

func TestBotsKeepsDeclarationOrderAndSkipsComputers(t *testing.T) {
	cfg := &Config{Players: []Participant{
		Bot{Name: "first", Race: protocol.RaceTerran},
		NewComputer(protocol.RaceZerg, protocol.DifficultyHard, protocol.AIBuildRush),
		Bot{Name: "second", Race: protocol.RaceProtoss},
	}}

	bots := cfg.Bots()
	require.Len(t, bots, 2)
	assert.Equal(t, "first", bots[0].Name)
	assert.Equal(t, "second", bots[1].Name)
}

func TestPlayerSetupsDistinguishParticipantsFromComputers(t *testing.T) {
	cfg := &Config{Players: []Participant{
		Bot{Name: "bot", Race: protocol.RaceTerran},
		NewComputer(protocol.RaceZerg, protocol.DifficultyHard, protocol.AIBuildRush),
	}}

	setups := cfg.PlayerSetups()
	require.Len(t, setups, 2)
	assert.Equal(t, protocol.ParticipantSetup(protocol.RaceTerran, "bot"), setups[0])
	assert.Equal(t, protocol.PlayerTypeComputer, setups[1].Type)
	assert.Equal(t, protocol.DifficultyHard, setups[1].Difficulty)
	assert.Equal(t, protocol.AIBuildRush, setups[1].AIBuild)
}

func TestNewComputerFillsDefaults(t *testing.T) {
	c := NewComputer(protocol.RaceNone, 0, 0)

	assert.Equal(t, protocol.RaceRandom, c.Race)
	assert.Equal(t, protocol.DifficultyMedium, c.Difficulty)
	assert.Equal(t, protocol.AIBuildRandom, c.Build)
}

func TestLoadMapReadsRawBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Test.SC2Map")
	require.NoError(t, os.WriteFile(path, []byte{0x4d, 0x50, 0x51, 0x1a}, 0644))

	m, err := LoadMap(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x4d, 0x50, 0x51, 0x1a}, m.Data)
	assert.Equal(t, "Test.SC2Map", m.Name())
}

func TestLoadMapMissingFile(t *testing.T) {
	_, err := LoadMap(filepath.Join(t.TempDir(), "missing.SC2Map"))
	assert.Error(t, err)
}
