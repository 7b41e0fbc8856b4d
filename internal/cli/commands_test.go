package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrtknauer/pycraft2/internal/config"
	"github.com/jrtknauer/pycraft2/internal/emulator"
	"github.com/jrtknauer/pycraft2/internal/util"
)

func TestParseLadderArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    LadderArgs
		wantErr string
	}{
		{
			name: "separate values",
			args: []string{"--LadderServer", "10.0.0.5", "--GamePort", "8080", "--StartPort", "9000"},
			want: LadderArgs{Server: "10.0.0.5", GamePort: 8080, StartPort: 9000},
		},
		{
			name: "inline values and unknown flags",
			args: []string{"--OpponentId", "abc", "--LadderServer=127.0.0.1", "--GamePort=5001", "--RealTime", "--StartPort=5100"},
			want: LadderArgs{Server: "127.0.0.1", GamePort: 5001, StartPort: 5100},
		},
		{
			name:    "missing start port",
			args:    []string{"--LadderServer", "127.0.0.1", "--GamePort", "5001"},
			wantErr: "missing required argument --StartPort",
		},
		{
			name:    "flag without value",
			args:    []string{"--LadderServer", "--GamePort", "5001", "--StartPort", "5100"},
			wantErr: "--LadderServer requires a value",
		},
		{
			name:    "invalid port",
			args:    []string{"--LadderServer", "127.0.0.1", "--GamePort", "70000", "--StartPort", "5100"},
			wantErr: "invalid --GamePort",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLadderArgs(tt.args)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	app := cfg.GetApplicationData()
	app.Database.Path = filepath.Join(t.TempDir(), "history.db")
	app.Engine.RetryIntervalMS = 10
	app.Engine.ConnectTimeoutSec = 1
	cfg.SetApplicationData(app)
	return cfg
}

func TestLadderThenHistory(t *testing.T) {
	emu := emulator.New(emulator.Config{MatchLength: 2})
	require.NoError(t, emu.Start())
	t.Cleanup(func() { emu.Close() })

	cfg := testConfig(t)
	var out bytes.Buffer
	app := NewApp(cfg, &out, "test", nil)

	err := app.Run(context.Background(), []string{
		"--LadderServer", "127.0.0.1",
		"--GamePort", strconv.Itoa(emu.Port()),
		"--StartPort", "5000",
		"--OpponentId", "opponent",
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "defeat")
	assert.Contains(t, out.String(), "pycraft2")

	out.Reset()
	require.NoError(t, app.Run(context.Background(), []string{"history", "5"}))
	assert.Contains(t, out.String(), "ended")
	assert.Contains(t, out.String(), "2:defeat")
}

func TestHistoryEmpty(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, NewApp(testConfig(t), &out, "test", nil).Run(context.Background(), []string{"history"}))
	assert.Contains(t, out.String(), "No matches recorded yet.")
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	var out bytes.Buffer
	err := NewApp(testConfig(t), &out, "test", nil).Run(context.Background(), []string{"run"})
	assert.ErrorContains(t, err, "configuration validation failed")
}

func TestUnknownCommand(t *testing.T) {
	var out bytes.Buffer
	app := NewApp(testConfig(t), &out, "1.2.3", nil)

	assert.ErrorIs(t, app.Run(context.Background(), []string{"dance"}), ErrUsage)
	assert.ErrorIs(t, app.Run(context.Background(), []string{"ladder", "--GamePort"}), ErrUsage)

	require.NoError(t, app.Run(context.Background(), []string{"version"}))
	assert.Contains(t, out.String(), "pycraft2 1.2.3")
}

func TestResolveEngine(t *testing.T) {
	exe, workDir, err := resolveEngine(config.EngineConfig{Executable: "/opt/sc2/SC2_x64", WorkDir: "/opt/sc2"}, util.PlatformLinux)
	require.NoError(t, err)
	assert.Equal(t, "/opt/sc2/SC2_x64", exe)
	assert.Equal(t, "/opt/sc2", workDir)

	root := t.TempDir()
	dir := filepath.Join(root, "Versions", "Base81009")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SC2_x64.exe"), nil, 0755))

	exe, workDir, err = resolveEngine(config.EngineConfig{InstallDirectory: root}, util.PlatformWindows)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "SC2_x64.exe"), exe)
	assert.Equal(t, filepath.Join(root, "Support64"), workDir)

	_, _, err = resolveEngine(config.EngineConfig{}, util.PlatformUnknown)
	assert.ErrorIs(t, err, util.ErrUnsupportedPlatform)
}
