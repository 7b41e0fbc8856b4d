// Package config handles configuration loading, validation, and persistence
// for pycraft2.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultAPIPort    = 5080
	DefaultStepCount  = 100
)

// Player types accepted in the match section.
const (
	PlayerBot      = "bot"
	PlayerComputer = "computer"
)

// Config is the root configuration structure for pycraft2.
type Config struct {
	mu   sync.RWMutex
	path string

	Match           MatchData       `json:"match"`
	ApplicationData ApplicationData `json:"application_data"`
}

// MatchData describes the match the run command plays.
type MatchData struct {
	MapPath    string         `json:"map_path"`
	DisableFog bool           `json:"disable_fog"`
	Realtime   bool           `json:"realtime"`
	RandomSeed *uint32        `json:"random_seed,omitempty"`
	StepCount  uint32         `json:"step_count"`
	StartPort  int            `json:"start_port"`
	Players    []PlayerConfig `json:"players"`
}

// PlayerConfig is one declared participant. Difficulty and Build only apply
// to computers, Client only to bots.
type PlayerConfig struct {
	Type       string        `json:"type"`
	Name       string        `json:"name"`
	Race       string        `json:"race"`
	Difficulty string        `json:"difficulty,omitempty"`
	Build      string        `json:"build,omitempty"`
	Client     *ClientConfig `json:"client,omitempty"`
}

// ClientConfig overrides the launch settings of a bot's engine client.
type ClientConfig struct {
	Address      string `json:"address"`
	Port         int    `json:"port"`
	Fullscreen   bool   `json:"fullscreen"`
	WindowWidth  int    `json:"window_width"`
	WindowHeight int    `json:"window_height"`
	WindowX      int    `json:"window_x"`
	WindowY      int    `json:"window_y"`
	Verbose      bool   `json:"verbose"`
}

// ApplicationData contains runner application configuration.
type ApplicationData struct {
	Engine   EngineConfig   `json:"engine"`
	Ports    PortsConfig    `json:"ports"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Database DatabaseConfig `json:"database"`
	API      APIConfig      `json:"api"`
	Health   HealthConfig   `json:"health"`
	Logging  LoggingConfig  `json:"logging"`
}

// EngineConfig locates the game executable and tunes how sessions reach it.
// An empty Executable is resolved from InstallDirectory at startup.
type EngineConfig struct {
	InstallDirectory  string `json:"install_directory"`
	Executable        string `json:"executable"`
	WorkDir           string `json:"work_dir"`
	WarmupMS          int    `json:"warmup_ms"`
	RetryIntervalMS   int    `json:"retry_interval_ms"`
	ConnectTimeoutSec int    `json:"connect_timeout_sec"`
}

// PortsConfig holds port allocation settings.
type PortsConfig struct {
	AllocationAttempts int `json:"allocation_attempts"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	ClientID  string `json:"client_id"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

// DatabaseConfig holds the match history store settings.
type DatabaseConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`

	// RetentionDays of 0 keeps every match.
	RetentionDays int    `json:"retention_days"`
	CleanupTime   string `json:"cleanup_time"`
}

// APIConfig holds the status API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Address        string   `json:"address"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// HealthConfig holds engine process sampling settings.
type HealthConfig struct {
	Enabled           bool `json:"enabled"`
	SampleIntervalSec int  `json:"sample_interval_sec"`
	MemoryWarnMB      int  `json:"memory_warn_mb"`
	CPUWarnPercent    int  `json:"cpu_warn_percent"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Match: MatchData{
			StepCount: DefaultStepCount,
			Players: []PlayerConfig{
				{Type: PlayerBot, Name: "pycraft2", Race: "random"},
				{Type: PlayerComputer, Race: "random", Difficulty: "medium", Build: "random"},
			},
		},
		ApplicationData: ApplicationData{
			Engine: EngineConfig{
				WarmupMS:          2000,
				RetryIntervalMS:   1000,
				ConnectTimeoutSec: 100,
			},
			Ports: PortsConfig{
				AllocationAttempts: 3,
			},
			MQTT: MQTTConfig{
				BrokerURL: "localhost",
				Port:      1883,
			},
			Database: DatabaseConfig{
				Enabled:       true,
				Path:          filepath.Join("data", "pycraft2.db"),
				RetentionDays: 90,
				CleanupTime:   "04:00",
			},
			API: APIConfig{
				Address: "127.0.0.1",
				Port:    DefaultAPIPort,
			},
			Health: HealthConfig{
				Enabled:           true,
				SampleIntervalSec: 10,
				MemoryWarnMB:      4096,
				CPUWarnPercent:    90,
			},
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxBackups: 5,
				Console:    true,
			},
		},
	}
}

// Load reads configuration from a JSON file.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	// A declared player list replaces the default one instead of merging
	// with it element by element.
	defaultPlayers := cfg.Match.Players
	cfg.Match.Players = nil
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}
	if cfg.Match.Players == nil {
		cfg.Match.Players = defaultPlayers
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save so the file picks up fields added since it was written.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetMatch returns a copy of the match configuration.
func (c *Config) GetMatch() MatchData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m := c.Match
	m.Players = append([]PlayerConfig(nil), c.Match.Players...)
	return m
}

// SetMatch updates the match configuration.
func (c *Config) SetMatch(data MatchData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Match = data
}

// GetApplicationData returns a copy of the application data configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// SetApplicationData updates the application data configuration.
func (c *Config) SetApplicationData(data ApplicationData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ApplicationData = data
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// NeedsEngine reports whether no engine location has been configured yet.
func (c *Config) NeedsEngine() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e := c.ApplicationData.Engine
	return e.Executable == "" && e.InstallDirectory == ""
}
