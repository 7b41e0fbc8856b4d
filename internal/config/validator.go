package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/jrtknauer/pycraft2/internal/protocol"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	m := cfg.GetMatch()
	app := cfg.GetApplicationData()
	validateMatch(&m, result)
	validateApplicationData(&app, result)

	return result
}

func validateMatch(data *MatchData, result *ValidationResult) {
	if strings.TrimSpace(data.MapPath) == "" {
		result.AddError("match.map_path", "map path is required")
	} else if _, err := os.Stat(data.MapPath); os.IsNotExist(err) {
		result.AddError("match.map_path", fmt.Sprintf("map file does not exist: %s", data.MapPath))
	}

	if data.StepCount == 0 {
		result.AddError("match.step_count", "step count must be at least 1")
	}

	if data.StartPort != 0 {
		validatePort(data.StartPort, "match.start_port", result)
		if data.StartPort+5 > 65535 {
			result.AddError("match.start_port", "start port leaves no room for the match port range")
		}
	}

	if len(data.Players) == 0 {
		result.AddError("match.players", "at least one player is required")
		return
	}

	bots := 0
	for i, p := range data.Players {
		field := fmt.Sprintf("match.players[%d]", i)
		if _, ok := protocol.ParseRace(p.Race); !ok || strings.EqualFold(p.Race, "none") {
			result.AddError(field+".race", fmt.Sprintf("unknown race %q", p.Race))
		}

		switch strings.ToLower(p.Type) {
		case PlayerBot:
			bots++
			if p.Client != nil && p.Client.Port != 0 {
				validatePort(p.Client.Port, field+".client.port", result)
			}
		case PlayerComputer:
			if p.Difficulty != "" {
				if _, ok := protocol.ParseDifficulty(p.Difficulty); !ok {
					result.AddError(field+".difficulty", fmt.Sprintf("unknown difficulty %q", p.Difficulty))
				}
			}
			if p.Build != "" {
				if _, ok := protocol.ParseAIBuild(p.Build); !ok {
					result.AddError(field+".build", fmt.Sprintf("unknown build %q", p.Build))
				}
			}
		default:
			result.AddError(field+".type", fmt.Sprintf("player type must be %q or %q", PlayerBot, PlayerComputer))
		}
	}

	if bots == 0 {
		result.AddError("match.players", "at least one bot is required")
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	engine := data.Engine
	if engine.Executable == "" && engine.InstallDirectory == "" {
		result.AddError("application_data.engine", "either executable or install_directory is required")
	} else if engine.InstallDirectory != "" {
		if _, err := os.Stat(engine.InstallDirectory); os.IsNotExist(err) {
			result.AddWarning("application_data.engine.install_directory",
				fmt.Sprintf("directory does not exist: %s", engine.InstallDirectory))
		}
	}
	if engine.RetryIntervalMS < 1 {
		result.AddError("application_data.engine.retry_interval_ms", "retry interval must be positive")
	}
	if engine.ConnectTimeoutSec < 1 {
		result.AddError("application_data.engine.connect_timeout_sec", "connect timeout must be positive")
	}
	if engine.WarmupMS < 500 {
		result.AddWarning("application_data.engine.warmup_ms",
			"warm-up under 500ms may race the engine's startup")
	}

	if data.Ports.AllocationAttempts < 1 {
		result.AddError("application_data.ports.allocation_attempts", "must allow at least 1 attempt")
	}

	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
	}

	if data.Database.Enabled && strings.TrimSpace(data.Database.Path) == "" {
		result.AddError("application_data.database.path", "database path is required when enabled")
	}
	if data.Database.RetentionDays < 0 {
		result.AddError("application_data.database.retention_days", "retention days cannot be negative")
	}

	if data.API.Enabled {
		validatePort(data.API.Port, "application_data.api.port", result)
	}

	if data.Health.Enabled && data.Health.SampleIntervalSec < 1 {
		result.AddError("application_data.health.sample_interval_sec", "sample interval must be positive")
	}

	switch strings.ToLower(data.Logging.Level) {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		result.AddWarning("application_data.logging.level",
			fmt.Sprintf("unknown log level %q, falling back to info", data.Logging.Level))
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}
