// Package health samples the resource usage of the engine processes a
// match runs and warns when a client grows past its configured limits.
package health

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/jrtknauer/pycraft2/internal/config"
	"github.com/jrtknauer/pycraft2/internal/events"
	"github.com/jrtknauer/pycraft2/internal/server"
	"github.com/jrtknauer/pycraft2/internal/util"
)

// SessionLister exposes the sessions whose processes are sampled.
type SessionLister interface {
	Sessions() []*server.Session
}

// ResourceReporter is implemented by engine processes that can report
// their own usage.
type ResourceReporter interface {
	IsRunning() bool
	GetCPUPercent() (float64, error)
	GetMemoryMB() (float64, error)
}

// Monitor periodically samples every running engine process.
type Monitor struct {
	cfg      config.HealthConfig
	eventBus *events.EventBus
	sessions SessionLister
	logger   zerolog.Logger
}

// NewMonitor creates a monitor over the sessions of sessions.
func NewMonitor(cfg config.HealthConfig, eventBus *events.EventBus, sessions SessionLister) *Monitor {
	return &Monitor{
		cfg:      cfg,
		eventBus: eventBus,
		sessions: sessions,
		logger:   util.ComponentLogger("health"),
	}
}

// Start samples on every tick until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	if m.cfg.SampleIntervalSec <= 0 {
		return
	}

	ticker := time.NewTicker(time.Duration(m.cfg.SampleIntervalSec) * time.Second)
	defer ticker.Stop()

	m.logger.Info().Int("interval_sec", m.cfg.SampleIntervalSec).Msg("process monitor started")

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("process monitor stopped")
			return
		case <-ticker.C:
			m.Sample(ctx)
		}
	}
}

// Sample takes one reading of every running engine process and returns
// the readings.
func (m *Monitor) Sample(ctx context.Context) []events.ProcessStatsPayload {
	var samples []events.ProcessStatsPayload

	for _, s := range m.sessions.Sessions() {
		proc, ok := s.Process().(ResourceReporter)
		if !ok || !proc.IsRunning() {
			continue
		}

		bot := s.Bot()
		logger := m.logger.With().Str("player", bot.Name).Int("port", bot.Client.Port).Logger()

		cpu, err := proc.GetCPUPercent()
		if err != nil {
			logger.Debug().Err(err).Msg("cpu sample failed")
			continue
		}
		memMB, err := proc.GetMemoryMB()
		if err != nil {
			logger.Debug().Err(err).Msg("memory sample failed")
			continue
		}

		sample := events.ProcessStatsPayload{
			Player:     bot.Name,
			PID:        s.Process().PID(),
			CPUPercent: cpu,
			MemoryMB:   memMB,
		}
		samples = append(samples, sample)

		logger.Debug().
			Float64("cpu_percent", cpu).
			Float64("memory_mb", memMB).
			Msg("engine process sample")

		if m.cfg.CPUWarnPercent > 0 && cpu >= float64(m.cfg.CPUWarnPercent) {
			logger.Warn().Float64("cpu_percent", cpu).Msg("engine process CPU usage is high")
		}
		if m.cfg.MemoryWarnMB > 0 && memMB >= float64(m.cfg.MemoryWarnMB) {
			logger.Warn().Float64("memory_mb", memMB).Msg("engine process memory usage is high")
		}

		m.eventBus.Emit(ctx, events.Event{
			Type:    events.EventProcessStats,
			Source:  "health",
			Payload: sample,
		})
	}

	return samples
}
