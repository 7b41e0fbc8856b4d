package cli

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jrtknauer/pycraft2/internal/api"
	"github.com/jrtknauer/pycraft2/internal/config"
	"github.com/jrtknauer/pycraft2/internal/db"
	"github.com/jrtknauer/pycraft2/internal/events"
	"github.com/jrtknauer/pycraft2/internal/health"
	"github.com/jrtknauer/pycraft2/internal/scheduler"
	"github.com/jrtknauer/pycraft2/internal/telemetry"
)

// services are the optional components that observe a run, such as the
// history store and the status API.
type services struct {
	bus    *events.EventBus
	store  *db.MatchStore
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// startServices attaches everything the configuration enables to bus.
// Failures of optional components are logged and skipped. sessions may be
// nil when the runner launches no engine processes.
func startServices(ctx context.Context, app config.ApplicationData, bus *events.EventBus, source api.SessionSource, sessions health.SessionLister) *services {
	sctx, cancel := context.WithCancel(ctx)
	svc := &services{bus: bus, cancel: cancel}

	if app.Database.Enabled {
		store, err := db.NewMatchStore(app.Database.Path)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open match history, history disabled")
		} else {
			store.Subscribe(svc.bus)
			svc.store = store

			if app.Database.RetentionDays > 0 {
				sched := scheduler.NewScheduler(app.Database, store)
				svc.goRun("history retention", func() error {
					sched.Start(sctx)
					return nil
				})
			}
		}
	}

	if app.MQTT.Enabled {
		mqttHandler, err := telemetry.NewMQTTHandler(app.MQTT, svc.bus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		} else {
			svc.goRun("MQTT telemetry", func() error { return mqttHandler.Start(sctx) })
		}
	}

	if app.API.Enabled {
		var history api.MatchHistory
		if svc.store != nil {
			history = svc.store
		}
		apiServer := api.NewServer(app.API, app.Logging.Level == "debug", source, history)
		svc.goRun("status API", func() error { return apiServer.Start(sctx) })
	}

	if app.Health.Enabled && sessions != nil {
		monitor := health.NewMonitor(app.Health, svc.bus, sessions)
		svc.goRun("process monitor", func() error {
			monitor.Start(sctx)
			return nil
		})
	}

	return svc
}

func (s *services) goRun(name string, fn func() error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Info().Str("service", name).Msg("starting service")
		if err := fn(); err != nil {
			log.Warn().Err(err).Str("service", name).Msg("service failed (non-fatal)")
		}
	}()
}

// stop shuts every service down. Events still in flight are delivered
// before the history store closes.
func (s *services) stop() {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		log.Warn().Msg("services did not stop within 15s")
	}

	s.bus.Stop()

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close match history")
		}
	}
}
