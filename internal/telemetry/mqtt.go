// Package telemetry publishes session and match events to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/jrtknauer/pycraft2/internal/config"
	"github.com/jrtknauer/pycraft2/internal/events"
	"github.com/jrtknauer/pycraft2/internal/util"
)

// MQTT topics
const (
	TopicMatchPhase    = "pycraft2/match/phase"
	TopicMatchResult   = "pycraft2/match/result"
	TopicMatchAborted  = "pycraft2/match/aborted"
	TopicSessionStatus = "pycraft2/session/status"
	TopicSessionIssue  = "pycraft2/session/anomaly"
	TopicProcessStats  = "pycraft2/process/stats"
	TopicRunner        = "pycraft2/runner"
)

// Version is stamped into every published message.
var Version = "dev"

// MQTTHandler forwards events from the bus to the broker as JSON messages.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client
	logger   zerolog.Logger

	// send is the publishing primitive; it goes through client unless
	// replaced.
	send func(topic string, data []byte) error

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a new MQTT telemetry handler.
func NewMQTTHandler(cfg config.MQTTConfig, eventBus *events.EventBus) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	handler := newHandler(cfg, eventBus, sysInfo)

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port))

	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("pycraft2-%s", sysInfo.Hostname))
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(mqtt.Client) {
		handler.logger.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		handler.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)
	handler.send = handler.publishMQTT

	return handler, nil
}

func newHandler(cfg config.MQTTConfig, eventBus *events.EventBus, sysInfo util.SystemInfo) *MQTTHandler {
	return &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		logger:   util.ComponentLogger("telemetry"),
		metadata: map[string]interface{}{
			"hostname":    sysInfo.Hostname,
			"platform":    sysInfo.Platform,
			"cpu_model":   sysInfo.CPUModel,
			"cpu_cores":   sysInfo.CPUCores,
			"memory_mb":   sysInfo.TotalMemory,
			"app_version": Version,
		},
	}
}

// Start connects to the broker, subscribes to the bus and blocks until ctx
// is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()
	defer h.unsubscribeEvents()

	<-ctx.Done()

	h.PublishShutdown()
	h.client.Disconnect(5000)
	h.logger.Info().Msg("MQTT disconnected")

	return nil
}

var subscriptions = []struct {
	event events.EventType
	name  string
	topic string
}{
	{events.EventMatchPhase, "mqtt.matchPhase", TopicMatchPhase},
	{events.EventMatchEnded, "mqtt.matchEnded", TopicMatchResult},
	{events.EventMatchAborted, "mqtt.matchAborted", TopicMatchAborted},
	{events.EventSessionStatus, "mqtt.sessionStatus", TopicSessionStatus},
	{events.EventStatusMismatch, "mqtt.statusMismatch", TopicSessionIssue},
	{events.EventProcessStats, "mqtt.processStats", TopicProcessStats},
}

func (h *MQTTHandler) subscribeEvents() {
	for _, sub := range subscriptions {
		topic := sub.topic
		h.eventBus.Subscribe(sub.event, sub.name, func(_ context.Context, event events.Event) error {
			return h.publish(topic, event)
		})
	}
}

func (h *MQTTHandler) unsubscribeEvents() {
	for _, sub := range subscriptions {
		h.eventBus.Unsubscribe(sub.event, sub.name)
	}
}

// publish sends a JSON message to an MQTT topic.
func (h *MQTTHandler) publish(topic string, event events.Event) error {
	data, err := json.Marshal(h.buildMessage(event))
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return err
	}
	return h.send(topic, data)
}

func (h *MQTTHandler) publishMQTT(topic string, data []byte) error {
	if !h.client.IsConnected() {
		return nil
	}

	token := h.client.Publish(topic, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			h.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
	return nil
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(event events.Event) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+4)
	for k, v := range h.metadata {
		msg[k] = v
	}

	msg["event"] = event.Type
	msg["source"] = event.Source
	msg["payload"] = event.Payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	return msg
}

// PublishShutdown announces that the runner is going away.
func (h *MQTTHandler) PublishShutdown() {
	if err := h.publish(TopicRunner, events.Event{Type: events.EventShutdown, Source: "telemetry"}); err != nil {
		h.logger.Warn().Err(err).Msg("failed to publish shutdown")
	}
}
