// Package telemetry mirrors relay events to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/slopcrew-project/slopcrew/internal/config"
	"github.com/slopcrew-project/slopcrew/internal/events"
	"github.com/slopcrew-project/slopcrew/internal/util"
)

// Topic suffixes under the configured prefix.
const (
	TopicPlayers    = "players"
	TopicEncounters = "encounters"
	TopicRaces      = "races"
	TopicPopulation = "population"
	TopicStatus     = "status"
	TopicAlerts     = "alerts"
	TopicLag        = "lag"
)

// topicFor maps each mirrored event to its topic suffix.
var topicFor = map[events.EventType]string{
	events.EventPlayerJoined:     TopicPlayers,
	events.EventPlayerLeft:       TopicPlayers,
	events.EventPlayerKicked:     TopicPlayers,
	events.EventEncounterStarted: TopicEncounters,
	events.EventRaceRanked:       TopicRaces,
	events.EventPopulation:       TopicPopulation,
	events.EventHeartbeat:        TopicStatus,
	events.EventHealthAlert:      TopicAlerts,
	events.EventLongTick:         TopicLag,
	events.EventShutdown:         TopicStatus,
}

// MQTTHandler manages the MQTT connection and publishes telemetry events.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client
	logger   zerolog.Logger

	// send delivers one encoded message; replaced in tests.
	send func(topic string, retained bool, data []byte)
	now  func() time.Time

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a new MQTT telemetry handler.
func NewMQTTHandler(cfg config.MQTTConfig, eventBus *events.EventBus) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}
	if cfg.Topic == "" {
		cfg.Topic = "slopcrew"
	}

	sysInfo := util.GetSystemInfo()
	h := &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		logger:   util.ComponentLogger("mqtt"),
		now:      time.Now,
		metadata: map[string]interface{}{
			"hostname": sysInfo.Hostname,
			"os":       sysInfo.OS,
		},
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerAddress(cfg))

	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("slopcrew-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)

	if cfg.UseTLS {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}

		// mTLS: load client certificate
		if cfg.CertFile != "" && cfg.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}

		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		h.logger.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		h.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	h.client = mqtt.NewClient(opts)
	h.send = h.clientSend
	return h, nil
}

// brokerAddress builds the broker URL. A URL that already names a scheme
// is used as is.
func brokerAddress(cfg config.MQTTConfig) string {
	if strings.Contains(cfg.BrokerURL, "://") {
		return cfg.BrokerURL
	}
	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port)
}

// Start connects to the MQTT broker, mirrors events until ctx is
// cancelled, then disconnects.
func (h *MQTTHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("broker", brokerAddress(h.cfg)).
		Str("topic_prefix", h.cfg.Topic).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()

	<-ctx.Done()

	h.PublishShutdown()
	h.client.Disconnect(5000)
	h.logger.Info().Msg("MQTT disconnected")
	return nil
}

// subscribeEvents registers event handlers for MQTT publishing.
func (h *MQTTHandler) subscribeEvents() {
	for eventType := range topicFor {
		if eventType == events.EventShutdown {
			continue
		}
		h.eventBus.Subscribe(eventType, "mqtt."+string(eventType), h.onEvent)
	}
}

func (h *MQTTHandler) onEvent(_ context.Context, event events.Event) error {
	h.publish(event.Type, event.Payload)
	return nil
}

// Topic returns the full topic an event type is published on.
func (h *MQTTHandler) Topic(eventType events.EventType) string {
	suffix, ok := topicFor[eventType]
	if !ok {
		suffix = TopicStatus
	}
	return h.cfg.Topic + "/" + suffix
}

// publish encodes an event and hands it to the broker.
func (h *MQTTHandler) publish(eventType events.EventType, payload interface{}) {
	topic := h.Topic(eventType)
	data, err := json.Marshal(h.buildMessage(eventType, payload))
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}
	// The latest status message is retained for late subscribers.
	h.send(topic, topicFor[eventType] == TopicStatus, data)
}

func (h *MQTTHandler) clientSend(topic string, retained bool, data []byte) {
	if !h.client.IsConnected() {
		return
	}
	token := h.client.Publish(topic, 1, retained, data) // QoS 1
	go func() {
		token.Wait()
		if token.Error() != nil {
			h.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(eventType events.EventType, payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+3)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["event"] = string(eventType)
	msg["payload"] = payload
	msg["timestamp"] = h.now().UTC().Format(time.RFC3339)
	return msg
}

// PublishShutdown sends a shutdown message to the broker.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(events.EventShutdown, map[string]interface{}{"status": "offline"})
}
