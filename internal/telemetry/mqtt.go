// Package telemetry publishes session lifecycle events to an MQTT broker.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"shooter/internal/config"
	"shooter/internal/logging"
	"shooter/internal/server"
)

const (
	publishQoS        = 1
	disconnectQuiesce = 250 // ms
)

// publisher is the part of mqtt.Client used here.
type publisher interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Message is the JSON envelope published for every event.
type Message struct {
	Host      string       `json:"host"`
	Timestamp string       `json:"timestamp"`
	Event     server.Event `json:"event"`
}

// MQTTHandler is a server.Observer publishing each event under
// <topic>/<kind>.
type MQTTHandler struct {
	client mqtt.Client
	pub    publisher
	topic  string
	host   string
	logger zerolog.Logger
}

// NewMQTTHandler configures the client. Connect must be called before
// events are published; until then they are dropped.
func NewMQTTHandler(cfg config.MQTTConfig) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}
	host, _ := os.Hostname()
	logger := logging.Component("telemetry")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "shooter-" + host
	}
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info().Str("broker", cfg.BrokerURL).Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	return &MQTTHandler{
		client: client,
		pub:    client,
		topic:  cfg.Topic,
		host:   host,
		logger: logger,
	}, nil
}

// Connect waits for the broker until ctx is done.
func (h *MQTTHandler) Connect(ctx context.Context) error {
	token := h.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("MQTT connect: %w", ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("MQTT connect failed: %w", err)
	}
	return nil
}

// Close disconnects from the broker.
func (h *MQTTHandler) Close() {
	if h.client != nil && h.client.IsConnected() {
		h.client.Disconnect(disconnectQuiesce)
		h.logger.Info().Msg("MQTT disconnected")
	}
}

// OnEvent publishes e without waiting for the broker's acknowledgement.
func (h *MQTTHandler) OnEvent(e server.Event) {
	if !h.pub.IsConnected() {
		return
	}
	topic := Topic(h.topic, e.Kind)
	data, err := Encode(h.host, e)
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.pub.Publish(topic, publishQoS, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			h.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// Topic is where events of kind are published.
func Topic(base string, kind server.EventKind) string {
	return base + "/" + string(kind)
}

// Encode builds the JSON envelope for e.
func Encode(host string, e server.Event) ([]byte, error) {
	return json.Marshal(Message{
		Host:      host,
		Timestamp: e.Time.UTC().Format(time.RFC3339),
		Event:     e,
	})
}
