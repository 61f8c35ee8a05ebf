package publish

import (
	"context"
	"strings"
	"time"

	"codeberg.org/mutker/anglepub/internal/errors"
	"codeberg.org/mutker/anglepub/internal/logger"
	"codeberg.org/mutker/anglepub/internal/sample"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 2 * time.Second
	disconnectQuiesceMs   = 250
)

// MQTTConfig configures the MQTT forwarding sink.
type MQTTConfig struct {
	Broker         string
	Topic          string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	Retained       bool
	FrameID        string
	ConnectTimeout time.Duration
}

type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink publishes samples to an MQTT broker. With Retained set the broker
// keeps the last sample and hands it to late subscribers, mirroring the
// latched delivery of the local Broker.
type MQTTSink struct {
	client mqtt.Client
	pub    mqttPublisher
	cfg    MQTTConfig
	log    logger.Logger
}

// MQTTTopic turns a slash-rooted topic name into an MQTT topic.
func MQTTTopic(topic string) string {
	return strings.TrimPrefix(topic, "/")
}

// NewMQTTSink creates the client; call Connect before forwarding.
func NewMQTTSink(cfg MQTTConfig, log logger.Logger) *MQTTSink {
	if cfg.ClientID == "" {
		cfg.ClientID = "anglepub-" + uuid.NewString()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	cfg.Topic = MQTTTopic(cfg.Topic)

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.ConnectTimeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.Broker).Msg("MQTT connection lost")
	})
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Str("topic", cfg.Topic).Msg("MQTT connected")
	})

	client := mqtt.NewClient(opts)

	return &MQTTSink{client: client, pub: client, cfg: cfg, log: log}
}

// Connect blocks until the broker accepts the connection or the timeout
// expires.
func (m *MQTTSink) Connect() error {
	errFactory := errors.New()

	token := m.client.Connect()
	if !token.WaitTimeout(m.cfg.ConnectTimeout) {
		return errFactory.WithData(errors.ErrTimeout, "mqtt connect "+m.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return errFactory.Wrap(errors.ErrSinkConnect, err).WithData(m.cfg.Broker)
	}

	return nil
}

// Send publishes one sample.
func (m *MQTTSink) Send(ctx context.Context, s sample.Sample) error {
	errFactory := errors.New()

	payload, err := sample.Encode(s, m.cfg.FrameID)
	if err != nil {
		return errFactory.Wrap(errors.ErrSinkSend, err)
	}

	token := m.pub.Publish(m.cfg.Topic, m.cfg.QoS, m.cfg.Retained, payload)

	timeout := defaultPublishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !token.WaitTimeout(timeout) {
		return errFactory.WithData(errors.ErrTimeout, "mqtt publish "+m.cfg.Topic)
	}
	if err := token.Error(); err != nil {
		return errFactory.Wrap(errors.ErrSinkSend, err)
	}

	return nil
}

// Close disconnects from the broker.
func (m *MQTTSink) Close() error {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(disconnectQuiesceMs)
	}
	return nil
}
