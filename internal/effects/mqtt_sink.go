package effects

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tphakala/idconsensus/internal/conf"
	"github.com/tphakala/idconsensus/internal/errors"
	"github.com/tphakala/idconsensus/internal/logger"
)

const (
	mqttConnectTimeout = 30 * time.Second
	mqttPublishTimeout = 10 * time.Second
	defaultTopicPrefix = "idconsensus/effects"
)

// MQTTPublisher is the part of mqtt.Client used by MQTTSink.
type MQTTPublisher interface {
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
	IsConnected() bool
}

// MQTTSink publishes envelopes to <prefix>/<kind>.
type MQTTSink struct {
	client MQTTPublisher
	prefix string
	qos    byte
	log    logger.Logger
}

// NewMQTTSink wraps an existing client.
func NewMQTTSink(client MQTTPublisher, topicPrefix string, qos byte, log logger.Logger) *MQTTSink {
	if topicPrefix == "" {
		topicPrefix = defaultTopicPrefix
	}
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &MQTTSink{
		client: client,
		prefix: strings.TrimSuffix(topicPrefix, "/"),
		qos:    qos,
		log:    log.Module("effects").Module("mqtt"),
	}
}

// DialMQTT connects to the broker and returns a sink.
func DialMQTT(ctx context.Context, settings conf.MQTTSettings, log logger.Logger) (*MQTTSink, mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(settings.Broker)
	clientID := settings.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("idconsensus-%d", time.Now().UnixNano())
	}
	opts.SetClientID(clientID)
	opts.SetUsername(settings.Username)
	opts.SetPassword(settings.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(mqttConnectTimeout)

	client := mqtt.NewClient(opts)
	token := client.Connect()

	deadline := mqttConnectTimeout
	if dl, ok := ctx.Deadline(); ok {
		deadline = time.Until(dl)
	}
	if !token.WaitTimeout(deadline) {
		client.Disconnect(0)
		return nil, nil, brokerError(fmt.Errorf("connection timeout after %v", deadline), "connect",
			logger.RedactSensitiveData(settings.Broker))
	}
	if err := token.Error(); err != nil {
		return nil, nil, brokerError(err, "connect", logger.RedactSensitiveData(settings.Broker))
	}

	sink := NewMQTTSink(client, settings.TopicPrefix, settings.QoS, log)
	sink.log.Info("connected to MQTT broker",
		logger.String("broker", logger.RedactSensitiveData(settings.Broker)),
		logger.String("client_id", clientID))
	return sink, client, nil
}

func (s *MQTTSink) Name() string { return "mqtt" }

// Topic returns the topic an envelope of kind is published to.
func (s *MQTTSink) Topic(kind Kind) string {
	return s.prefix + "/" + string(kind)
}

func (s *MQTTSink) Deliver(ctx context.Context, env Envelope) error {
	if !s.client.IsConnected() {
		return errors.Newf("mqtt client not connected").
			Component("effects").
			Category(errors.CategoryBroker).
			Build()
	}
	data, err := marshalEnvelope(env)
	if err != nil {
		return err
	}

	timeout := mqttPublishTimeout
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < timeout {
		timeout = time.Until(dl)
	}
	token := s.client.Publish(s.Topic(env.Kind), s.qos, false, data)
	if !token.WaitTimeout(timeout) {
		return brokerError(fmt.Errorf("publish timeout after %v", timeout), "publish", s.Topic(env.Kind))
	}
	if err := token.Error(); err != nil {
		return brokerError(err, "publish", s.Topic(env.Kind))
	}
	return nil
}
