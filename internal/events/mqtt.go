package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

var ErrPublishTimeout = errors.New("publish timed out")

// MQTTPublisher publishes events with QoS 1. Subject dots become topic levels.
type MQTTPublisher struct {
	client  mqtt.Client
	timeout time.Duration
	log     *logrus.Entry
}

// NewMQTTPublisher connects to cfg.MQTTBroker.
func NewMQTTPublisher(cfg Config, logger *logrus.Logger) (*MQTTPublisher, error) {
	if cfg.MQTTBroker == "" {
		return nil, errors.New("MQTT_BROKER is required for the mqtt driver")
	}
	entry := logger.WithFields(logrus.Fields{"component": "events", "driver": DriverMQTT})

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.Timeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			entry.WithError(err).Warn("MQTT connection lost")
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			entry.Info("Connected to MQTT broker")
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("connect to MQTT broker: %w", ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to MQTT broker: %w", err)
	}
	return &MQTTPublisher{client: client, timeout: cfg.Timeout, log: entry}, nil
}

func (p *MQTTPublisher) Publish(ctx context.Context, subject string, payload []byte) error {
	token := p.client.Publish(mqttTopic(subject), 1, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.timeout):
		return ErrPublishTimeout
	}
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}

func mqttTopic(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}
