// Package events fans tracking events out to a message broker.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Drivers accepted by New.
const (
	DriverNone  = "none"
	DriverMQTT  = "mqtt"
	DriverNATS  = "nats"
	DriverKafka = "kafka"
)

var ErrUnknownDriver = errors.New("unknown events driver")

// Publisher delivers a payload on a dot-separated subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte) error
	Close() error
}

// Config selects and configures the broker.
type Config struct {
	Driver       string
	MQTTBroker   string
	NATSURL      string
	KafkaBrokers []string
	KafkaTopic   string
	ClientID     string
	Timeout      time.Duration
}

// New connects the publisher selected by cfg.Driver. An empty driver is
// treated as DriverNone.
func New(cfg Config, logger *logrus.Logger) (Publisher, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "fleet-tracking"
	}

	switch strings.ToLower(cfg.Driver) {
	case "", DriverNone:
		return Nop{}, nil
	case DriverMQTT:
		return NewMQTTPublisher(cfg, logger)
	case DriverNATS:
		return NewNATSPublisher(cfg, logger)
	case DriverKafka:
		return NewKafkaPublisher(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, []byte) error { return nil }
func (Nop) Close() error                                  { return nil }

// AlertSubject is the subject alerts of a device are published on.
func AlertSubject(deviceID string) string {
	return "tracking.alerts." + subjectToken(deviceID)
}

// CommandSubject is the subject command outcomes of a device are published on.
func CommandSubject(imei string) string {
	return "tracking.commands." + subjectToken(imei)
}

// subjectToken keeps an id from introducing extra subject levels or wildcards.
func subjectToken(id string) string {
	if id == "" {
		return "unknown"
	}
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", "/", "_", "+", "_", "#", "_", " ", "_").Replace(id)
}

// PublishJSON marshals v and publishes it on subject.
func PublishJSON(ctx context.Context, p Publisher, subject string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
