package events

import (
	"context"
	"errors"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

const defaultKafkaTopic = "fleet-tracking-events"

// KafkaPublisher writes every event to one topic, keyed by subject so the
// events of a device stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
	log    *logrus.Entry
}

// NewKafkaPublisher creates a writer for cfg.KafkaBrokers. Connections are
// opened lazily on the first write.
func NewKafkaPublisher(cfg Config, logger *logrus.Logger) (*KafkaPublisher, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required for the kafka driver")
	}
	topic := cfg.KafkaTopic
	if topic == "" {
		topic = defaultKafkaTopic
	}
	entry := logger.WithFields(logrus.Fields{"component": "events", "driver": DriverKafka, "topic": topic})

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: cfg.Timeout,
		ErrorLogger:  kafka.LoggerFunc(entry.Errorf),
	}
	return &KafkaPublisher{writer: writer, log: entry}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, subject string, payload []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(subject),
		Value:   payload,
		Headers: []kafka.Header{{Key: "subject", Value: []byte(subject)}},
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
