package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// NATSPublisher publishes core NATS messages. It reconnects forever.
type NATSPublisher struct {
	conn *nats.Conn
	log  *logrus.Entry
}

// NewNATSPublisher connects to cfg.NATSURL.
func NewNATSPublisher(cfg Config, logger *logrus.Logger) (*NATSPublisher, error) {
	if cfg.NATSURL == "" {
		return nil, errors.New("NATS_URL is required for the nats driver")
	}
	entry := logger.WithFields(logrus.Fields{"component": "events", "driver": DriverNATS})

	conn, err := nats.Connect(cfg.NATSURL,
		nats.Name(cfg.ClientID),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			entry.WithError(err).Warn("Disconnected from NATS")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			entry.WithField("url", nc.ConnectedUrl()).Info("Reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	entry.WithField("url", conn.ConnectedUrl()).Info("Connected to NATS")
	return &NATSPublisher{conn: conn, log: entry}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, subject string, payload []byte) error {
	if err := p.conn.Publish(subject, payload); err != nil {
		return err
	}
	return p.conn.FlushWithContext(ctx)
}

func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
