package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"geoengage/pkg/logger"
)

type NATSConfig struct {
	URL            string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
	HandlerTimeout time.Duration
}

type NATSClient struct {
	conn           *nats.Conn
	subscriptions  []*nats.Subscription
	handlerTimeout time.Duration
	logger         *logger.Logger
}

func NewNATSClient(cfg *NATSConfig, log *logger.Logger) (*NATSClient, error) {
	log = log.WithField("component", "nats")

	options := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.WithError(err).Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to NATS: %w", err)
	}

	timeout := cfg.HandlerTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &NATSClient{
		conn:           nc,
		handlerTimeout: timeout,
		logger:         log,
	}, nil
}

// QueueSubscribe delivers each message on subject to exactly one member of
// queue.
func (c *NATSClient) QueueSubscribe(subject, queue string, handler MessageHandler) error {
	sub, err := c.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), c.handlerTimeout)
		defer cancel()

		if err := handler(ctx, msg.Subject, msg.Data); err != nil {
			c.logger.WithField("subject", msg.Subject).WithError(err).Warn("Failed to handle NATS message")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	c.subscriptions = append(c.subscriptions, sub)
	return nil
}

func (c *NATSClient) Publish(subject string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal message for %s: %w", subject, err)
	}
	return c.conn.Publish(subject, data)
}

// Close drains the subscriptions and closes the connection.
func (c *NATSClient) Close() error {
	return c.conn.Drain()
}
