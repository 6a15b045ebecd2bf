package messaging

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"geoengage/pkg/logger"
)

type MQTTConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	ConnectTimeout time.Duration
	HandlerTimeout time.Duration
}

type MQTTClient struct {
	client         mqtt.Client
	qos            byte
	connectTimeout time.Duration
	handlerTimeout time.Duration
	logger         *logger.Logger
}

func NewMQTTClient(cfg *MQTTConfig, log *logger.Logger) (*MQTTClient, error) {
	log = log.WithField("component", "mqtt")

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.WithError(err).Warn("MQTT connection lost")
		}).
		SetOnConnectHandler(func(_ mqtt.Client) {
			log.Infof("MQTT connected to %s", cfg.Broker)
		})

	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	handlerTimeout := cfg.HandlerTimeout
	if handlerTimeout <= 0 {
		handlerTimeout = 10 * time.Second
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("timed out connecting to MQTT broker %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("unable to connect to MQTT broker: %w", err)
	}

	return &MQTTClient{
		client:         client,
		qos:            cfg.QoS,
		connectTimeout: connectTimeout,
		handlerTimeout: handlerTimeout,
		logger:         log,
	}, nil
}

func (c *MQTTClient) Subscribe(topic string, handler MessageHandler) error {
	token := c.client.Subscribe(topic, c.qos, func(_ mqtt.Client, msg mqtt.Message) {
		ctx, cancel := context.WithTimeout(context.Background(), c.handlerTimeout)
		defer cancel()

		if err := handler(ctx, msg.Topic(), msg.Payload()); err != nil {
			c.logger.WithField("topic", msg.Topic()).WithError(err).Warn("Failed to handle MQTT message")
		}
	})
	if !token.WaitTimeout(c.connectTimeout) {
		return fmt.Errorf("timed out subscribing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	return nil
}

func (c *MQTTClient) Close() {
	c.client.Disconnect(250)
}
