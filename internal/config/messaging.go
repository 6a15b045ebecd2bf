package config

import (
	"time"
)

type MessagingConfig struct {
	NATS *NATSConfig `yaml:"nats"`
	MQTT *MQTTConfig `yaml:"mqtt"`
}

type NATSConfig struct {
	Enabled         bool          `yaml:"enabled"`
	URL             string        `yaml:"url"`
	MaxReconnects   int           `yaml:"max_reconnects"`
	ReconnectWait   time.Duration `yaml:"reconnect_wait"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	LocationSubject string        `yaml:"location_subject"`
	OutcomeSubject  string        `yaml:"outcome_subject"`
	QueueGroup      string        `yaml:"queue_group"`
}

type MQTTConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	LocationTopic  string        `yaml:"location_topic"`
	QoS            int           `yaml:"qos"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

func loadMessagingConfig() *MessagingConfig {
	return &MessagingConfig{
		NATS: &NATSConfig{
			Enabled:         getEnvAsBool("NATS_ENABLED", false),
			URL:             getEnv("NATS_URL", "nats://localhost:4222"),
			MaxReconnects:   getEnvAsInt("NATS_MAX_RECONNECTS", 10),
			ReconnectWait:   getEnvAsDuration("NATS_RECONNECT_WAIT", 2*time.Second),
			ConnectTimeout:  getEnvAsDuration("NATS_CONNECT_TIMEOUT", 5*time.Second),
			LocationSubject: getEnv("NATS_LOCATION_SUBJECT", "geoengage.locations"),
			OutcomeSubject:  getEnv("NATS_OUTCOME_SUBJECT", "geoengage.outcomes"),
			QueueGroup:      getEnv("NATS_QUEUE_GROUP", "geoengage"),
		},
		MQTT: &MQTTConfig{
			Enabled:        getEnvAsBool("MQTT_ENABLED", false),
			Broker:         getEnv("MQTT_BROKER", "tcp://localhost:1883"),
			ClientID:       getEnv("MQTT_CLIENT_ID", "geoengage"),
			Username:       getEnv("MQTT_USERNAME", ""),
			Password:       getEnv("MQTT_PASSWORD", ""),
			LocationTopic:  getEnv("MQTT_LOCATION_TOPIC", "devices/+/location"),
			QoS:            getEnvAsInt("MQTT_QOS", 1),
			ConnectTimeout: getEnvAsDuration("MQTT_CONNECT_TIMEOUT", 10*time.Second),
		},
	}
}
