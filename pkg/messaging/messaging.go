package messaging

import "context"

// MessageHandler processes one inbound message. subject is the NATS subject
// or MQTT topic the payload arrived on.
type MessageHandler func(ctx context.Context, subject string, payload []byte) error
