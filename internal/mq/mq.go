// Package mq provides a broker-agnostic queue used to hand mail jobs from
// the API process to the delivery worker.
package mq

import (
	"context"
	"fmt"

	"github.com/gotours/apiserver/config"
)

// Message is a broker-agnostic payload delivered to subscribers.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes a message. Returning an error nacks it for redelivery.
type Handler func(ctx context.Context, msg Message) error

// Backend defines the broker operations the app uses.
type Backend interface {
	Publish(ctx context.Context, queue string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, queue string, handler Handler) error
	Close() error
}

// Open constructs the backend selected by configuration.
func Open(ctx context.Context, cfg config.Config) (Backend, error) {
	switch cfg.Mail.Broker {
	case "rabbitmq":
		return NewRabbitMQBackend(cfg.RabbitMQ)
	case "pubsub":
		return NewPubSubBackend(ctx, cfg.PubSub)
	default:
		return nil, fmt.Errorf("unknown mail broker %q", cfg.Mail.Broker)
	}
}
