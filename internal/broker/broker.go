// internal/broker/broker.go

// Package broker implements the event channel: a durable, named queue with
// at-least-once delivery. AMQP is the production transport; Channel is an
// in-process queue with the same contract.
package broker

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable means the broker could not be reached or refused a message.
	ErrUnavailable = errors.New("broker unavailable")
	// ErrChannelClosed means an open subscription lost its connection.
	ErrChannelClosed = errors.New("broker channel closed")
)

// Publisher sends one message to the queue it was built for.
type Publisher interface {
	Publish(ctx context.Context, body []byte) error
}

// Subscriber opens consuming subscriptions on a queue.
type Subscriber interface {
	Subscribe(ctx context.Context) (Subscription, error)
}

// Subscription delivers message bodies in queue order. Messages are
// acknowledged on delivery. The channel returned by Deliveries is closed when
// the subscription ends, either through Close or a lost connection.
type Subscription interface {
	Deliveries() <-chan []byte
	Close() error
}
