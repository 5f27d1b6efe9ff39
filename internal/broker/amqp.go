// internal/broker/amqp.go
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bookstore/internal/obs"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// AMQPConfig configures both sides of the RabbitMQ transport.
type AMQPConfig struct {
	URL     string
	Queue   string
	Retries int           // publish attempts per message
	Timeout time.Duration // upper bound for one Publish call, retries included
}

// AMQPPublisher publishes persistent messages to a durable queue on the
// default exchange and waits for the broker's confirmation. The connection is
// opened lazily, reused across calls and re-dialled after any failure.
type AMQPPublisher struct {
	cfg    AMQPConfig
	tracer trace.Tracer

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPPublisher creates a publisher; no connection is made until the first Publish.
func NewAMQPPublisher(cfg AMQPConfig) *AMQPPublisher {
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &AMQPPublisher{cfg: cfg, tracer: otel.Tracer("bookstore/broker")}
}

// Publish sends body and returns once the broker has confirmed it. Transient
// failures are retried with exponential backoff; when every attempt fails the
// returned error wraps ErrUnavailable.
func (p *AMQPPublisher) Publish(ctx context.Context, body []byte) error {
	ctx, span := p.tracer.Start(ctx, "broker.publish",
		trace.WithAttributes(
			attribute.String("messaging.destination", p.cfg.Queue),
			attribute.Int("messaging.message.body.size", len(body)),
		),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, p.publishOnce(ctx, body)
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(p.cfg.Retries)),
		backoff.WithNotify(func(err error, next time.Duration) {
			obs.Logger.Warn("publish failed, retrying", "queue", p.cfg.Queue, "error", err, "retry_in", next.String())
		}),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		return fmt.Errorf("%w: publish to %s: %v", ErrUnavailable, p.cfg.Queue, err)
	}
	return nil
}

func (p *AMQPPublisher) publishOnce(ctx context.Context, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}

	dc, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", p.cfg.Queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		p.reset()
		return fmt.Errorf("publish: %w", err)
	}

	acked, err := dc.WaitContext(ctx)
	if err != nil {
		p.reset()
		return fmt.Errorf("wait for confirm: %w", err)
	}
	if !acked {
		return errors.New("message nacked by broker")
	}
	return nil
}

// channel returns the open confirm-mode channel, dialling if needed. Callers hold p.mu.
func (p *AMQPPublisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() && p.conn != nil && !p.conn.IsClosed() {
		return p.ch, nil
	}
	p.reset()

	conn, ch, err := openChannel(p.cfg.URL, p.cfg.Queue)
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *AMQPPublisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// Close releases the connection.
func (p *AMQPPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
}

// AMQPSubscriber opens auto-acknowledging consumers on a durable queue.
type AMQPSubscriber struct {
	cfg      AMQPConfig
	prefetch int
}

// NewAMQPSubscriber creates a subscriber for cfg.Queue.
func NewAMQPSubscriber(cfg AMQPConfig) *AMQPSubscriber {
	return &AMQPSubscriber{cfg: cfg, prefetch: 10}
}

// Subscribe dials the broker, declares the queue and registers a consumer.
func (s *AMQPSubscriber) Subscribe(ctx context.Context) (Subscription, error) {
	conn, ch, err := openChannel(s.cfg.URL, s.cfg.Queue)
	if err != nil {
		return nil, err
	}

	if err := ch.Qos(s.prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("%w: set QoS: %v", ErrUnavailable, err)
	}

	msgs, err := ch.ConsumeWithContext(ctx,
		s.cfg.Queue,
		"",    // consumer tag
		true,  // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("%w: register consumer: %v", ErrUnavailable, err)
	}

	sub := &amqpSubscription{
		conn: conn,
		ch:   ch,
		out:  make(chan []byte),
		done: make(chan struct{}),
	}
	go sub.forward(msgs)
	return sub, nil
}

type amqpSubscription struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (s *amqpSubscription) forward(msgs <-chan amqp.Delivery) {
	defer close(s.out)
	for m := range msgs {
		select {
		case s.out <- m.Body:
		case <-s.done:
			return
		}
	}
}

func (s *amqpSubscription) Deliveries() <-chan []byte { return s.out }

func (s *amqpSubscription) Close() error {
	s.once.Do(func() { close(s.done) })
	_ = s.ch.Close()
	if err := s.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	return nil
}

// openChannel dials url, opens a channel and declares queue (idempotent).
func openChannel(url, queue string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: connect to RabbitMQ: %v", ErrUnavailable, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("%w: open channel: %v", ErrUnavailable, err)
	}

	_, err = ch.QueueDeclare(
		queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("%w: declare queue %s: %v", ErrUnavailable, queue, err)
	}
	return conn, ch, nil
}
